package pipeline

import (
	"context"
	"fmt"
	"time"

	"cricsheet/internal/config"
	"cricsheet/internal/cricsheet"
	"cricsheet/internal/metrics"
	"cricsheet/internal/storage"
)

// LoadOptions control how tables are written.
type LoadOptions struct {
	// Mode is storage.ModeReplace (default) or storage.ModeAppend.
	Mode       string
	AutoCreate bool
	// BatchSize is the number of rows per InsertRows call.
	BatchSize int
}

// TableLoad reports one loaded table.
type TableLoad struct {
	Table    string
	Rows     int
	Inserted int64
	// Skipped counts rows not inserted because their natural key already
	// existed, in the table or earlier in the same load.
	Skipped int64
}

// Loader writes TableSets through a storage.Repository.
type Loader struct {
	Repo    storage.Repository
	Options LoadOptions
	Logger  Logger
}

// TableSpecs returns the storage specs of the tables present in set, built
// from f's declared schema. Every declared column is included so the table
// shape does not depend on which optional fields the loaded documents had.
func TableSpecs(f cricsheet.Format, set *cricsheet.TableSet, opts LoadOptions) ([]storage.TableSpec, error) {
	mode := opts.Mode
	if mode == "" {
		mode = storage.ModeReplace
	}

	var out []storage.TableSpec
	for _, name := range set.Names() {
		sch, ok := f.SchemaFor(name)
		if !ok {
			return nil, fmt.Errorf("pipeline: table %s has no declared schema for format %s", name, f.Name)
		}
		out = append(out, tableSpec(sch, mode, opts.AutoCreate))
	}
	return out, nil
}

func tableSpec(sch cricsheet.TableSchema, mode string, autoCreate bool) storage.TableSpec {
	key := make([]string, len(sch.Key))
	isKey := make(map[string]bool, len(sch.Key))
	for i, k := range sch.Key {
		key[i] = storage.CleanIdentifier(k)
		isKey[k] = true
	}

	notNull := false
	cols := make([]storage.ColumnSpec, 0, len(sch.Columns))
	for _, c := range sch.Columns {
		cs := storage.ColumnSpec{Name: storage.CleanIdentifier(c.Name), Type: string(c.Type)}
		// Float key parts (powerplay bounds) may legitimately be missing.
		if isKey[c.Name] && c.Type != cricsheet.TypeFloat {
			cs.Nullable = &notNull
		}
		cols = append(cols, cs)
	}

	return storage.TableSpec{
		Name:            storage.CleanIdentifier(sch.Name),
		AutoCreateTable: autoCreate,
		Columns:         cols,
		Constraints:     []storage.ConstraintSpec{{Kind: "unique", Columns: key}},
		Load: storage.LoadSpec{
			Mode:   mode,
			Dedupe: &storage.DedupeSpec{ConflictColumns: key, Action: "do_nothing"},
		},
	}
}

// Load persists every table of set. Tables are created when missing,
// emptied first in replace mode, and filled in BatchSize batches. Rows whose
// natural key already exists are skipped and counted in TableLoad.Skipped.
func (l *Loader) Load(ctx context.Context, f cricsheet.Format, set *cricsheet.TableSet) (loads []TableLoad, err error) {
	if l.Repo == nil {
		return nil, fmt.Errorf("pipeline: loader has no repository")
	}
	if set.Len() == 0 {
		return nil, nil
	}
	logf := logfOf(l.Logger)
	start := time.Now()
	defer func() { metrics.RecordStep("load", err, time.Since(start)) }()

	specs, err := TableSpecs(f, set, l.Options)
	if err != nil {
		return nil, err
	}

	if err := l.Repo.EnsureTables(ctx, specs); err != nil {
		return nil, fmt.Errorf("pipeline: ensure tables for %s: %w", f.Name, err)
	}

	mode := specs[0].Load.Mode
	if mode == storage.ModeReplace {
		names := make([]string, len(specs))
		for i, s := range specs {
			names[i] = s.Name
		}
		if err := l.Repo.TruncateTables(ctx, names); err != nil {
			return nil, fmt.Errorf("pipeline: truncate %s tables: %w", f.Name, err)
		}
	}

	batchSize := l.Options.BatchSize
	if batchSize <= 0 {
		batchSize = config.DefaultBatchSize
	}

	for i, t := range set.Tables() {
		spec := specs[i]
		tStart := time.Now()

		cols := make([]string, len(t.Columns))
		for j, c := range t.Columns {
			cols[j] = storage.CleanIdentifier(c)
		}

		var inserted int64
		for _, part := range storage.Chunk(t.Rows, batchSize) {
			n, err := l.Repo.InsertRows(ctx, spec.Name, cols, storage.NormalizeRows(part), spec.DedupeColumns())
			if err != nil {
				return loads, fmt.Errorf("pipeline: load %s: %w", spec.Name, err)
			}
			inserted += n
		}
		skipped := int64(len(t.Rows)) - inserted
		metrics.RecordRows(spec.Name, inserted)
		logf("stage=load table=%s mode=%s rows=%d inserted=%d skipped=%d duration=%s",
			spec.Name, mode, len(t.Rows), inserted, skipped, time.Since(tStart).Truncate(time.Millisecond))
		if skipped > 0 && mode == storage.ModeReplace {
			logf("stage=load table=%s level=warn skipped=%d msg=%q",
				spec.Name, skipped, "rows share a natural key with rows of the same load")
		}
		loads = append(loads, TableLoad{Table: spec.Name, Rows: len(t.Rows), Inserted: inserted, Skipped: skipped})
	}
	return loads, nil
}
