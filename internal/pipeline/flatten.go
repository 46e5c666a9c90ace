// Package pipeline wires the archive scanner, document extractor and
// flattener into per-format runs, and hands the resulting tables to a
// storage backend.
package pipeline

import (
	"context"
	"errors"
	"io"
	"log"
	"time"

	"cricsheet/internal/archive"
	"cricsheet/internal/cricsheet"
	"cricsheet/internal/metrics"
)

// Logger is the minimal logging interface used by the pipeline.
// *log.Logger satisfies this interface.
type Logger interface {
	Printf(format string, v ...any)
}

func logfOf(l Logger) func(format string, v ...any) {
	if l == nil {
		return log.New(io.Discard, "", 0).Printf
	}
	return l.Printf
}

// Result is the outcome of flattening one format.
type Result struct {
	Format cricsheet.Format
	// Archive is the archive path, or "" when none was found.
	Archive string
	Tables  *cricsheet.TableSet

	Warnings []cricsheet.Warning

	// Documents counts every document extracted from the archive. Each one
	// is either Included, Excluded (another format) or Malformed.
	Documents int
	Included  int
	Excluded  int
	Malformed int

	Duration time.Duration
}

// FlattenFormat scans dir for f's archive, extracts its documents and
// flattens them in member order.
//
// Every recoverable problem becomes a warning on the result: a missing or
// unreadable archive yields an empty table set, a member that does not parse
// is skipped, a malformed document contributes no rows, and a document that
// reuses an earlier match id is kept but reported. The returned
// error is non-nil only when ctx is done.
func FlattenFormat(ctx context.Context, dir string, f cricsheet.Format, logger Logger) (Result, error) {
	logf := logfOf(logger)
	start := time.Now()

	res := Result{Format: f}
	fl := cricsheet.NewFlattener(f)

	finish := func(err error) (Result, error) {
		res.Tables = fl.Tables()
		res.Duration = time.Since(start)
		for _, w := range res.Warnings {
			logf("stage=%s format=%s source=%s err=%v", w.Stage, f.Name, w.Source, w.Err)
		}
		metrics.RecordDocuments(f.Name, "included", res.Included)
		metrics.RecordDocuments(f.Name, "excluded", res.Excluded)
		metrics.RecordDocuments(f.Name, "malformed", res.Malformed)
		metrics.RecordStep("flatten", err, res.Duration)
		logf("stage=flatten format=%s archive=%q documents=%d included=%d excluded=%d malformed=%d tables=%d rows=%d duration=%s",
			f.Name, res.Archive, res.Documents, res.Included, res.Excluded, res.Malformed,
			res.Tables.Len(), res.Tables.Rows(), res.Duration.Truncate(time.Millisecond))
		return res, err
	}

	path, err := archive.FindArchive(dir, f.Token)
	if err != nil {
		stage := "scan"
		if errors.Is(err, archive.ErrNotFound) {
			stage = "not_found"
		}
		res.Warnings = append(res.Warnings, cricsheet.Warning{Stage: stage, Source: dir, Err: err})
		return finish(nil)
	}
	res.Archive = path

	batch, err := archive.ExtractFile(ctx, path)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return finish(ctxErr)
		}
		res.Warnings = append(res.Warnings, cricsheet.Warning{Stage: "extract", Source: path, Err: err})
		return finish(nil)
	}
	res.Warnings = append(res.Warnings, batch.Warnings...)
	res.Documents = len(batch.Documents)

	for i, doc := range batch.Documents {
		if i%256 == 0 {
			if err := ctx.Err(); err != nil {
				return finish(err)
			}
		}
		included, err := fl.Add(doc)
		switch {
		case errors.Is(err, cricsheet.ErrDuplicateMatchID):
			res.Included++
			res.Warnings = append(res.Warnings, cricsheet.Warning{Stage: cricsheet.StageOf(err), Source: batch.Source(i), Err: err})
		case err != nil:
			res.Malformed++
			res.Warnings = append(res.Warnings, cricsheet.Warning{Stage: "flatten", Source: batch.Source(i), Err: err})
		case included:
			res.Included++
		default:
			res.Excluded++
		}
	}
	return finish(nil)
}
