// Package probe samples a match archive and reports how its documents would
// be routed to formats and which info fields they carry.
//
// Sampling is bounded by member count. Inference is best-effort: unreadable
// members are counted as warnings and never fail the probe.
package probe

import (
	"archive/zip"
	"context"
	"fmt"
	"sort"
	"strings"

	"cricsheet/internal/archive"
	"cricsheet/internal/cricsheet"
)

// DefaultSample is the number of archive members read when Options.Sample is
// not set.
const DefaultSample = 200

// distinctCapPerKey bounds the distinct-value set tracked per key.
const distinctCapPerKey = 1000

// Options control sampling.
type Options struct {
	// Sample is the maximum number of JSON members read. <= 0 means DefaultSample.
	Sample int
	// Formats are tried in order for routing. nil means cricsheet.Formats().
	Formats []cricsheet.Format
}

// KeyStats describes one dotted info key across the sample.
type KeyStats struct {
	Key      string
	Present  int
	Distinct int
	Capped   bool
}

// Report is the outcome of a probe.
type Report struct {
	Archive  string
	Members  int
	Sampled  int
	Warnings []cricsheet.Warning

	// MatchTypes counts info.match_type values ("" when absent).
	MatchTypes map[string]int
	// Routing counts, per format name, the sampled documents it includes.
	Routing map[string]int
	// Unrouted counts documents no format includes.
	Unrouted int

	Keys []KeyStats
}

// Archive samples the zip archive at path.
func Archive(ctx context.Context, path string, opt Options) (Report, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return Report{}, fmt.Errorf("probe: open %s: %w", path, err)
	}
	defer zr.Close()

	limit := opt.Sample
	if limit <= 0 {
		limit = DefaultSample
	}

	var members []*zip.File
	total := 0
	for _, f := range zr.File {
		if f.FileInfo().IsDir() || !strings.HasSuffix(f.Name, archive.DocExt) {
			continue
		}
		total++
		if len(members) < limit {
			members = append(members, f)
		}
	}

	batch, err := archive.Extract(ctx, &zip.Reader{File: members})
	if err != nil {
		return Report{}, fmt.Errorf("probe: %w", err)
	}

	r := Sample(batch.Documents, opt)
	r.Archive = path
	r.Members = total
	r.Warnings = append(batch.Warnings, r.Warnings...)
	return r, nil
}

// Sample builds a report from already parsed documents.
func Sample(docs []cricsheet.Document, opt Options) Report {
	formats := opt.Formats
	if formats == nil {
		formats = cricsheet.Formats()
	}

	r := Report{
		Sampled:    len(docs),
		MatchTypes: map[string]int{},
		Routing:    map[string]int{},
	}

	present := map[string]int{}
	sets := map[string]map[string]struct{}{}
	capped := map[string]bool{}

	for _, doc := range docs {
		r.MatchTypes[doc.Text("info", "match_type")]++

		routed := false
		for _, f := range formats {
			if f.Include != nil && f.Include(doc) {
				r.Routing[f.Name]++
				routed = true
			}
		}
		if !routed {
			r.Unrouted++
		}

		info, ok := doc["info"].(map[string]any)
		if !ok {
			continue
		}
		fields := map[string]string{}
		flattenValue("", info, fields)
		for k, v := range fields {
			present[k]++
			if capped[k] {
				continue
			}
			set := sets[k]
			if set == nil {
				set = map[string]struct{}{}
				sets[k] = set
			}
			set[v] = struct{}{}
			if len(set) >= distinctCapPerKey {
				capped[k] = true
				delete(sets, k)
			}
		}
	}

	for k, n := range present {
		ks := KeyStats{Key: k, Present: n, Capped: capped[k]}
		if ks.Capped {
			ks.Distinct = distinctCapPerKey
		} else {
			ks.Distinct = len(sets[k])
		}
		r.Keys = append(r.Keys, ks)
	}
	sort.Slice(r.Keys, func(i, j int) bool { return r.Keys[i].Key < r.Keys[j].Key })
	return r
}

// flattenValue writes every scalar under v into out keyed by dotted path.
// Lists of scalars are joined; lists of objects are walked under "key[]".
func flattenValue(key string, v any, out map[string]string) {
	switch t := v.(type) {
	case map[string]any:
		for k, child := range t {
			flattenValue(joinKey(key, k), child, out)
		}
	case []any:
		var scalars []string
		for _, item := range t {
			switch item.(type) {
			case map[string]any, []any:
				flattenValue(key+"[]", item, out)
			default:
				scalars = append(scalars, scalarText(item))
			}
		}
		if len(scalars) > 0 {
			out[key] = strings.Join(scalars, ", ")
		}
	case nil:
	default:
		if s := scalarText(t); s != "" {
			out[key] = s
		}
	}
}

func joinKey(prefix, k string) string {
	if prefix == "" {
		return k
	}
	return prefix + "." + k
}

func scalarText(v any) string {
	return cricsheet.Document{"v": v}.Text("v")
}

// String renders the report as tab-separated text.
func (r Report) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "archive=%s members=%d sampled=%d warnings=%d\n", r.Archive, r.Members, r.Sampled, len(r.Warnings))

	types := make([]string, 0, len(r.MatchTypes))
	for t := range r.MatchTypes {
		types = append(types, t)
	}
	sort.Strings(types)
	for _, t := range types {
		name := t
		if name == "" {
			name = "(none)"
		}
		fmt.Fprintf(&b, "match_type=%s\tdocuments=%d\n", name, r.MatchTypes[t])
	}

	names := make([]string, 0, len(r.Routing))
	for n := range r.Routing {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		fmt.Fprintf(&b, "format=%s\tincluded=%d\n", n, r.Routing[n])
	}
	fmt.Fprintf(&b, "unrouted=%d\n", r.Unrouted)

	if len(r.Keys) == 0 {
		return strings.TrimRight(b.String(), "\n")
	}
	fmt.Fprintf(&b, "%-30s\t%-7s\t%-7s\tcapped\n", "key", "present", "unique")
	for _, k := range r.Keys {
		fmt.Fprintf(&b, "%-30s\t%-7d\t%-7d\t%t\n", k.Key, k.Present, k.Distinct, k.Capped)
	}
	return strings.TrimRight(b.String(), "\n")
}
