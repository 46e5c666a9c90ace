package archive

import (
	"archive/zip"
	"context"
	"fmt"
	"strings"

	"cricsheet/internal/cricsheet"
	jsonparser "cricsheet/internal/parser/json"
)

// DocExt is the extension of document members inside an archive.
const DocExt = ".json"

// Batch is everything extracted from one archive, in member order.
type Batch struct {
	// Documents and Sources are parallel: Sources[i] names the member (and
	// element, for list members) Documents[i] came from.
	Documents []cricsheet.Document
	Sources   []string

	// Members counts document members read, including skipped ones.
	Members  int
	Warnings []cricsheet.Warning
}

// Source returns the source name of document i.
func (b *Batch) Source(i int) string { return b.Sources[i] }

// Extract reads every member of zr whose name ends in ".json", in archive
// order, and parses each as one document or a list of documents.
//
// A member that cannot be opened or parsed is skipped whole and reported as a
// warning. A list element that is not an object is skipped and reported; the
// rest of its member is kept. Only ctx cancellation returns an error.
func Extract(ctx context.Context, zr *zip.Reader) (*Batch, error) {
	b := &Batch{}
	for _, f := range zr.File {
		if err := ctx.Err(); err != nil {
			return b, err
		}
		if f.FileInfo().IsDir() || !strings.HasSuffix(f.Name, DocExt) {
			continue
		}
		b.Members++

		docs, skipped, err := readMember(ctx, f)
		if err != nil {
			b.Warnings = append(b.Warnings, cricsheet.Warning{Stage: "extract", Source: f.Name, Err: err})
			continue
		}
		for _, e := range skipped {
			b.Warnings = append(b.Warnings, cricsheet.Warning{Stage: "extract", Source: f.Name, Err: e})
		}
		for i, d := range docs {
			src := f.Name
			if len(docs) > 1 {
				src = fmt.Sprintf("%s[%d]", f.Name, i)
			}
			b.Documents = append(b.Documents, cricsheet.Document(d))
			b.Sources = append(b.Sources, src)
		}
	}
	return b, nil
}

func readMember(ctx context.Context, f *zip.File) ([]map[string]any, []error, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, nil, fmt.Errorf("open member: %w", err)
	}
	defer rc.Close()

	docs, skipped, err := jsonparser.DecodeDocuments(ctx, rc)
	if err != nil {
		return nil, nil, fmt.Errorf("parse member: %w", err)
	}
	return docs, skipped, nil
}

// ExtractFile opens the zip archive at path and extracts it.
func ExtractFile(ctx context.Context, path string) (*Batch, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("archive: open %s: %w", path, err)
	}
	defer zr.Close()

	return Extract(ctx, &zr.Reader)
}
