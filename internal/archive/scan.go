// Package archive locates per-format zip archives on disk and extracts the
// match documents they contain.
package archive

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/text/cases"
)

// Ext is the archive file extension.
const Ext = ".zip"

// ErrNotFound is returned by FindArchive when no archive matches a token.
var ErrNotFound = errors.New("archive: not found")

// FindArchive returns the path of the first regular file in dir whose name
// ends in ".zip" and contains token under Unicode case folding.
// Subdirectories are not searched. Entries are considered in file name order.
//
// A missing dir is reported as ErrNotFound; other read errors are returned
// as-is.
func FindArchive(dir, token string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%w: directory %s does not exist", ErrNotFound, dir)
		}
		return "", fmt.Errorf("archive: read dir %s: %w", dir, err)
	}

	fold := cases.Fold()
	want := fold.String(token)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasSuffix(name, Ext) {
			continue
		}
		if strings.Contains(fold.String(name), want) {
			return filepath.Join(dir, name), nil
		}
	}
	return "", fmt.Errorf("%w: no %s archive matching %q in %s", ErrNotFound, Ext, token, dir)
}
