package storage

import (
	"encoding/json"
	"math"
	"strings"
	"unicode"
)

// CleanIdentifier makes a table or column name safe to embed in SQL: every
// rune that is not a letter or digit becomes '_'. A leading digit gets a '_'
// prefix.
func CleanIdentifier(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range strings.TrimSpace(name) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			continue
		}
		b.WriteByte('_')
	}
	out := b.String()
	if out == "" {
		return "_"
	}
	if unicode.IsDigit(rune(out[0])) {
		out = "_" + out
	}
	return out
}

// NormalizeValue converts a cell value to something every driver accepts:
// json.Number becomes int64 or float64, and NaN or infinite floats become nil.
func NormalizeValue(v any) any {
	switch t := v.(type) {
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return n
		}
		f, err := t.Float64()
		if err != nil {
			return t.String()
		}
		return NormalizeValue(f)
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return nil
		}
		return t
	case float32:
		return NormalizeValue(float64(t))
	case int:
		return int64(t)
	default:
		return v
	}
}

// NormalizeRows returns a copy of rows with NormalizeValue applied to every
// cell.
func NormalizeRows(rows [][]any) [][]any {
	out := make([][]any, len(rows))
	for i, row := range rows {
		r := make([]any, len(row))
		for j, v := range row {
			r[j] = NormalizeValue(v)
		}
		out[i] = r
	}
	return out
}

// RowsPerStatement returns how many rows of ncols parameters fit in one
// statement when the driver accepts at most maxParams bind parameters.
func RowsPerStatement(maxParams, ncols int) int {
	if ncols < 1 {
		ncols = 1
	}
	n := maxParams / ncols
	if n < 1 {
		n = 1
	}
	return n
}

// Chunk splits rows into consecutive slices of at most size rows.
func Chunk(rows [][]any, size int) [][][]any {
	if size < 1 {
		size = 1
	}
	var out [][][]any
	for start := 0; start < len(rows); start += size {
		end := start + size
		if end > len(rows) {
			end = len(rows)
		}
		out = append(out, rows[start:end])
	}
	return out
}
