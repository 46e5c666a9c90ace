// Package cricsheet turns ball-by-ball match documents into relational tables.
//
// A Document is format-agnostic. Each Format describes which documents it
// accepts and which columns it projects; a Flattener applies one Format to a
// sequence of documents and assembles the resulting records into a TableSet.
package cricsheet

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ErrMalformed marks a document whose structure cannot be flattened, such as a
// list where an object is expected. Absent fields are never malformed.
var ErrMalformed = errors.New("malformed document")

// Document is one parsed match record. Numbers are usually json.Number values
// produced by a decoder with UseNumber enabled.
type Document map[string]any

// Text returns the scalar at path rendered as text, or "" when the path is
// absent or does not hold a scalar. It never fails and is meant for
// classification and logging, not projection.
func (d Document) Text(path ...string) string {
	v, ok, err := lookup(d, path)
	if err != nil || !ok {
		return ""
	}
	s, err := asText(v)
	if err != nil {
		return ""
	}
	return s
}

// lookup walks path through nested objects.
//
// ok is false when any step is absent or JSON null. A present intermediate
// value that is not an object is an ErrMalformed error.
func lookup(obj map[string]any, path []string) (any, bool, error) {
	var cur any = obj
	for i, key := range path {
		m, isObj := cur.(map[string]any)
		if !isObj {
			return nil, false, fmt.Errorf("%w: %s is %s, want object", ErrMalformed, strings.Join(path[:i], "."), kindOf(cur))
		}
		v, ok := m[key]
		if !ok || v == nil {
			return nil, false, nil
		}
		cur = v
	}
	return cur, true, nil
}

// listAt returns the list stored under key. Absent or null keys yield a nil
// list.
func listAt(obj map[string]any, key string) ([]any, error) {
	v, ok := obj[key]
	if !ok || v == nil {
		return nil, nil
	}
	l, isList := v.([]any)
	if !isList {
		return nil, fmt.Errorf("%w: %s is %s, want list", ErrMalformed, key, kindOf(v))
	}
	return l, nil
}

// objectAt asserts that v, found at where, is an object.
func objectAt(v any, where string) (map[string]any, error) {
	m, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: %s is %s, want object", ErrMalformed, where, kindOf(v))
	}
	return m, nil
}

func asText(v any) (string, error) {
	switch t := v.(type) {
	case string:
		return t, nil
	case json.Number:
		return t.String(), nil
	case bool:
		return strconv.FormatBool(t), nil
	case int:
		return strconv.Itoa(t), nil
	case int64:
		return strconv.FormatInt(t, 10), nil
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), nil
	default:
		return "", fmt.Errorf("%w: got %s, want text", ErrMalformed, kindOf(v))
	}
}

func asInteger(v any) (int64, error) {
	switch t := v.(type) {
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return n, nil
		}
		f, err := t.Float64()
		if err != nil {
			return 0, fmt.Errorf("%w: %q is not a number", ErrMalformed, t)
		}
		return integral(f)
	case int:
		return int64(t), nil
	case int64:
		return t, nil
	case float64:
		return integral(t)
	case string:
		s := strings.TrimSpace(t)
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return n, nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q is not an integer", ErrMalformed, t)
		}
		return integral(f)
	default:
		return 0, fmt.Errorf("%w: got %s, want integer", ErrMalformed, kindOf(v))
	}
}

func integral(f float64) (int64, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return 0, fmt.Errorf("%w: %v is not an integer", ErrMalformed, f)
	}
	return int64(f), nil
}

func asFloat(v any) (float64, error) {
	switch t := v.(type) {
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return 0, fmt.Errorf("%w: %q is not a number", ErrMalformed, t)
		}
		return f, nil
	case int:
		return float64(t), nil
	case int64:
		return float64(t), nil
	case float64:
		return t, nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q is not a number", ErrMalformed, t)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("%w: got %s, want number", ErrMalformed, kindOf(v))
	}
}

// truthy reports whether v counts as set: non-zero numbers, non-empty text,
// non-empty containers and true.
func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case json.Number:
		f, err := t.Float64()
		return err != nil || f != 0
	case int:
		return t != 0
	case int64:
		return t != 0
	case float64:
		return t != 0
	case []any:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	default:
		return true
	}
}

func kindOf(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case map[string]any:
		return "object"
	case []any:
		return "list"
	case string:
		return "text"
	case bool:
		return "boolean"
	case json.Number, int, int64, float64:
		return "number"
	default:
		return fmt.Sprintf("%T", v)
	}
}
