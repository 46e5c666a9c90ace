// Package json decodes match documents from JSON streams.
package json

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// ErrNotObject is reported for array elements that are not JSON objects.
var ErrNotObject = errors.New("json: element is not an object")

// StreamDocuments parses JSON from r and calls emit once per document.
//
// Streaming behavior:
//   - A root object is one document. Further objects after it (JSONL style)
//     are emitted as additional documents.
//   - A root array streams each element one-by-one. null elements are skipped;
//     non-object elements are reported to onParseErr and skipped.
//
// Numbers are decoded as json.Number so integral values survive exactly.
// index is the 0-based position of the offending value in the stream.
func StreamDocuments(
	ctx context.Context,
	r io.Reader,
	emit func(doc map[string]any) error,
	onParseErr func(index int, err error),
) error {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	index := 0

	tok, err := dec.Token()
	if err != nil {
		if err == io.EOF {
			return nil
		}
		if onParseErr != nil {
			onParseErr(0, err)
		}
		return fmt.Errorf("json: read first token: %w", err)
	}

	d, ok := tok.(json.Delim)
	if !ok {
		return fmt.Errorf("json: unsupported root token %T (want object or array)", tok)
	}

	switch d {
	case '[':
		if err := streamArray(ctx, dec, emit, onParseErr, &index); err != nil {
			return err
		}
		if end, err := dec.Token(); err != nil {
			return fmt.Errorf("json: read array end: %w", err)
		} else if end != json.Delim(']') {
			return fmt.Errorf("json: expected array end ']', got %v", end)
		}

	case '{':
		obj, err := materializeObject(dec)
		if err != nil {
			if onParseErr != nil {
				onParseErr(index, err)
			}
			return err
		}
		index++
		if err := emit(obj); err != nil {
			return err
		}

	default:
		return fmt.Errorf("json: unsupported root delimiter %q", d)
	}

	return streamTrailingObjects(ctx, dec, emit, onParseErr, &index)
}

// DecodeDocuments reads every document in r. Non-object array elements are
// skipped; their errors are returned in skipped.
func DecodeDocuments(ctx context.Context, r io.Reader) (docs []map[string]any, skipped []error, err error) {
	err = StreamDocuments(ctx, r,
		func(doc map[string]any) error {
			docs = append(docs, doc)
			return nil
		},
		func(index int, e error) {
			if errors.Is(e, ErrNotObject) {
				skipped = append(skipped, fmt.Errorf("element %d: %w", index, e))
			}
		},
	)
	return docs, skipped, err
}

func streamTrailingObjects(
	ctx context.Context,
	dec *json.Decoder,
	emit func(map[string]any) error,
	onParseErr func(index int, err error),
	index *int,
) error {
	for {
		var obj map[string]any
		if err := dec.Decode(&obj); err != nil {
			if err == io.EOF {
				return nil
			}
			if onParseErr != nil {
				onParseErr(*index, err)
			}
			return fmt.Errorf("json: decode trailing object: %w", err)
		}
		*index++
		if obj == nil {
			continue
		}
		if err := emit(obj); err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
}

// streamArray streams elements of the current array (after '[' has been consumed).
func streamArray(
	ctx context.Context,
	dec *json.Decoder,
	emit func(map[string]any) error,
	onParseErr func(index int, err error),
	index *int,
) error {
	for dec.More() {
		var raw any
		if err := dec.Decode(&raw); err != nil {
			if onParseErr != nil {
				onParseErr(*index, err)
			}
			return fmt.Errorf("json: decode array element: %w", err)
		}
		i := *index
		*index++

		if raw == nil {
			continue
		}
		obj, ok := raw.(map[string]any)
		if !ok {
			if onParseErr != nil {
				onParseErr(i, fmt.Errorf("%w (got %s)", ErrNotObject, kindOf(raw)))
			}
			continue
		}
		if err := emit(obj); err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
	return nil
}

// materializeObject builds the object whose '{' has already been consumed.
func materializeObject(dec *json.Decoder) (map[string]any, error) {
	m := make(map[string]any)
	for dec.More() {
		kt, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("json: read object key: %w", err)
		}
		k, ok := kt.(string)
		if !ok {
			return nil, fmt.Errorf("json: object key not a string (got %T)", kt)
		}
		var v any
		if err := dec.Decode(&v); err != nil {
			return nil, fmt.Errorf("json: decode value of %q: %w", k, err)
		}
		m[k] = v
	}
	end, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("json: read object end: %w", err)
	}
	if end != json.Delim('}') {
		return nil, fmt.Errorf("json: expected '}', got %v", end)
	}
	return m, nil
}

func kindOf(v any) string {
	switch v.(type) {
	case []any:
		return "array"
	case string:
		return "string"
	case bool:
		return "bool"
	case json.Number:
		return "number"
	default:
		return fmt.Sprintf("%T", v)
	}
}
