package json

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestStreamDocuments_RootObjectIsOneDocument(t *testing.T) {
	t.Parallel()

	input := `{"info": {"teams": ["A", "B"]}, "innings": [{"team": "A"}, {"team": "B"}]}`
	docs, skipped, err := DecodeDocuments(context.Background(), strings.NewReader(input))
	if err != nil {
		t.Fatalf("DecodeDocuments() err=%v", err)
	}
	if len(skipped) != 0 {
		t.Fatalf("skipped=%v, want none", skipped)
	}
	if len(docs) != 1 {
		t.Fatalf("docs=%d, want 1 (innings array must not be treated as an envelope)", len(docs))
	}
	innings, ok := docs[0]["innings"].([]any)
	if !ok || len(innings) != 2 {
		t.Fatalf("innings=%#v, want 2 elements", docs[0]["innings"])
	}
}

func TestStreamDocuments_NumbersAreJSONNumber(t *testing.T) {
	t.Parallel()

	docs, _, err := DecodeDocuments(context.Background(), strings.NewReader(`{"over": 3, "from": 0.1}`))
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if got, ok := docs[0]["over"].(json.Number); !ok || got.String() != "3" {
		t.Fatalf("over=%#v, want json.Number(3)", docs[0]["over"])
	}
	if got, ok := docs[0]["from"].(json.Number); !ok || got.String() != "0.1" {
		t.Fatalf("from=%#v, want json.Number(0.1)", docs[0]["from"])
	}
}

func TestStreamDocuments_RootArraySkipsNullAndNonObjects(t *testing.T) {
	t.Parallel()

	input := `[
		{"id": "1"},
		null,
		"stray",
		{"id": "2"}
	]
	{"id": "3"}`

	var parseCalls []string
	var ids []string
	err := StreamDocuments(context.Background(), strings.NewReader(input),
		func(doc map[string]any) error {
			ids = append(ids, doc["id"].(string))
			return nil
		},
		func(index int, e error) {
			parseCalls = append(parseCalls, fmt.Sprintf("index=%d err=%s", index, e))
		},
	)
	if err != nil {
		t.Fatalf("StreamDocuments() err=%v", err)
	}
	if got := strings.Join(ids, ","); got != "1,2,3" {
		t.Fatalf("ids=%s, want 1,2,3", got)
	}
	if len(parseCalls) != 1 || !strings.HasPrefix(parseCalls[0], "index=2 ") {
		t.Fatalf("parseCalls=%v, want one call for index 2", parseCalls)
	}
}

func TestDecodeDocuments_CollectsSkippedElements(t *testing.T) {
	t.Parallel()

	docs, skipped, err := DecodeDocuments(context.Background(), strings.NewReader(`[1, {"id": "x"}, [true]]`))
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if len(docs) != 1 {
		t.Fatalf("docs=%d, want 1", len(docs))
	}
	if len(skipped) != 2 {
		t.Fatalf("skipped=%v, want 2", skipped)
	}
	for _, e := range skipped {
		if !errors.Is(e, ErrNotObject) {
			t.Fatalf("skipped err %v does not wrap ErrNotObject", e)
		}
	}
}

func TestStreamDocuments_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
	}{
		{name: "scalar_root", input: `42`},
		{name: "truncated_object", input: `{"id": "1", "info": {`},
		{name: "truncated_array", input: `[{"id": "1"}, {"id"`},
		{name: "bad_trailing", input: `{"id": "1"} {oops}`},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, _, err := DecodeDocuments(context.Background(), strings.NewReader(tc.input))
			if err == nil {
				t.Fatalf("DecodeDocuments(%q) err=nil, want error", tc.input)
			}
		})
	}
}

func TestStreamDocuments_EmptyInput(t *testing.T) {
	t.Parallel()

	docs, _, err := DecodeDocuments(context.Background(), strings.NewReader(""))
	if err != nil || len(docs) != 0 {
		t.Fatalf("docs=%v err=%v, want none", docs, err)
	}
}

func TestStreamDocuments_EmitErrorStops(t *testing.T) {
	t.Parallel()

	stop := errors.New("stop")
	calls := 0
	err := StreamDocuments(context.Background(), strings.NewReader(`[{"a":1},{"a":2}]`),
		func(map[string]any) error {
			calls++
			return stop
		}, nil)
	if !errors.Is(err, stop) {
		t.Fatalf("err=%v, want stop", err)
	}
	if calls != 1 {
		t.Fatalf("calls=%d, want 1", calls)
	}
}

func TestStreamDocuments_ContextCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := StreamDocuments(ctx, strings.NewReader(`[{"a":1},{"a":2}]`),
		func(map[string]any) error { return nil }, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err=%v, want context.Canceled", err)
	}
}
