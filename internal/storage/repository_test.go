package storage

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"reflect"
	"strings"
	"testing"
)

type fakeRepo struct{ closed int }

func (f *fakeRepo) Close()                                          { f.closed++ }
func (f *fakeRepo) EnsureTables(context.Context, []TableSpec) error { return nil }
func (f *fakeRepo) TruncateTables(context.Context, []string) error  { return nil }
func (f *fakeRepo) InsertRows(context.Context, string, []string, [][]any, []string) (int64, error) {
	return 0, nil
}

func TestRegisterAndNew(t *testing.T) {
	want := &fakeRepo{}
	var gotCfg Config
	Register("fake-registry-test", func(_ context.Context, cfg Config) (Repository, error) {
		gotCfg = cfg
		return want, nil
	})

	repo, err := New(context.Background(), Config{Kind: "fake-registry-test", DSN: "mem://x"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if repo != want {
		t.Fatalf("New returned %v, want registered repo", repo)
	}
	if gotCfg.DSN != "mem://x" {
		t.Fatalf("factory got DSN %q", gotCfg.DSN)
	}

	found := false
	for _, k := range Kinds() {
		if k == "fake-registry-test" {
			found = true
		}
	}
	if !found {
		t.Fatalf("Kinds()=%v missing registered kind", Kinds())
	}
}

func TestNew_Errors(t *testing.T) {
	if _, err := New(context.Background(), Config{}); err == nil {
		t.Fatalf("expected error for empty kind")
	}
	_, err := New(context.Background(), Config{Kind: "nope"})
	if err == nil || !strings.Contains(err.Error(), "unsupported storage.kind=nope") {
		t.Fatalf("err=%v, want unsupported kind", err)
	}
}

func TestNew_FactoryErrorPropagates(t *testing.T) {
	boom := errors.New("dial failed")
	Register("fake-failing", func(context.Context, Config) (Repository, error) { return nil, boom })
	if _, err := New(context.Background(), Config{Kind: "fake-failing"}); !errors.Is(err, boom) {
		t.Fatalf("err=%v, want %v", err, boom)
	}
}

func TestRegister_PanicsOnDuplicate(t *testing.T) {
	Register("fake-dup", func(context.Context, Config) (Repository, error) { return &fakeRepo{}, nil })
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic on duplicate registration")
		}
	}()
	Register("fake-dup", func(context.Context, Config) (Repository, error) { return &fakeRepo{}, nil })
}

func TestCleanIdentifier(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"ipl_matches":     "ipl_matches",
		"win by runs":     "win_by_runs",
		"extras.wides":    "extras_wides",
		"1st_innings":     "_1st_innings",
		"":                "_",
		`bad"; DROP x --`: "bad___DROP_x___",
	}
	for in, want := range tests {
		if got := CleanIdentifier(in); got != want {
			t.Fatalf("CleanIdentifier(%q)=%q, want %q", in, got, want)
		}
	}
}

func TestNormalizeRows(t *testing.T) {
	t.Parallel()

	in := [][]any{{json.Number("7"), json.Number("0.5"), math.NaN(), math.Inf(1), 3, "x", nil, true}}
	got := NormalizeRows(in)
	want := [][]any{{int64(7), 0.5, nil, nil, int64(3), "x", nil, true}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("NormalizeRows=%#v, want %#v", got, want)
	}
	if _, ok := in[0][0].(json.Number); !ok {
		t.Fatalf("input was modified")
	}
}

func TestRowsPerStatementAndChunk(t *testing.T) {
	t.Parallel()

	if got := RowsPerStatement(2000, 21); got != 95 {
		t.Fatalf("RowsPerStatement(2000,21)=%d, want 95", got)
	}
	if got := RowsPerStatement(10, 50); got != 1 {
		t.Fatalf("RowsPerStatement(10,50)=%d, want 1", got)
	}

	rows := make([][]any, 7)
	chunks := Chunk(rows, 3)
	if len(chunks) != 3 || len(chunks[0]) != 3 || len(chunks[2]) != 1 {
		t.Fatalf("Chunk sizes wrong: %d chunks", len(chunks))
	}
	if len(Chunk(nil, 3)) != 0 {
		t.Fatalf("Chunk(nil) should be empty")
	}
}

func TestTableSpecHelpers(t *testing.T) {
	t.Parallel()

	no := false
	spec := TableSpec{
		Name:        "odi_overs",
		Columns:     []ColumnSpec{{Name: "match_id", Type: TypeText, Nullable: &no}, {Name: "team", Type: TypeText}},
		Constraints: []ConstraintSpec{{Kind: "unique", Columns: []string{"match_id", "innings_number"}}},
		Load:        LoadSpec{Mode: ModeAppend, Dedupe: &DedupeSpec{ConflictColumns: []string{"match_id"}}},
	}
	if keys := spec.KeyColumns(); !keys["match_id"] || !keys["innings_number"] || keys["team"] {
		t.Fatalf("KeyColumns()=%v", keys)
	}
	if got := spec.DedupeColumns(); !reflect.DeepEqual(got, []string{"match_id"}) {
		t.Fatalf("DedupeColumns()=%v", got)
	}
	if spec.Columns[0].IsNullable() || !spec.Columns[1].IsNullable() {
		t.Fatalf("IsNullable mismatch")
	}
}
