package pipeline

import (
	"archive/zip"
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

type member struct {
	name string
	body string
}

func writeZip(t *testing.T, dir, name string, members ...member) string {
	t.Helper()
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", path, err)
	}
	zw := zip.NewWriter(f)
	for _, m := range members {
		w, err := zw.Create(m.name)
		if err != nil {
			t.Fatalf("zip create %s: %v", m.name, err)
		}
		if _, err := w.Write([]byte(m.body)); err != nil {
			t.Fatalf("zip write %s: %v", m.name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zip close: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close %s: %v", path, err)
	}
	return path
}

// limitedOversDoc is a one-innings document with two deliveries in one over,
// the second taking a wicket.
func limitedOversDoc(matchType, event, date string) string {
	return fmt.Sprintf(`{
  "meta": {"data_version": "1.1.0", "created": "2024-01-01", "revision": 2},
  "info": {
    "match_type": %q,
    "event": {"name": %q},
    "teams": ["Alpha", "Beta"],
    "dates": [%q],
    "outcome": {"winner": "Alpha", "by": {"runs": 12}}
  },
  "innings": [{
    "team": "Alpha",
    "overs": [{"over": 0, "deliveries": [
      {"batter": "A1", "bowler": "B1", "non_striker": "A2", "runs": {"batter": 4, "extras": 0, "total": 4}},
      {"batter": "A1", "bowler": "B1", "non_striker": "A2", "runs": {"batter": 0, "extras": 0, "total": 0},
       "wickets": [{"player_out": "A1", "kind": "caught", "fielders": [{"name": "B2"}]}]}
    ]}]
  }]
}`, matchType, event, date)
}
