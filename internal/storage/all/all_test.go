package all

import (
	"database/sql"
	"reflect"
	"testing"

	"cricsheet/internal/storage"
)

func TestBackendsRegistered(t *testing.T) {
	if got, want := storage.Kinds(), []string{"mssql", "postgres", "sqlite"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("Kinds()=%v, want %v", got, want)
	}

	found := false
	for _, d := range sql.Drivers() {
		if d == "sqlserver" {
			found = true
		}
	}
	if !found {
		t.Fatalf("sqlserver driver not registered: %v", sql.Drivers())
	}
}
