// Package all registers every storage backend. Import it for side effects.
package all

import (
	_ "github.com/microsoft/go-mssqldb"

	_ "cricsheet/internal/storage/mssql"
	_ "cricsheet/internal/storage/postgres"
	_ "cricsheet/internal/storage/sqlite"
)
