package storage

// Logical column types. Backends map them to concrete SQL types.
const (
	TypeText    = "text"
	TypeInteger = "integer"
	TypeFloat   = "float"
	TypeBoolean = "boolean"
)

// Load modes.
const (
	// ModeReplace empties each table before loading it.
	ModeReplace = "replace"
	// ModeAppend keeps existing rows and relies on key dedupe.
	ModeAppend = "append"
)

type TableSpec struct {
	Name            string           `json:"name"`
	AutoCreateTable bool             `json:"auto_create_table"`
	Columns         []ColumnSpec     `json:"columns"`
	Constraints     []ConstraintSpec `json:"constraints,omitempty"`
	Load            LoadSpec         `json:"load"`
}

type ColumnSpec struct {
	Name     string `json:"name"`
	Type     string `json:"type"` // logical type: text | integer | float | boolean
	Nullable *bool  `json:"nullable,omitempty"`
}

type ConstraintSpec struct {
	Kind    string   `json:"kind"` // "unique"
	Columns []string `json:"columns"`
}

type LoadSpec struct {
	Mode   string      `json:"mode"` // "replace" | "append"
	Dedupe *DedupeSpec `json:"dedupe,omitempty"`
}

type DedupeSpec struct {
	ConflictColumns []string `json:"conflict_columns"`
	Action          string   `json:"action"` // "do_nothing"
}

// KeyColumns returns the set of columns that take part in a UNIQUE constraint.
func (t TableSpec) KeyColumns() map[string]bool {
	out := make(map[string]bool)
	for _, c := range t.Constraints {
		for _, col := range c.Columns {
			out[col] = true
		}
	}
	return out
}

// DedupeColumns returns the conflict columns of the load spec, or nil.
func (t TableSpec) DedupeColumns() []string {
	if t.Load.Dedupe == nil {
		return nil
	}
	return t.Load.Dedupe.ConflictColumns
}

// IsNullable reports the effective nullability of c. Columns are nullable unless
// declared otherwise.
func (c ColumnSpec) IsNullable() bool {
	return c.Nullable == nil || *c.Nullable
}
