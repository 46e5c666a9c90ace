package cricsheet

// Table is a rectangular record set. Columns are in first-seen order across
// the records that built it; every row is aligned to Columns and carries nil
// where a record had no value for a column.
type Table struct {
	Name    string
	Family  Family
	Columns []string
	Rows    [][]any
}

// Column returns the index of the named column, or -1.
func (t *Table) Column(name string) int {
	for i, c := range t.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

// Value returns the value at row i for the named column. ok is false when the
// column does not exist.
func (t *Table) Value(i int, name string) (v any, ok bool) {
	j := t.Column(name)
	if j < 0 {
		return nil, false
	}
	return t.Rows[i][j], true
}

func assemble(name string, family Family, recs []record) *Table {
	t := &Table{Name: name, Family: family}

	pos := make(map[string]int)
	for _, r := range recs {
		for _, c := range r.cols {
			if _, seen := pos[c]; !seen {
				pos[c] = len(t.Columns)
				t.Columns = append(t.Columns, c)
			}
		}
	}

	t.Rows = make([][]any, len(recs))
	for i, r := range recs {
		row := make([]any, len(t.Columns))
		for j, c := range r.cols {
			row[pos[c]] = r.vals[j]
		}
		t.Rows[i] = row
	}
	return t
}

// TableSet maps table names to tables for one format. Only non-empty families
// are present.
type TableSet struct {
	Format string

	tables map[string]*Table
	names  []string
}

func newTableSet(format string) *TableSet {
	return &TableSet{Format: format, tables: make(map[string]*Table)}
}

func (s *TableSet) add(t *Table) {
	if _, exists := s.tables[t.Name]; !exists {
		s.names = append(s.names, t.Name)
	}
	s.tables[t.Name] = t
}

// Names returns the table names in family order.
func (s *TableSet) Names() []string {
	if s == nil {
		return nil
	}
	return append([]string(nil), s.names...)
}

// Table returns the named table.
func (s *TableSet) Table(name string) (*Table, bool) {
	if s == nil {
		return nil, false
	}
	t, ok := s.tables[name]
	return t, ok
}

// Tables returns the tables in family order.
func (s *TableSet) Tables() []*Table {
	if s == nil {
		return nil
	}
	out := make([]*Table, 0, len(s.names))
	for _, n := range s.names {
		out = append(out, s.tables[n])
	}
	return out
}

// Len returns the number of tables.
func (s *TableSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.names)
}

// Rows returns the total row count across all tables.
func (s *TableSet) Rows() int {
	n := 0
	for _, t := range s.Tables() {
		n += len(t.Rows)
	}
	return n
}
