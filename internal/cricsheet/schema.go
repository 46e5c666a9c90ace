package cricsheet

// Family is one of the record families a document is flattened into.
type Family int

const (
	FamilyMatches Family = iota
	FamilyInnings
	FamilyPowerplays
	FamilyOvers
	FamilyDeliveries

	numFamilies
)

var familySuffix = [numFamilies]string{
	FamilyMatches:    "matches",
	FamilyInnings:    "innings",
	FamilyPowerplays: "powerplays",
	FamilyOvers:      "overs",
	FamilyDeliveries: "deliveries",
}

func (f Family) String() string {
	if f < 0 || f >= numFamilies {
		return "unknown"
	}
	return familySuffix[f]
}

// TableName returns the table name of family for this format.
func (f Format) TableName(family Family) string {
	return f.Name + "_" + family.String()
}

// Column is a declared column of a table.
type Column struct {
	Name string
	Type ColumnType
}

// TableSchema declares one table a format can emit: every column it may carry
// and the natural key that identifies a row.
type TableSchema struct {
	Name    string
	Family  Family
	Columns []Column
	Key     []string
}

// Column returns the declared column named name.
func (s TableSchema) Column(name string) (Column, bool) {
	for _, c := range s.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

var (
	matchIDField       = Field{Column: "match_id", Type: TypeText}
	inningsNumberField = Field{Column: "innings_number", Type: TypeInteger}
	teamField          = textField("team", "team")

	powerplayFields = []Field{
		floatField("powerplay_from", "from"),
		floatField("powerplay_to", "to"),
		textField("powerplay_type", "type"),
	}

	overNumberField = intFieldOr("over_number", 0, "over")
	ballNumberField = Field{Column: "ball_number", Type: TypeInteger}

	deliveryFields = []Field{
		textField("batter", "batter"),
		textField("bowler", "bowler"),
		textField("non_striker", "non_striker"),
		intFieldOr("runs_batter", 0, "runs", "batter"),
		intFieldOr("runs_extras", 0, "runs", "extras"),
		intFieldOr("runs_total", 0, "runs", "total"),
		intFieldOr("extras_wides", 0, "extras", "wides"),
		intFieldOr("extras_noballs", 0, "extras", "noballs"),
		intFieldOr("extras_byes", 0, "extras", "byes"),
		intFieldOr("extras_legbyes", 0, "extras", "legbyes"),
		intFieldOr("extras_penalty", 0, "extras", "penalty"),
	}

	wicketFields = []Field{
		textField("wicket_player_out", "player_out"),
		textField("wicket_kind", "kind"),
	}
	wicketFieldersField = Field{Column: "wicket_fielders", Type: TypeText}
)

func columnsOf(fields ...[]Field) []Column {
	var out []Column
	for _, group := range fields {
		for _, f := range group {
			out = append(out, Column{Name: f.Column, Type: f.Type})
		}
	}
	return out
}

// Schema returns the declared schema of every table the format can emit, in
// family order.
func (f Format) Schema() []TableSchema {
	out := []TableSchema{
		{
			Name:    f.TableName(FamilyMatches),
			Family:  FamilyMatches,
			Columns: columnsOf([]Field{matchIDField}, f.MatchFields),
			Key:     []string{"match_id"},
		},
		{
			Name:    f.TableName(FamilyInnings),
			Family:  FamilyInnings,
			Columns: columnsOf([]Field{matchIDField, inningsNumberField, teamField}, f.InningsFields),
			Key:     []string{"match_id", "innings_number"},
		},
	}
	if f.Powerplays {
		out = append(out, TableSchema{
			Name:    f.TableName(FamilyPowerplays),
			Family:  FamilyPowerplays,
			Columns: columnsOf([]Field{matchIDField, inningsNumberField, teamField}, powerplayFields),
			Key:     []string{"match_id", "innings_number", "powerplay_type", "powerplay_from"},
		})
	}
	out = append(out,
		TableSchema{
			Name:    f.TableName(FamilyOvers),
			Family:  FamilyOvers,
			Columns: columnsOf([]Field{matchIDField, inningsNumberField, overNumberField, teamField}),
			Key:     []string{"match_id", "innings_number", "over_number"},
		},
		TableSchema{
			Name:   f.TableName(FamilyDeliveries),
			Family: FamilyDeliveries,
			Columns: columnsOf(
				[]Field{matchIDField, inningsNumberField, overNumberField, ballNumberField, teamField},
				deliveryFields,
				wicketFields,
				[]Field{wicketFieldersField},
			),
			Key: []string{"match_id", "innings_number", "over_number", "ball_number"},
		},
	)
	return out
}

// SchemaFor returns the declared schema of the named table.
func (f Format) SchemaFor(table string) (TableSchema, bool) {
	for _, s := range f.Schema() {
		if s.Name == table {
			return s, true
		}
	}
	return TableSchema{}, false
}
