package cricsheet

import (
	"fmt"
	"strings"

	"golang.org/x/text/cases"
)

// ColumnType is the logical type of a projected column. Storage backends map
// it to a concrete SQL type.
type ColumnType string

const (
	TypeText    ColumnType = "text"
	TypeInteger ColumnType = "integer"
	TypeFloat   ColumnType = "float"
	TypeBoolean ColumnType = "boolean"
)

// FlagEncoding selects how the declared/forfeited innings flags are read.
type FlagEncoding string

const (
	// FlagKeyPresence sets the flag when the key exists on the innings,
	// whatever its value.
	FlagKeyPresence FlagEncoding = "key_presence"
	// FlagValue sets the flag from the truthiness of the key's value.
	FlagValue FlagEncoding = "value"
)

// ParseFlagEncoding accepts "key_presence" (the default when s is empty) or
// "value".
func ParseFlagEncoding(s string) (FlagEncoding, error) {
	switch FlagEncoding(strings.TrimSpace(strings.ToLower(s))) {
	case "", FlagKeyPresence:
		return FlagKeyPresence, nil
	case FlagValue:
		return FlagValue, nil
	default:
		return "", fmt.Errorf("cricsheet: unknown flag encoding %q (want key_presence or value)", s)
	}
}

// FieldKind selects how a Field reads its source.
type FieldKind int

const (
	// KindValue reads the scalar at Path, falling back to Default.
	KindValue FieldKind = iota
	// KindElement reads item Index of the list at Path, falling back to Default.
	KindElement
	// KindJoin reads the list of text at Path and joins it with ", ".
	KindJoin
	// KindTruthy reports whether the value at Path is set.
	KindTruthy
	// KindFlag is a declared/forfeited style flag read per FlagEncoding.
	KindFlag
)

// Field projects one column out of a document section.
type Field struct {
	Column  string
	Type    ColumnType
	Kind    FieldKind
	Path    []string
	Index   int
	Default any
}

func textField(col string, path ...string) Field {
	return Field{Column: col, Type: TypeText, Path: path, Default: ""}
}

func textFieldOr(col, def string, path ...string) Field {
	return Field{Column: col, Type: TypeText, Path: path, Default: def}
}

func intField(col string, path ...string) Field {
	return Field{Column: col, Type: TypeInteger, Path: path}
}

func intFieldOr(col string, def int64, path ...string) Field {
	return Field{Column: col, Type: TypeInteger, Path: path, Default: def}
}

func floatField(col string, path ...string) Field {
	return Field{Column: col, Type: TypeFloat, Path: path}
}

func elementField(col string, index int, path ...string) Field {
	return Field{Column: col, Type: TypeText, Kind: KindElement, Path: path, Index: index, Default: ""}
}

func joinField(col string, path ...string) Field {
	return Field{Column: col, Type: TypeText, Kind: KindJoin, Path: path, Default: ""}
}

func truthyField(col string, path ...string) Field {
	return Field{Column: col, Type: TypeBoolean, Kind: KindTruthy, Path: path, Default: false}
}

func flagField(col string, key string) Field {
	return Field{Column: col, Type: TypeBoolean, Kind: KindFlag, Path: []string{key}, Default: false}
}

// Format is the configuration record for one match format: which documents
// it accepts and which match and innings columns it projects. Over and
// delivery columns are shared by every format.
type Format struct {
	// Name prefixes every table name, e.g. "ipl" gives "ipl_matches".
	Name string
	// Token is matched case-insensitively against archive file names.
	Token string
	// Category is the catalog section label the archive is published under.
	Category string

	Include func(Document) bool

	MatchFields   []Field
	InningsFields []Field

	// Powerplays enables the powerplays family.
	Powerplays bool

	FlagEncoding FlagEncoding
}

// WithFlagEncoding returns a copy of f reading flags with enc.
func (f Format) WithFlagEncoding(enc FlagEncoding) Format {
	f.FlagEncoding = enc
	return f
}

func (f Format) flagEncoding() FlagEncoding {
	if f.FlagEncoding == "" {
		return FlagKeyPresence
	}
	return f.FlagEncoding
}

// foldEqual compares strings under Unicode case folding.
func foldEqual(a, b string) bool {
	return cases.Fold().String(a) == cases.Fold().String(b)
}

const iplEventName = "Indian Premier League"

func matchTypeIs(want string) func(Document) bool {
	return func(d Document) bool {
		return foldEqual(d.Text("info", "match_type"), want)
	}
}

func isIPL(d Document) bool {
	return strings.Contains(d.Text("info", "event", "name"), iplEventName)
}

// commonHead are the leading match columns every format shares.
func commonHead() []Field {
	return []Field{
		textField("data_version", "meta", "data_version"),
		textField("created", "meta", "created"),
	}
}

func venueAndDate() []Field {
	return []Field{
		textField("city", "info", "city"),
		textField("venue", "info", "venue"),
		elementField("date", 0, "info", "dates"),
		textField("season", "info", "season"),
		textField("match_type", "info", "match_type"),
	}
}

func teams() []Field {
	return []Field{
		elementField("team1", 0, "info", "teams"),
		elementField("team2", 1, "info", "teams"),
	}
}

func toss() []Field {
	return []Field{
		textField("toss_winner", "info", "toss", "winner"),
		textField("toss_decision", "info", "toss", "decision"),
	}
}

func targetFields() []Field {
	return []Field{
		intField("target_runs", "target", "runs"),
		floatField("target_overs", "target", "overs"),
	}
}

func concat(groups ...[]Field) []Field {
	var out []Field
	for _, g := range groups {
		out = append(out, g...)
	}
	return out
}

// Test returns the multi-day Test match format.
func Test() Format {
	return Format{
		Name:     "test",
		Token:    "test",
		Category: "Test matches",
		Include:  matchTypeIs("TEST"),
		MatchFields: concat(
			commonHead(),
			venueAndDate(),
			[]Field{
				intField("match_type_number", "info", "match_type_number"),
				intFieldOr("balls_per_over", 6, "info", "balls_per_over"),
			},
			teams(),
			toss(),
			[]Field{
				textField("outcome_result", "info", "outcome", "result"),
				textField("outcome_winner", "info", "outcome", "winner"),
				intField("outcome_by_innings", "info", "outcome", "by", "innings"),
				intField("outcome_by_runs", "info", "outcome", "by", "runs"),
				intField("outcome_by_wickets", "info", "outcome", "by", "wickets"),
				joinField("player_of_match", "info", "player_of_match"),
				textField("event_name", "info", "event", "name"),
				intField("event_match_number", "info", "event", "match_number"),
			},
		),
		InningsFields: []Field{
			flagField("declared", "declared"),
			flagField("forfeited", "forfeited"),
			truthyField("follow_on", "follow_on"),
		},
		FlagEncoding: FlagKeyPresence,
	}
}

// limitedOvers builds the ODI and T20 match columns, which differ only in the
// default over count and the T20 team_type column.
func limitedOvers(overs int64, teamType bool) []Field {
	head := concat(
		commonHead(),
		venueAndDate(),
		[]Field{
			intField("match_type_number", "info", "match_type_number"),
			intFieldOr("balls_per_over", 6, "info", "balls_per_over"),
			intFieldOr("overs", overs, "info", "overs"),
		},
		teams(),
	)
	if teamType {
		head = append(head, textField("team_type", "info", "team_type"))
	}
	return concat(
		head,
		toss(),
		[]Field{
			textField("winner", "info", "outcome", "winner"),
			textField("result", "info", "outcome", "result"),
			textField("method", "info", "outcome", "method"),
			intField("win_by_runs", "info", "outcome", "by", "runs"),
			intField("win_by_wickets", "info", "outcome", "by", "wickets"),
			joinField("player_of_match", "info", "player_of_match"),
			textField("event_name", "info", "event", "name"),
			intField("event_match_number", "info", "event", "match_number"),
		},
	)
}

// ODI returns the One-Day International format.
func ODI() Format {
	return Format{
		Name:        "odi",
		Token:       "odi",
		Category:    "One-day internationals",
		Include:     matchTypeIs("ODI"),
		MatchFields: limitedOvers(50, false),
		InningsFields: concat(
			targetFields(),
			[]Field{
				truthyField("revised_target", "target", "revised"),
				truthyField("super_over", "super_over"),
			},
		),
		FlagEncoding: FlagKeyPresence,
	}
}

// T20 returns the Twenty20 International format. Documents from the Indian
// Premier League are left to the IPL format.
func T20() Format {
	isT20 := matchTypeIs("T20")
	return Format{
		Name:     "t20",
		Token:    "t20",
		Category: "T20 internationals",
		Include: func(d Document) bool {
			return isT20(d) && !isIPL(d)
		},
		MatchFields: limitedOvers(20, true),
		InningsFields: concat(
			targetFields(),
			[]Field{truthyField("super_over", "super_over")},
		),
		FlagEncoding: FlagKeyPresence,
	}
}

// IPL returns the Indian Premier League format. It is selected by event name
// alone; match_type is not checked.
func IPL() Format {
	return Format{
		Name:     "ipl",
		Token:    "ipl",
		Category: "Indian Premier League",
		Include:  isIPL,
		MatchFields: concat(
			commonHead(),
			[]Field{intField("revision", "meta", "revision")},
			venueAndDate(),
			[]Field{
				intFieldOr("balls_per_over", 6, "info", "balls_per_over"),
				intFieldOr("overs", 20, "info", "overs"),
			},
			teams(),
			[]Field{textFieldOr("team_type", "club", "info", "team_type")},
			toss(),
			[]Field{
				textField("winner", "info", "outcome", "winner"),
				textField("result", "info", "outcome", "result"),
				intField("win_by_runs", "info", "outcome", "by", "runs"),
				intField("win_by_wickets", "info", "outcome", "by", "wickets"),
				joinField("player_of_match", "info", "player_of_match"),
				intField("ipl_match_number", "info", "event", "match_number"),
				joinField("match_referee", "info", "officials", "match_referees"),
				joinField("umpires", "info", "officials", "umpires"),
				joinField("tv_umpire", "info", "officials", "tv_umpires"),
				joinField("reserve_umpire", "info", "officials", "reserve_umpires"),
			},
		),
		InningsFields: concat(
			targetFields(),
			[]Field{truthyField("super_over", "super_over")},
		),
		Powerplays:   true,
		FlagEncoding: FlagKeyPresence,
	}
}

// Formats returns the built-in formats in processing order.
func Formats() []Format {
	return []Format{Test(), ODI(), T20(), IPL()}
}

// LookupFormat returns the built-in format with the given name.
func LookupFormat(name string) (Format, bool) {
	for _, f := range Formats() {
		if foldEqual(f.Name, name) {
			return f, true
		}
	}
	return Format{}, false
}
