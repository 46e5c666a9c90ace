package cricsheet

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Warning is a recoverable problem met while processing a batch: an archive
// that is missing, a member that does not parse, or a malformed document.
type Warning struct {
	Stage  string
	Source string
	Err    error
}

// StageOf returns the warning stage for an error returned by Flattener.Add.
func StageOf(err error) string {
	if errors.Is(err, ErrDuplicateMatchID) {
		return "duplicate_id"
	}
	return "flatten"
}

func (w Warning) String() string {
	return fmt.Sprintf("stage=%s source=%s err=%v", w.Stage, w.Source, w.Err)
}

// ErrDuplicateMatchID marks a document whose match id was already used by an
// earlier document of the same Flattener. Its records are kept; a store that
// enforces natural keys keeps only the first.
var ErrDuplicateMatchID = errors.New("duplicate match id")

// record is one flattened row with its columns in projection order.
type record struct {
	cols []string
	vals []any
}

func (r *record) set(col string, v any) {
	r.cols = append(r.cols, col)
	r.vals = append(r.vals, v)
}

// batch holds the records of one or more documents, one list per family.
type batch [numFamilies][]record

func (b *batch) add(f Family, r record) { b[f] = append(b[f], r) }

// Flattener applies one Format to a sequence of documents.
//
// Documents must be added in a fixed order: synthetic match ids and all
// positional numbering depend on it. A Flattener is not safe for concurrent
// use.
type Flattener struct {
	format  Format
	acc     batch
	matches int
	ids     map[string]struct{}
}

// NewFlattener returns an empty Flattener for f.
func NewFlattener(f Format) *Flattener {
	return &Flattener{format: f, ids: map[string]struct{}{}}
}

// Format returns the format this Flattener projects.
func (fl *Flattener) Format() Format { return fl.format }

// Matches returns the number of match records committed so far.
func (fl *Flattener) Matches() int { return fl.matches }

// Add classifies doc and, when the format includes it, flattens it.
//
// included reports whether doc belongs to the format. An error wrapping
// ErrMalformed means nothing from doc is kept. An error wrapping
// ErrDuplicateMatchID means doc was kept but shares its match id with an
// earlier document. The Flattener remains usable either way.
func (fl *Flattener) Add(doc Document) (included bool, err error) {
	if fl.format.Include == nil || !fl.format.Include(doc) {
		return false, nil
	}

	var b batch
	id, err := fl.flatten(doc, &b)
	if err != nil {
		return true, err
	}

	for f := range b {
		fl.acc[f] = append(fl.acc[f], b[f]...)
	}
	fl.matches++

	if fl.ids == nil {
		fl.ids = map[string]struct{}{}
	}
	if _, seen := fl.ids[id]; seen {
		return true, fmt.Errorf("%w: %s", ErrDuplicateMatchID, id)
	}
	fl.ids[id] = struct{}{}
	return true, nil
}

// Tables assembles every non-empty family into a TableSet.
func (fl *Flattener) Tables() *TableSet {
	set := newTableSet(fl.format.Name)
	for f := Family(0); f < numFamilies; f++ {
		if len(fl.acc[f]) == 0 {
			continue
		}
		set.add(assemble(fl.format.TableName(f), f, fl.acc[f]))
	}
	return set
}

// Flatten runs docs through a new Flattener for f and returns the assembled
// tables together with one warning per malformed document or reused match
// id. source names each document in warnings; it may be nil.
func Flatten(f Format, docs []Document, source func(i int) string) (*TableSet, []Warning) {
	fl := NewFlattener(f)
	var warnings []Warning
	for i, doc := range docs {
		if _, err := fl.Add(doc); err != nil {
			src := "document " + strconv.Itoa(i)
			if source != nil {
				src = source(i)
			}
			warnings = append(warnings, Warning{Stage: StageOf(err), Source: src, Err: err})
		}
	}
	return fl.Tables(), warnings
}

func (fl *Flattener) flatten(doc Document, b *batch) (string, error) {
	matchID, err := fl.matchID(doc)
	if err != nil {
		return "", fmt.Errorf("match id: %w", err)
	}

	m := record{}
	m.set("match_id", matchID)
	if err := fl.project(&m, doc, fl.format.MatchFields); err != nil {
		return "", err
	}
	b.add(FamilyMatches, m)

	innings, err := listAt(doc, "innings")
	if err != nil {
		return "", err
	}
	for i, raw := range innings {
		where := "innings[" + strconv.Itoa(i) + "]"
		inning, err := objectAt(raw, where)
		if err != nil {
			return "", err
		}
		if err := fl.flattenInnings(b, matchID, int64(i+1), inning); err != nil {
			return "", fmt.Errorf("%s: %w", where, err)
		}
	}
	return matchID, nil
}

func (fl *Flattener) flattenInnings(b *batch, matchID string, number int64, inning map[string]any) error {
	team, err := resolve(teamField, inning, fl.format.flagEncoding())
	if err != nil {
		return err
	}

	r := record{}
	r.set("match_id", matchID)
	r.set("innings_number", number)
	r.set("team", team)
	if err := fl.project(&r, inning, fl.format.InningsFields); err != nil {
		return err
	}
	b.add(FamilyInnings, r)

	if fl.format.Powerplays {
		if _, ok := inning["powerplays"]; ok {
			pps, err := listAt(inning, "powerplays")
			if err != nil {
				return err
			}
			for j, raw := range pps {
				pp, err := objectAt(raw, "powerplays["+strconv.Itoa(j)+"]")
				if err != nil {
					return err
				}
				r := record{}
				r.set("match_id", matchID)
				r.set("innings_number", number)
				r.set("team", team)
				if err := fl.project(&r, pp, powerplayFields); err != nil {
					return fmt.Errorf("powerplays[%d]: %w", j, err)
				}
				b.add(FamilyPowerplays, r)
			}
		}
	}

	overs, err := listAt(inning, "overs")
	if err != nil {
		return err
	}
	for j, raw := range overs {
		where := "overs[" + strconv.Itoa(j) + "]"
		over, err := objectAt(raw, where)
		if err != nil {
			return err
		}
		if err := fl.flattenOver(b, matchID, number, team, over); err != nil {
			return fmt.Errorf("%s: %w", where, err)
		}
	}
	return nil
}

func (fl *Flattener) flattenOver(b *batch, matchID string, innings int64, team any, over map[string]any) error {
	overNumber, err := resolve(overNumberField, over, fl.format.flagEncoding())
	if err != nil {
		return err
	}

	r := record{}
	r.set("match_id", matchID)
	r.set("innings_number", innings)
	r.set("over_number", overNumber)
	r.set("team", team)
	b.add(FamilyOvers, r)

	deliveries, err := listAt(over, "deliveries")
	if err != nil {
		return err
	}
	for k, raw := range deliveries {
		where := "deliveries[" + strconv.Itoa(k) + "]"
		d, err := objectAt(raw, where)
		if err != nil {
			return err
		}

		r := record{}
		r.set("match_id", matchID)
		r.set("innings_number", innings)
		r.set("over_number", overNumber)
		r.set("ball_number", int64(k+1))
		r.set("team", team)
		if err := fl.project(&r, d, deliveryFields); err != nil {
			return fmt.Errorf("%s: %w", where, err)
		}
		if err := fl.firstWicket(&r, d); err != nil {
			return fmt.Errorf("%s: %w", where, err)
		}
		b.add(FamilyDeliveries, r)
	}
	return nil
}

// firstWicket copies the first wicket of a delivery onto r. Later wickets on
// the same ball are dropped.
func (fl *Flattener) firstWicket(r *record, delivery map[string]any) error {
	wickets, err := listAt(delivery, "wickets")
	if err != nil || len(wickets) == 0 {
		return err
	}
	w, err := objectAt(wickets[0], "wickets[0]")
	if err != nil {
		return err
	}
	if err := fl.project(r, w, wicketFields); err != nil {
		return fmt.Errorf("wickets[0]: %w", err)
	}
	if _, ok := w["fielders"]; !ok {
		return nil
	}

	fielders, err := listAt(w, "fielders")
	if err != nil {
		return fmt.Errorf("wickets[0]: %w", err)
	}
	names := make([]string, 0, len(fielders))
	for i, raw := range fielders {
		var name string
		switch f := raw.(type) {
		case map[string]any:
			v, err := resolve(textField("name", "name"), f, FlagKeyPresence)
			if err != nil {
				return fmt.Errorf("wickets[0].fielders[%d]: %w", i, err)
			}
			name, _ = v.(string)
		case string:
			name = f
		default:
			return fmt.Errorf("%w: wickets[0].fielders[%d] is %s, want object", ErrMalformed, i, kindOf(raw))
		}
		names = append(names, name)
	}
	r.set(wicketFieldersField.Column, strings.Join(names, ", "))
	return nil
}

// matchID returns the document's own id when it is set, else
// "<team>-<team>...-<first date>", else "match-<n>" where n counts the
// matches committed before this one.
func (fl *Flattener) matchID(doc Document) (string, error) {
	if v, ok := doc["id"]; ok && truthy(v) {
		return asText(v)
	}

	teams, err := textList(doc, "info", "teams")
	if err != nil {
		return "", err
	}
	dates, err := textList(doc, "info", "dates")
	if err != nil {
		return "", err
	}
	if len(teams) > 0 && len(dates) > 0 && dates[0] != "" {
		return strings.Join(teams, "-") + "-" + dates[0], nil
	}
	return "match-" + strconv.Itoa(fl.matches), nil
}

func (fl *Flattener) project(r *record, src map[string]any, fields []Field) error {
	enc := fl.format.flagEncoding()
	for _, f := range fields {
		v, err := resolve(f, src, enc)
		if err != nil {
			return fmt.Errorf("%s: %w", f.Column, err)
		}
		r.set(f.Column, v)
	}
	return nil
}

// resolve reads one field from src. Absent values yield f.Default; nil is the
// null marker. A text value that is present but JSON null is nil, not its
// default.
func resolve(f Field, src map[string]any, enc FlagEncoding) (any, error) {
	switch f.Kind {
	case KindFlag:
		parent, key := f.Path[:len(f.Path)-1], f.Path[len(f.Path)-1]
		v, ok, err := lookup(src, parent)
		if err != nil || !ok {
			return false, err
		}
		obj, err := objectAt(v, strings.Join(parent, "."))
		if err != nil {
			return nil, err
		}
		raw, present := obj[key]
		if enc == FlagValue {
			return truthy(raw), nil
		}
		return present, nil

	case KindTruthy:
		v, ok, err := lookup(src, f.Path)
		if err != nil {
			return nil, err
		}
		return ok && truthy(v), nil

	case KindJoin:
		items, err := textList(src, f.Path...)
		if err != nil {
			return nil, err
		}
		return strings.Join(items, ", "), nil

	case KindElement:
		items, err := textList(src, f.Path...)
		if err != nil {
			return nil, err
		}
		if f.Index < len(items) {
			return items[f.Index], nil
		}
		return f.Default, nil

	default:
		v, ok, err := lookup(src, f.Path)
		if err != nil {
			return nil, err
		}
		if !ok {
			if f.Type == TypeText && leafIsNull(src, f.Path) {
				return nil, nil
			}
			return f.Default, nil
		}
		return coerce(f.Type, v)
	}
}

// leafIsNull reports whether the last key of path is present and JSON null.
func leafIsNull(src map[string]any, path []string) bool {
	if len(path) == 0 {
		return false
	}
	parent, ok, err := lookup(src, path[:len(path)-1])
	if err != nil || !ok {
		return false
	}
	m, isObj := parent.(map[string]any)
	if !isObj {
		return false
	}
	v, present := m[path[len(path)-1]]
	return present && v == nil
}

// textList reads a list of scalars at path as text.
func textList(src map[string]any, path ...string) ([]string, error) {
	v, ok, err := lookup(src, path)
	if err != nil || !ok {
		return nil, err
	}
	items, isList := v.([]any)
	if !isList {
		return nil, fmt.Errorf("%w: %s is %s, want list", ErrMalformed, strings.Join(path, "."), kindOf(v))
	}
	out := make([]string, 0, len(items))
	for _, it := range items {
		if it == nil {
			out = append(out, "")
			continue
		}
		s, err := asText(it)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", strings.Join(path, "."), err)
		}
		out = append(out, s)
	}
	return out, nil
}

func coerce(t ColumnType, v any) (any, error) {
	switch t {
	case TypeInteger:
		return asInteger(v)
	case TypeFloat:
		return asFloat(v)
	case TypeBoolean:
		return truthy(v), nil
	default:
		return asText(v)
	}
}
