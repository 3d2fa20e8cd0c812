package transcript

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Diff is a single first-differing path between two projections: the
// dotted selector and both sides' string rendering. A nil *Diff means no
// difference was found.
type Diff struct {
	Path  string
	Left  string
	Right string
}

// DiffRecords returns the first differing path between two canonical
// transcripts, comparing them in the same sorted order Hash uses so the
// report is stable across languages and runs. nil means the transcripts
// are equivalent.
func DiffRecords(left, right []Record) (*Diff, error) {
	ls, err := sortedHashRecords(left)
	if err != nil {
		return nil, err
	}
	rs, err := sortedHashRecords(right)
	if err != nil {
		return nil, err
	}

	n := len(ls)
	if len(rs) < n {
		n = len(rs)
	}
	for i := 0; i < n; i++ {
		if d := diffHashRecord(i, ls[i], rs[i]); d != nil {
			return d, nil
		}
	}
	if len(ls) != len(rs) {
		return &Diff{
			Path:  "records.length",
			Left:  fmt.Sprintf("%d", len(ls)),
			Right: fmt.Sprintf("%d", len(rs)),
		}, nil
	}
	return nil, nil
}

func sortedHashRecords(records []Record) ([]hashRecord, error) {
	hrs := make([]hashRecord, len(records))
	keys := make([]string, len(records))
	for i, r := range records {
		hrs[i] = hashRecord{
			StepIndex:     r.StepIndex,
			TaskOrdinal:   r.TaskOrdinal,
			CanonicalKind: r.CanonicalKind,
			Attributes:    r.Attributes,
			Metadata:      r.Metadata,
		}
		k, err := hrs[i].compositeKey()
		if err != nil {
			return nil, err
		}
		keys[i] = k
	}
	order := make([]int, len(hrs))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(i, j int) bool { return keys[order[i]] < keys[order[j]] })
	out := make([]hashRecord, len(hrs))
	for i, idx := range order {
		out[i] = hrs[idx]
	}
	return out, nil
}

func diffHashRecord(i int, l, r hashRecord) *Diff {
	prefix := fmt.Sprintf("records[%d]", i)
	if l.StepIndex != r.StepIndex {
		return &Diff{Path: prefix + ".stepIndex", Left: fmt.Sprintf("%d", l.StepIndex), Right: fmt.Sprintf("%d", r.StepIndex)}
	}
	if l.TaskOrdinal != r.TaskOrdinal {
		return &Diff{Path: prefix + ".taskOrdinal", Left: fmt.Sprintf("%d", l.TaskOrdinal), Right: fmt.Sprintf("%d", r.TaskOrdinal)}
	}
	if l.CanonicalKind != r.CanonicalKind {
		return &Diff{Path: prefix + ".canonicalKind", Left: l.CanonicalKind, Right: r.CanonicalKind}
	}
	if d := diffJSONMap(prefix+".attributes", l.Attributes, r.Attributes); d != nil {
		return d
	}
	if d := diffJSONMap(prefix+".metadata", l.Metadata, r.Metadata); d != nil {
		return d
	}
	return nil
}

// diffJSONMap compares two attribute/metadata maps key-by-key in sorted
// order, returning the first differing or missing key.
func diffJSONMap(path string, l, r map[string]interface{}) *Diff {
	keys := make(map[string]struct{}, len(l)+len(r))
	for k := range l {
		keys[k] = struct{}{}
	}
	for k := range r {
		keys[k] = struct{}{}
	}
	sorted := make([]string, 0, len(keys))
	for k := range keys {
		sorted = append(sorted, k)
	}
	sort.Strings(sorted)

	for _, k := range sorted {
		lv, lok := l[k]
		rv, rok := r[k]
		if lok != rok || !jsonEqual(lv, rv) {
			return &Diff{Path: path + "." + k, Left: renderJSON(lv), Right: renderJSON(rv)}
		}
	}
	return nil
}

func jsonEqual(a, b interface{}) bool {
	ab, errA := json.Marshal(a)
	bb, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return false
	}
	return string(ab) == string(bb)
}

func renderJSON(v interface{}) string {
	if v == nil {
		return "null"
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}

// DiffStates returns the first differing path between two state
// snapshots, following the same field order StateHash hashes over.
func DiffStates(left, right StateSnapshot) *Diff {
	if left.ThreadID != right.ThreadID {
		return &Diff{Path: "threadId", Left: left.ThreadID, Right: right.ThreadID}
	}
	if d := diffIntPtr("stepIndex", left.StepIndex, right.StepIndex); d != nil {
		return d
	}
	lp, rp := "", ""
	if left.Interruption != nil {
		lp = left.Interruption.PayloadHash
	}
	if right.Interruption != nil {
		rp = right.Interruption.PayloadHash
	}
	if lp != rp {
		return &Diff{Path: "interruption.payloadHash", Left: lp, Right: rp}
	}
	if left.Frontier.Count != right.Frontier.Count {
		return &Diff{Path: "frontier.count", Left: fmt.Sprintf("%d", left.Frontier.Count), Right: fmt.Sprintf("%d", right.Frontier.Count)}
	}
	if left.Frontier.Hash != right.Frontier.Hash {
		return &Diff{Path: "frontier.hash", Left: left.Frontier.Hash, Right: right.Frontier.Hash}
	}
	if d := diffFrontierEntries(left.Frontier.Entries, right.Frontier.Entries); d != nil {
		return d
	}
	if left.Channels.Hash != right.Channels.Hash {
		return &Diff{Path: "channelState.hash", Left: left.Channels.Hash, Right: right.Channels.Hash}
	}
	if d := diffChannelEntries(left.Channels.Entries, right.Channels.Entries); d != nil {
		return d
	}
	if left.EventSchemaVersion != right.EventSchemaVersion {
		return &Diff{Path: "eventSchemaVersion", Left: left.EventSchemaVersion, Right: right.EventSchemaVersion}
	}
	if left.Source != right.Source {
		return &Diff{Path: "source", Left: string(left.Source), Right: string(right.Source)}
	}
	return nil
}

func diffIntPtr(path string, l, r *int) *Diff {
	switch {
	case l == nil && r == nil:
		return nil
	case l == nil || r == nil:
		return &Diff{Path: path, Left: renderIntPtr(l), Right: renderIntPtr(r)}
	case *l != *r:
		return &Diff{Path: path, Left: renderIntPtr(l), Right: renderIntPtr(r)}
	default:
		return nil
	}
}

func renderIntPtr(p *int) string {
	if p == nil {
		return "<absent>"
	}
	return fmt.Sprintf("%d", *p)
}

func diffFrontierEntries(l, r []FrontierEntry) *Diff {
	n := len(l)
	if len(r) < n {
		n = len(r)
	}
	for i := 0; i < n; i++ {
		if l[i] != r[i] {
			path := fmt.Sprintf("frontier.entries[%d]", i)
			return &Diff{Path: path, Left: renderJSON(l[i]), Right: renderJSON(r[i])}
		}
	}
	if len(l) != len(r) {
		return &Diff{Path: "frontier.entries.length", Left: fmt.Sprintf("%d", len(l)), Right: fmt.Sprintf("%d", len(r))}
	}
	return nil
}

func diffChannelEntries(l, r []ChannelEntry) *Diff {
	n := len(l)
	if len(r) < n {
		n = len(r)
	}
	for i := 0; i < n; i++ {
		if l[i] != r[i] {
			path := fmt.Sprintf("channelState.entries[%d]", i)
			return &Diff{Path: path, Left: renderJSON(l[i]), Right: renderJSON(r[i])}
		}
	}
	if len(l) != len(r) {
		return &Diff{Path: "channelState.entries.length", Left: fmt.Sprintf("%d", len(l)), Right: fmt.Sprintf("%d", len(r))}
	}
	return nil
}
