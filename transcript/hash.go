package transcript

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
)

// hashRecord is the transcript-hash projection of a Record: event-index
// is deliberately omitted since it is assignment-order-sensitive under
// concurrency (spec §4.6).
type hashRecord struct {
	StepIndex     int                    `json:"stepIndex"`
	TaskOrdinal   int                    `json:"taskOrdinal"`
	CanonicalKind string                 `json:"canonicalKind"`
	Attributes    map[string]interface{} `json:"attributes"`
	Metadata      map[string]interface{} `json:"metadata"`
}

// compositeKey renders the "step|task|kind|attrs|metadata" sort key a
// hashRecord is ordered by before hashing, using canonical JSON for the
// map-valued fields so the key is stable regardless of Go map iteration
// order.
func (r hashRecord) compositeKey() (string, error) {
	attrsJSON, err := canonicalJSON(r.Attributes)
	if err != nil {
		return "", err
	}
	metaJSON, err := canonicalJSON(r.Metadata)
	if err != nil {
		return "", err
	}
	return fmtComposite(r.StepIndex, r.TaskOrdinal, r.CanonicalKind, attrsJSON, metaJSON), nil
}

func fmtComposite(step, task int, kind string, attrs, meta []byte) string {
	var b bytes.Buffer
	writeIntPadded(&b, step)
	b.WriteByte('|')
	writeIntPadded(&b, task)
	b.WriteByte('|')
	b.WriteString(kind)
	b.WriteByte('|')
	b.Write(attrs)
	b.WriteByte('|')
	b.Write(meta)
	return b.String()
}

// writeIntPadded writes n as a fixed-width decimal (zero-padded, with a
// leading sign). Non-negative values sort lexicographically in numeric
// order; since '-' follows '+' in byte order, a negative value such as
// AbsentField sorts after every non-negative one.
func writeIntPadded(b *bytes.Buffer, n int) {
	if n < 0 {
		b.WriteByte('-')
		n = -n
	} else {
		b.WriteByte('+')
	}
	s := []byte{'0', '0', '0', '0', '0', '0', '0', '0', '0', '0'}
	i := len(s)
	for n > 0 && i > 0 {
		i--
		s[i] = byte('0' + n%10)
		n /= 10
	}
	b.Write(s)
}

// canonicalJSON marshals v with map keys sorted by UTF-8 byte order.
// encoding/json already sorts map[string]X keys this way, so this is a
// thin, explicitly-named wrapper documenting that reliance.
func canonicalJSON(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

// Hash computes the transcript hash of records: project to the
// event-index-excluding hashRecord form, sort by the composite key, and
// SHA-256 the resulting canonical JSON array.
func Hash(records []Record) (string, error) {
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
			return "", err
		}
		keys[i] = k
	}

	order := make([]int, len(hrs))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(i, j int) bool { return keys[order[i]] < keys[order[j]] })

	sorted := make([]hashRecord, len(hrs))
	for i, idx := range order {
		sorted[i] = hrs[idx]
	}

	payload, err := json.Marshal(sorted)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(payload)
	return "sha256:" + hex.EncodeToString(sum[:]), nil
}
