// Package transcript implements the deterministic projection of a run's
// event stream and channel state into canonical, ordering-stable forms
// suitable for cross-run and cross-language hashing (spec §4.6).
//
// The canonicalization technique — sort fields by UTF-8 byte order, hash
// with SHA-256 over canonical JSON — is grounded on the teacher's own
// hashing idioms: graph/checkpoint.go's computeIdempotencyKey[S] and
// graph/replay.go's recordIO/verifyReplayHash both sort-then-hash rather
// than hashing insertion order, which is exactly the discipline this
// package generalizes from a single state value to a whole event stream.
package transcript

import (
	"sort"

	"github.com/hollow-sw/hsw/emit"
)

// AbsentField is the sentinel value used for a StepIndex/TaskOrdinal not
// scoped to this event, per spec §4.6 ("treating absent fields as -1").
// Emitters that publish run-scoped-only events (runFinished, etc.) set
// these fields to AbsentField rather than leaving the int zero value,
// which would otherwise be indistinguishable from step/task zero.
const AbsentField = -1

// Record is one canonicalized entry in a projected transcript.
type Record struct {
	EventIndex    int64                  `json:"eventIndex"`
	StepIndex     int                    `json:"stepIndex"`
	TaskOrdinal   int                    `json:"taskOrdinal"`
	CanonicalKind string                 `json:"canonicalKind"`
	Attributes    map[string]interface{} `json:"attributes"`
	Metadata      map[string]interface{} `json:"metadata"`
}

// Project converts a raw event slice into the canonical transcript form:
// minimal structural attributes per kind, metadata keys canonicalized,
// records sorted by (event-index, step-index, task-ordinal) ascending.
func Project(events []emit.Event) []Record {
	out := make([]Record, 0, len(events))
	for _, ev := range events {
		out = append(out, Record{
			EventIndex:    ev.Index,
			StepIndex:     ev.StepIndex,
			TaskOrdinal:   ev.TaskOrdinal,
			CanonicalKind: string(ev.Kind),
			Attributes:    minimalAttributes(ev),
			Metadata:      canonicalizeKeys(ev.Metadata),
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].EventIndex != out[j].EventIndex {
			return out[i].EventIndex < out[j].EventIndex
		}
		if out[i].StepIndex != out[j].StepIndex {
			return out[i].StepIndex < out[j].StepIndex
		}
		return out[i].TaskOrdinal < out[j].TaskOrdinal
	})
	return out
}

// minimalAttributes strips any attribute that embeds runtime identity
// (run ids, checkpoint ids, timestamps) rather than kind-specific
// structural payload, keeping only what spec §4.6 enumerates per kind.
func minimalAttributes(ev emit.Event) map[string]interface{} {
	switch ev.Kind {
	case emit.KindStepStarted:
		return pick(ev.Attributes, "stepIndex", "frontierCount")
	case emit.KindStepFinished:
		return pick(ev.Attributes, "stepIndex", "nextFrontierCount")
	case emit.KindTaskStarted:
		return pick(ev.Attributes, "nodeID")
	case emit.KindTaskFailed:
		return pick(ev.Attributes, "nodeID", "errorDescription")
	case emit.KindWriteApplied:
		return pick(ev.Attributes, "channelID")
	case emit.KindRunInterrupted:
		return pick(ev.Attributes, "reason")
	case emit.KindRunResumed:
		return pick(ev.Attributes, "interruptID")
	case emit.KindRunCancelled:
		return pick(ev.Attributes, "resolution")
	case emit.KindCheckpointSaved, emit.KindCheckpointLoaded:
		return map[string]interface{}{}
	case emit.KindCacheHit, emit.KindCacheMiss:
		return pick(ev.Attributes, "nodeID")
	case emit.KindToolInvocationStart, emit.KindToolInvocationEnd:
		return pick(ev.Attributes, "name", "success")
	case emit.KindStreamBackpressure:
		return pick(ev.Attributes, "droppedModelTokens", "droppedDebugEvents")
	default:
		return pick(ev.Attributes)
	}
}

func pick(m map[string]interface{}, keys ...string) map[string]interface{} {
	out := make(map[string]interface{}, len(keys))
	for _, k := range keys {
		if v, ok := m[k]; ok {
			out[k] = v
		}
	}
	return out
}

func canonicalizeKeys(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return map[string]interface{}{}
	}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
