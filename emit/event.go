// Package emit implements the deterministic event bus: event kinds,
// the Emitter interface pluggable backends consume, and a bounded Bus
// that assigns monotonic event indices and coalesces droppable event
// kinds under backpressure.
package emit

// EventSchemaVersion is stamped onto every event's Metadata under
// MetadataSchemaVersionKey before it leaves the Bus.
const EventSchemaVersion = "hsw.v1"

// MetadataSchemaVersionKey is the metadata key carrying EventSchemaVersion.
const MetadataSchemaVersionKey = "eventSchemaVersion"

// Kind names a canonical event kind. Two kinds are droppable under
// backpressure (ModelToken, CustomDebug); every other kind is never
// dropped.
type Kind string

const (
	KindStepStarted         Kind = "stepStarted"
	KindStepFinished        Kind = "stepFinished"
	KindTaskStarted         Kind = "taskStarted"
	KindTaskFailed          Kind = "taskFailed"
	KindWriteApplied        Kind = "writeApplied"
	KindRunFinished         Kind = "runFinished"
	KindRunInterrupted      Kind = "runInterrupted"
	KindRunResumed          Kind = "runResumed"
	KindRunCancelled        Kind = "runCancelled"
	KindCheckpointSaved     Kind = "checkpointSaved"
	KindCheckpointLoaded    Kind = "checkpointLoaded"
	KindCacheHit            Kind = "cacheHit"
	KindCacheMiss           Kind = "cacheMiss"
	KindToolInvocationStart Kind = "toolInvocationStarted"
	KindToolInvocationEnd   Kind = "toolInvocationFinished"
	KindStreamBackpressure  Kind = "streamBackpressure"

	// KindModelToken and KindCustomDebug are droppable: the Bus may
	// coalesce them into a streamBackpressure event under overflow.
	KindModelToken  Kind = "modelToken"
	KindCustomDebug Kind = "customDebug"
)

// Droppable reports whether kind may be coalesced away under
// backpressure.
func (k Kind) Droppable() bool {
	return k == KindModelToken || k == KindCustomDebug
}

// Event is one entry in the deterministic event stream.
type Event struct {
	// Index is the monotonically increasing event-index assigned by the
	// Bus. It is NOT a canonical sort key for hashing (see the
	// transcript package) since it is assignment-order-sensitive under
	// concurrency.
	Index int64

	RunID       string
	StepIndex   int
	TaskOrdinal int
	NodeID      string

	Kind Kind

	// Attributes is the kind-specific minimal structural payload, e.g.
	// stepStarted -> {"stepIndex":.., "frontierCount":..}.
	Attributes map[string]interface{}

	// Metadata carries out-of-band decoration; eventSchemaVersion is
	// injected here by the Bus.
	Metadata map[string]interface{}
}

// WithMetadata returns a copy of e with key set in Metadata.
func (e Event) WithMetadata(key string, value interface{}) Event {
	meta := make(map[string]interface{}, len(e.Metadata)+1)
	for k, v := range e.Metadata {
		meta[k] = v
	}
	meta[key] = value
	e.Metadata = meta
	return e
}
