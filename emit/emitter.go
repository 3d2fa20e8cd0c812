package emit

import "context"

// Emitter receives events from the Bus and forwards them to a backend
// (stdout, OpenTelemetry, an in-memory buffer for tests). Implementations
// must not block the run for long; the Bus already provides the only
// backpressure point the scheduler cooperates with.
type Emitter interface {
	Emit(event Event)
	EmitBatch(ctx context.Context, events []Event) error
	Flush(ctx context.Context) error
}
