package emit

import (
	"context"
	"sync"
	"sync/atomic"
)

// Bus is the bounded, backpressure-coalescing event stream every run
// publishes through. Every event that leaves a Bus carries a strictly
// increasing Index and an eventSchemaVersion metadata stamp.
//
// modelToken and customDebug events are droppable: when the internal
// buffer is full, they are discarded and counted instead of blocking the
// producer. The next time any event is published, a single
// streamBackpressure event is emitted first, reporting the counts
// accumulated since the prior drop. Every other kind blocks the
// producer until there is room, the way the teacher's Frontier blocks a
// node that cannot enqueue its downstream work.
type Bus struct {
	emitter  Emitter
	ch       chan Event
	capacity int

	nextIndex atomic.Int64

	mu                  sync.Mutex
	droppedModelTokens  int
	droppedDebugEvents  int
	wg                  sync.WaitGroup
	stopOnce            sync.Once
	stop                chan struct{}
}

// NewBus starts a Bus with the given buffer capacity, draining into
// emitter on a background goroutine. Call Close to stop the drain loop
// and flush the emitter.
func NewBus(emitter Emitter, capacity int) *Bus {
	if capacity < 1 {
		capacity = 1
	}
	b := &Bus{
		emitter:  emitter,
		ch:       make(chan Event, capacity),
		capacity: capacity,
		stop:     make(chan struct{}),
	}
	b.wg.Add(1)
	go b.drain()
	return b
}

func (b *Bus) drain() {
	defer b.wg.Done()
	for {
		select {
		case ev, ok := <-b.ch:
			if !ok {
				return
			}
			b.emitter.Emit(ev)
		case <-b.stop:
			// Drain whatever is already queued before exiting.
			for {
				select {
				case ev := <-b.ch:
					b.emitter.Emit(ev)
				default:
					return
				}
			}
		}
	}
}

func (b *Bus) decorate(ev Event) Event {
	idx := b.nextIndex.Add(1) - 1
	ev.Index = idx
	return ev.WithMetadata(MetadataSchemaVersionKey, EventSchemaVersion)
}

// Publish assigns ev an event-index and schema version and enqueues it.
// Droppable kinds never block; every other kind blocks until there is
// room in the buffer or ctx is done.
func (b *Bus) Publish(ctx context.Context, ev Event) error {
	if err := b.flushBackpressureIfAny(ctx, ev.RunID); err != nil {
		return err
	}

	ev = b.decorate(ev)

	if ev.Kind.Droppable() {
		select {
		case b.ch <- ev:
		default:
			b.mu.Lock()
			switch ev.Kind {
			case KindModelToken:
				b.droppedModelTokens++
			case KindCustomDebug:
				b.droppedDebugEvents++
			}
			b.mu.Unlock()
		}
		return nil
	}

	select {
	case b.ch <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *Bus) flushBackpressureIfAny(ctx context.Context, runID string) error {
	b.mu.Lock()
	tokens, debug := b.droppedModelTokens, b.droppedDebugEvents
	if tokens == 0 && debug == 0 {
		b.mu.Unlock()
		return nil
	}
	b.droppedModelTokens, b.droppedDebugEvents = 0, 0
	b.mu.Unlock()

	ev := b.decorate(Event{
		RunID: runID,
		Kind:  KindStreamBackpressure,
		Attributes: map[string]interface{}{
			"droppedModelTokens": tokens,
			"droppedDebugEvents": debug,
		},
	})
	select {
	case b.ch <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the drain loop, flushes remaining events to the emitter,
// and calls the emitter's Flush.
func (b *Bus) Close(ctx context.Context) error {
	b.stopOnce.Do(func() { close(b.stop) })
	b.wg.Wait()
	return b.emitter.Flush(ctx)
}
