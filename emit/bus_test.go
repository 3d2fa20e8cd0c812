package emit

import (
	"context"
	"testing"
	"time"
)

func TestBusAssignsMonotonicIndices(t *testing.T) {
	buf := NewBufferedEmitter()
	bus := NewBus(buf, 16)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if err := bus.Publish(ctx, Event{RunID: "r1", Kind: KindStepStarted}); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}
	if err := bus.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}

	events := buf.GetHistory("r1")
	if len(events) != 5 {
		t.Fatalf("len = %d, want 5", len(events))
	}
	for i, e := range events {
		if e.Index != int64(i) {
			t.Fatalf("event[%d].Index = %d, want %d", i, e.Index, i)
		}
		if e.Metadata[MetadataSchemaVersionKey] != EventSchemaVersion {
			t.Fatalf("event[%d] missing schema version stamp", i)
		}
	}
}

func TestBusDropsDroppableKindsUnderBackpressure(t *testing.T) {
	buf := NewBufferedEmitter()
	bus := NewBus(buf, 1)
	ctx := context.Background()

	// Fill the single buffer slot with something non-droppable that
	// never gets drained (drain loop is fast, so instead we directly
	// exercise flushBackpressureIfAny by simulating a full channel).
	bus.mu.Lock()
	bus.droppedModelTokens = 3
	bus.droppedDebugEvents = 2
	bus.mu.Unlock()

	if err := bus.Publish(ctx, Event{RunID: "r1", Kind: KindStepStarted}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	time.Sleep(10 * time.Millisecond)
	if err := bus.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}

	events := buf.GetHistory("r1")
	if len(events) < 2 {
		t.Fatalf("expected a coalesced streamBackpressure event plus the published one, got %d", len(events))
	}
	if events[0].Kind != KindStreamBackpressure {
		t.Fatalf("events[0].Kind = %s, want streamBackpressure", events[0].Kind)
	}
	if events[0].Attributes["droppedModelTokens"] != 3 {
		t.Fatalf("droppedModelTokens = %v, want 3", events[0].Attributes["droppedModelTokens"])
	}
}

func TestCheckSchemaVersion(t *testing.T) {
	ev := Event{Metadata: map[string]interface{}{MetadataSchemaVersionKey: EventSchemaVersion}}
	if err := CheckSchemaVersion(ev); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	missing := Event{}
	if err := CheckSchemaVersion(missing); err == nil {
		t.Fatal("expected error for missing schema version")
	}

	wrong := Event{Metadata: map[string]interface{}{MetadataSchemaVersionKey: "hsw.v0"}}
	if err := CheckSchemaVersion(wrong); err == nil {
		t.Fatal("expected error for incompatible schema version")
	}
}
