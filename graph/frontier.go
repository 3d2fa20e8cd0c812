package graph

import (
	"container/heap"
	"context"
	"sync"
	"sync/atomic"
)

// FrontierEntry is one member of the scheduler's ready set: a node to
// invoke next step, the upstream node that caused it to be scheduled,
// and the fingerprint of the inputs it will read (used by the node
// cache and by state-hash projection).
type FrontierEntry struct {
	NodeID      string
	Provenance  string
	Fingerprint string

	orderKey uint64
}

// frontierHeap orders entries by node-id lexicographic UTF-8 order
// (spec requirement), tie-broken by a deterministic hash of
// (provenance, nodeID) — the same technique the teacher's scheduler.go
// uses for OrderKey, applied to concurrent-dispatch ordering instead of
// retry-attempt ordering.
type frontierHeap []FrontierEntry

func (h frontierHeap) Len() int { return len(h) }

func (h frontierHeap) Less(i, j int) bool {
	if h[i].NodeID != h[j].NodeID {
		return h[i].NodeID < h[j].NodeID
	}
	return h[i].orderKey < h[j].orderKey
}

func (h frontierHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *frontierHeap) Push(x interface{}) { *h = append(*h, x.(FrontierEntry)) }

func (h *frontierHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// Frontier is the bounded admission queue a step's ready node
// invocations pass through: a heap for reporting the pending set in
// deterministic order via Entries, and a buffered channel for bounded
// backpressure, the same design as the teacher's Frontier[S] in
// graph/scheduler.go generalized from a single OrderKey-by-parent-edge
// scheme to node-id-primary ordering. Dequeue delivers entries in the
// order they were enqueued (the channel, not the heap, is authoritative
// for delivery order) — callers that need sorted delivery must enqueue
// already in that order, which driveSteps does.
type Frontier struct {
	mu   sync.Mutex
	heap frontierHeap

	queue    chan FrontierEntry
	capacity int

	totalEnqueued      atomic.Int64
	totalDequeued      atomic.Int64
	backpressureEvents atomic.Int32
	peakQueueDepth     atomic.Int32
}

// NewFrontier creates an empty Frontier with the given buffer capacity.
func NewFrontier(capacity int) *Frontier {
	if capacity < 1 {
		capacity = 1
	}
	f := &Frontier{
		heap:     make(frontierHeap, 0),
		queue:    make(chan FrontierEntry, capacity),
		capacity: capacity,
	}
	heap.Init(&f.heap)
	return f
}

// Enqueue adds entry to the frontier, computing its tie-breaking order
// key. Blocks until there is room in the buffered channel or ctx is
// done.
func (f *Frontier) Enqueue(ctx context.Context, entry FrontierEntry) error {
	entry.orderKey = computeOrderKey(entry.Provenance, entry.NodeID)

	f.mu.Lock()
	heap.Push(&f.heap, entry)
	depth := int32(f.heap.Len())
	f.mu.Unlock()

	for {
		if p := f.peakQueueDepth.Load(); depth > p {
			if f.peakQueueDepth.CompareAndSwap(p, depth) {
				break
			}
			continue
		}
		break
	}

	select {
	case f.queue <- entry:
		f.totalEnqueued.Add(1)
		return nil
	case <-ctx.Done():
		f.backpressureEvents.Add(1)
		return ctx.Err()
	}
}

// Dequeue pops the next entry in enqueue order. Blocks until an entry
// is available or ctx is done.
func (f *Frontier) Dequeue(ctx context.Context) (FrontierEntry, bool) {
	select {
	case entry := <-f.queue:
		f.mu.Lock()
		// Remove the matching heap entry (the channel is the
		// authoritative delivery order once popped; the heap exists so
		// Entries() can report the pending set in sorted order).
		for i, e := range f.heap {
			if e.NodeID == entry.NodeID && e.Provenance == entry.Provenance {
				heap.Remove(&f.heap, i)
				break
			}
		}
		f.mu.Unlock()
		f.totalDequeued.Add(1)
		return entry, true
	case <-ctx.Done():
		return FrontierEntry{}, false
	}
}

// Len returns the number of entries currently queued.
func (f *Frontier) Len() int {
	return len(f.queue)
}

// Entries returns every currently queued entry, sorted deterministically.
func (f *Frontier) Entries() []FrontierEntry {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]FrontierEntry, len(f.heap))
	copy(out, f.heap)
	// heap order is a valid min-heap but not necessarily fully sorted;
	// sort.Sort would mutate indices expected by Dequeue's removal, so
	// operate on the copy only.
	sortFrontierEntries(out)
	return out
}

func sortFrontierEntries(entries []FrontierEntry) {
	h := frontierHeap(entries)
	// simple insertion sort: frontier sizes within a step are small and
	// this avoids importing sort for a one-off, heap-comparator-driven
	// ordering.
	for i := 1; i < len(h); i++ {
		for j := i; j > 0 && h.Less(j, j-1); j-- {
			h.Swap(j, j-1)
		}
	}
}

// SchedulerMetrics reports point-in-time Frontier counters.
type SchedulerMetrics struct {
	TotalEnqueued      int64
	TotalDequeued      int64
	BackpressureEvents int32
	PeakQueueDepth     int32
}

func (f *Frontier) Metrics() SchedulerMetrics {
	return SchedulerMetrics{
		TotalEnqueued:      f.totalEnqueued.Load(),
		TotalDequeued:      f.totalDequeued.Load(),
		BackpressureEvents: f.backpressureEvents.Load(),
		PeakQueueDepth:     f.peakQueueDepth.Load(),
	}
}
