package graph

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"sort"

	"github.com/hollow-sw/hsw/channel"
)

// Router is attached to a node id and overrides static edge resolution:
// given the post-commit store it returns the next node id set, or a nil
// slice to fall through to the node's static edges. Routers never
// mutate the store.
type Router func(store *channel.Store) ([]string, error)

// Edge is a static directed edge from one node id to another.
type Edge struct {
	From string
	To   string
}

var (
	ErrDuplicateNode      = errors.New("graph: duplicate node id")
	ErrUnknownEdgeEndpoint = errors.New("graph: edge references unknown node id")
	ErrRouterUnknownNode  = errors.New("graph: router attached to unknown node id")
	ErrEmptyStartSet      = errors.New("graph: start set must not be empty")
)

// CompiledGraph is the immutable, validated output of Compile.
type CompiledGraph struct {
	nodesByID    map[string]NodeSpec
	edgesFrom    map[string][]Edge
	routersFrom  map[string]Router
	startSet     []string
	graphVersion string
}

// NodesByID returns the node spec registered under id.
func (g *CompiledGraph) NodesByID(id string) (NodeSpec, bool) {
	spec, ok := g.nodesByID[id]
	return spec, ok
}

// StaticEdgesFrom returns the static edges declared from nodeID, in
// declaration order.
func (g *CompiledGraph) StaticEdgesFrom(nodeID string) []Edge {
	return g.edgesFrom[nodeID]
}

// RouterFor returns the router attached to nodeID, if any.
func (g *CompiledGraph) RouterFor(nodeID string) (Router, bool) {
	r, ok := g.routersFrom[nodeID]
	return r, ok
}

// StartSet returns the initial frontier's node ids.
func (g *CompiledGraph) StartSet() []string {
	out := make([]string, len(g.startSet))
	copy(out, g.startSet)
	return out
}

// GraphVersion is a hash of the compiled structure, used to validate
// resumed checkpoints against the graph that produced them.
func (g *CompiledGraph) GraphVersion() string { return g.graphVersion }

// Compile validates and compiles a node list, edge list, router
// attachments, and a start set into a CompiledGraph.
func Compile(nodes []NodeSpec, edges []Edge, routers map[string]Router, start []string) (*CompiledGraph, error) {
	nodesByID := make(map[string]NodeSpec, len(nodes))
	for _, n := range nodes {
		if _, exists := nodesByID[n.ID]; exists {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateNode, n.ID)
		}
		nodesByID[n.ID] = n
	}

	edgesFrom := make(map[string][]Edge)
	for _, e := range edges {
		if _, ok := nodesByID[e.From]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownEdgeEndpoint, e.From)
		}
		if _, ok := nodesByID[e.To]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownEdgeEndpoint, e.To)
		}
		edgesFrom[e.From] = append(edgesFrom[e.From], e)
	}

	for nodeID := range routers {
		if _, ok := nodesByID[nodeID]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrRouterUnknownNode, nodeID)
		}
	}

	if len(start) == 0 {
		return nil, ErrEmptyStartSet
	}
	for _, id := range start {
		if _, ok := nodesByID[id]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownEdgeEndpoint, id)
		}
	}

	return &CompiledGraph{
		nodesByID:    nodesByID,
		edgesFrom:    edgesFrom,
		routersFrom:  routers,
		startSet:     append([]string(nil), start...),
		graphVersion: computeGraphVersion(nodes, edges, start),
	}, nil
}

// computeGraphVersion hashes the compiled structure deterministically:
// sorted node ids, then sorted edges, then the sorted start set. The
// same hash-and-truncate technique the teacher uses for OrderKey
// computation (graph/scheduler.go), applied to whole-graph identity.
func computeGraphVersion(nodes []NodeSpec, edges []Edge, start []string) string {
	ids := make([]string, 0, len(nodes))
	for _, n := range nodes {
		ids = append(ids, n.ID)
	}
	sort.Strings(ids)

	edgeKeys := make([]string, 0, len(edges))
	for _, e := range edges {
		edgeKeys = append(edgeKeys, e.From+"->"+e.To)
	}
	sort.Strings(edgeKeys)

	startKeys := append([]string(nil), start...)
	sort.Strings(startKeys)

	h := sha256.New()
	for _, id := range ids {
		h.Write([]byte(id))
		h.Write([]byte{0})
	}
	h.Write([]byte{0xff})
	for _, k := range edgeKeys {
		h.Write([]byte(k))
		h.Write([]byte{0})
	}
	h.Write([]byte{0xff})
	for _, k := range startKeys {
		h.Write([]byte(k))
		h.Write([]byte{0})
	}

	sum := h.Sum(nil)
	return fmt.Sprintf("gv:%x", sum[:16])
}

// computeOrderKey is the deterministic tie-breaker for frontier entries
// that share a node id (resolveNextFrontier drops only exact node and
// provenance repeats, so one node can be scheduled more than once in a
// step under distinct provenances; the key is also used to order
// concurrent dispatch within a step). Adapted verbatim
// from the teacher's scheduler.go ComputeOrderKey.
func computeOrderKey(provenance string, nodeID string) uint64 {
	h := sha256.New()
	h.Write([]byte(provenance))
	h.Write([]byte{0})
	h.Write([]byte(nodeID))
	sum := h.Sum(nil)
	return binary.BigEndian.Uint64(sum[:8])
}
