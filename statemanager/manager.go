// Package statemanager exposes the running query graph's state for
// diagnostics: the set of tracked query nodes, their lifecycle state, and
// simple aggregate counts (spec.md §6's server introspection surface).
//
// It is a direct descendant of the teacher's operation-tracking Manager:
// where that Manager owned its own map of OperationState and mutated it
// as operations started/completed, this Manager owns no state of its own
// — a build's state already lives in query.Graph — and instead snapshots
// query.Graph.Snapshot() on every request.
package statemanager

import (
	"github.com/cealn-go/cealn/query"
)

// Manager serves read-only views of a query.Graph's node table.
type Manager struct {
	graph *query.Graph
}

// New creates a Manager backed by graph.
func New(graph *query.Graph) *Manager {
	return &Manager{graph: graph}
}

// ListNodes returns a snapshot of every tracked query node.
func (m *Manager) ListNodes() []query.NodeInfo {
	return m.graph.Snapshot()
}

// GetNode returns the node with the given canonical key, if tracked.
func (m *Manager) GetNode(key string) (query.NodeInfo, bool) {
	for _, n := range m.graph.Snapshot() {
		if n.Key == key {
			return n, true
		}
	}
	return query.NodeInfo{}, false
}

// Stats is aggregated counts over the tracked node set.
type Stats struct {
	TotalNodes int            `json:"total_nodes"`
	ByState    map[string]int `json:"by_state"`
	ByKind     map[string]int `json:"by_kind"`
}

// GetStats returns aggregated statistics over the current node set.
func (m *Manager) GetStats() Stats {
	nodes := m.graph.Snapshot()
	stats := Stats{
		TotalNodes: len(nodes),
		ByState:    make(map[string]int),
		ByKind:     make(map[string]int),
	}
	for _, n := range nodes {
		stats.ByState[n.State]++
		stats.ByKind[n.Kind]++
	}
	return stats
}
