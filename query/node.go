package query

import (
	"context"
	"sync"
	"time"

	"github.com/cealn-go/cealn/filehash"
)

// State is the query node's lifecycle state (spec.md §3/§4.1).
type State int

const (
	StateEmpty State = iota
	StateRunning
	StateChecking
	StateCached
)

func (s State) String() string {
	switch s {
	case StateEmpty:
		return "empty"
	case StateRunning:
		return "running"
	case StateChecking:
		return "checking"
	case StateCached:
		return "cached"
	default:
		return "unknown"
	}
}

// Product is anything a query handler can compute. It must expose a
// stable content hash so that callers one level up can apply early
// cutoff by output equivalence even when this query had to re-run.
type Product interface {
	Hash() filehash.Hash
}

// Result is what a query resolves to: either a product or an error, plus
// the run ID of the execution (or cached execution) that produced it.
type Result struct {
	Product    Product
	Err        error
	OutputHash filehash.Hash
	RunID      uint64
}

type sourceRef struct {
	path string
}

type queryDep struct {
	node       *QueryNode
	outputHash filehash.Hash
	runID      uint64
}

// QueryNode is the stable identity for one distinct Query value, holding
// its state-machine state and (once Cached) the dependencies a future
// request must re-validate.
type QueryNode struct {
	key   string
	query Query

	mu            sync.Mutex
	state         State
	interest      int
	cancel        context.CancelFunc
	result        Result
	sources       []sourceRef
	queryDeps     []queryDep
	lastCheckTime time.Time
	knownDirty    bool
	runID         uint64

	backrefs map[*QueryNode]struct{}
}

// State reports the node's current lifecycle state.
func (n *QueryNode) State() State {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state
}

// Query returns the query value this node was created for.
func (n *QueryNode) Query() Query { return n.query }

// KnownDirty reports whether a watched source or dependency has changed
// since this node was last validated (informational; the next Request
// re-validates regardless).
func (n *QueryNode) KnownDirty() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.knownDirty
}

// Interest reports the number of callers currently holding this node
// warm (for introspection; see Graph.Snapshot).
func (n *QueryNode) Interest() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.interest
}
