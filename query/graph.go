package query

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/cealn-go/cealn/sourcemonitor"
)

// Handler computes the product for one query kind. It records query
// dependencies via rc.Query and source-file dependencies via
// rc.ReferenceSourceFile, mirroring how the driver wraps the user-supplied
// run function in spec.md §4.1.
type Handler func(ctx context.Context, rc *RunContext, q Query) (Product, error)

// Graph is the demand-driven, content-hashing, watch-capable dependency
// graph of spec.md §4.1. Concurrent requests for the same query value
// share one in-flight execution (golang.org/x/sync/singleflight), which
// is this engine's Go-idiomatic substitute for the waiter-list the
// Running/Checking states describe.
type Graph struct {
	monitor *sourcemonitor.Monitor
	store   *Store

	mu       sync.Mutex
	nodes    map[string]*QueryNode
	handlers map[Kind]Handler
	runIDSeq uint64

	sf singleflight.Group
}

// NewGraph creates a Graph backed by monitor for source-change validation
// and, if store is non-nil, durable result persistence across restarts.
func NewGraph(monitor *sourcemonitor.Monitor, store *Store) *Graph {
	return &Graph{
		monitor:  monitor,
		store:    store,
		nodes:    make(map[string]*QueryNode),
		handlers: make(map[Kind]Handler),
	}
}

// Register installs the handler invoked to compute the product of every
// query of the given kind. Call once per kind before serving requests.
func (g *Graph) Register(kind Kind, h Handler) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.handlers[kind] = h
}

func (g *Graph) nodeFor(q Query) *QueryNode {
	key := q.key()
	g.mu.Lock()
	defer g.mu.Unlock()
	n, ok := g.nodes[key]
	if !ok {
		n = &QueryNode{key: key, query: q, backrefs: make(map[*QueryNode]struct{})}
		g.nodes[key] = n
	}
	return n
}

func (g *Graph) nextRunID() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.runIDSeq++
	return g.runIDSeq
}

// Node looks up the node for q without creating it, for introspection
// (e.g. a server route listing in-flight queries).
func (g *Graph) Node(q Query) (*QueryNode, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	n, ok := g.nodes[q.key()]
	return n, ok
}

// NodeInfo is a point-in-time snapshot of one query node, for the
// introspection HTTP routes (spec.md §6's on-disk/diagnostic surface).
type NodeInfo struct {
	Key      string
	Kind     string
	Label    string
	Config   string
	State    string
	Interest int
}

// Snapshot returns a point-in-time view of every node currently tracked
// by the graph, keyed by its canonical string identity.
func (g *Graph) Snapshot() []NodeInfo {
	g.mu.Lock()
	nodes := make([]*QueryNode, 0, len(g.nodes))
	for _, n := range g.nodes {
		nodes = append(nodes, n)
	}
	g.mu.Unlock()

	out := make([]NodeInfo, 0, len(nodes))
	for _, n := range nodes {
		q := n.Query()
		out = append(out, NodeInfo{
			Key:      q.key(),
			Kind:     q.Kind.String(),
			Label:    q.Label.Display(),
			Config:   q.Config,
			State:    n.State().String(),
			Interest: n.Interest(),
		})
	}
	return out
}

// Request runs or validates q and returns its result, plus a release
// function the caller must invoke once it no longer needs this query kept
// warm. requestTime should be shared across every query spawned from one
// top-level build request, so a dependency reused by multiple peers
// validates at most once per request.
func (g *Graph) Request(ctx context.Context, q Query, requestTime time.Time) (Result, func()) {
	return g.requestNode(ctx, g.nodeFor(q), requestTime, nil)
}

func (g *Graph) requestNode(ctx context.Context, node *QueryNode, requestTime time.Time, caller *QueryNode) (Result, func()) {
	node.mu.Lock()
	if caller != nil {
		node.backrefs[caller] = struct{}{}
	}
	node.interest++
	state := node.state
	cached := node.result
	lastCheck := node.lastCheckTime
	node.mu.Unlock()

	release := func() {
		node.mu.Lock()
		if node.interest > 0 {
			node.interest--
		}
		if node.interest == 0 && node.cancel != nil {
			node.cancel()
		}
		node.mu.Unlock()
	}

	// Cached{...} on a request with request_time <= last_check_time: serve
	// immediately without re-validating anything.
	if state == StateCached && !requestTime.After(lastCheck) {
		return cached, release
	}

	res, _, _ := g.sf.Do(node.key, func() (interface{}, error) {
		node.mu.Lock()
		st := node.state
		node.mu.Unlock()
		if st == StateCached {
			return g.check(ctx, node, requestTime), nil
		}
		return g.run(ctx, node, requestTime), nil
	})
	return res.(Result), release
}

func (g *Graph) run(ctx context.Context, node *QueryNode, requestTime time.Time) Result {
	node.mu.Lock()
	node.state = StateRunning
	runCtx, cancel := context.WithCancel(ctx)
	node.cancel = cancel
	node.mu.Unlock()

	g.mu.Lock()
	handler, ok := g.handlers[node.query.Kind]
	g.mu.Unlock()

	if !ok {
		res := Result{Err: fmt.Errorf("query: no handler registered for kind %s", node.query.Kind)}
		node.mu.Lock()
		node.cancel = nil
		node.state = StateEmpty
		node.result = res
		node.mu.Unlock()
		return res
	}

	rc := newRunContext(g, node, requestTime)
	product, err := handler(runCtx, rc, node.query)
	runID := g.nextRunID()

	node.mu.Lock()
	node.cancel = nil
	if err != nil {
		// §7: query errors are cached against the node but never served
		// from cache — state returns to Empty so the next request always
		// re-runs, but the error is still handed back to this caller.
		node.state = StateEmpty
		node.result = Result{Err: err, RunID: runID}
	} else {
		node.state = StateCached
		node.result = Result{Product: product, OutputHash: product.Hash(), RunID: runID}
		node.sources = rc.sources
		node.queryDeps = rc.queryDeps
		node.lastCheckTime = requestTime
		node.knownDirty = false
		node.runID = runID
	}
	res := node.result
	node.mu.Unlock()

	if err == nil && g.store != nil {
		_ = g.store.PutResult(node.key, res)
	}
	return res
}

// check implements check_cached_result: concurrently re-validates every
// query dependency (via checkUpToDate's early-cutoff-by-output-equivalence)
// and every source reference (via the source monitor), racing to the first
// failure. A valid result is served from cache with refreshed watchers and
// back-references; an invalid one falls through to a fresh run.
func (g *Graph) check(ctx context.Context, node *QueryNode, requestTime time.Time) Result {
	node.mu.Lock()
	node.state = StateChecking
	deps := append([]queryDep(nil), node.queryDeps...)
	srcs := append([]sourceRef(nil), node.sources...)
	cached := node.result
	node.mu.Unlock()

	checkCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var mu sync.Mutex
	valid := true
	fail := func() {
		mu.Lock()
		valid = false
		mu.Unlock()
		cancel()
	}

	var wg sync.WaitGroup
	for _, d := range deps {
		d := d
		wg.Add(1)
		go func() {
			defer wg.Done()
			if checkCtx.Err() != nil {
				return
			}
			if !g.checkUpToDate(checkCtx, d, requestTime) {
				fail()
			}
		}()
	}
	for _, s := range srcs {
		s := s
		wg.Add(1)
		go func() {
			defer wg.Done()
			if checkCtx.Err() != nil {
				return
			}
			changed, err := g.monitor.HasChangedUntil(s.path, requestTime)
			if err != nil || changed {
				fail()
			}
		}()
	}
	wg.Wait()

	if valid {
		node.mu.Lock()
		node.state = StateCached
		node.lastCheckTime = requestTime
		node.knownDirty = false
		node.mu.Unlock()

		for _, s := range srcs {
			_, _ = g.monitor.Observe(s.path, g.sourceWaker(node))
		}
		for _, d := range deps {
			d.node.mu.Lock()
			d.node.backrefs[node] = struct{}{}
			d.node.mu.Unlock()
		}
		return cached
	}

	node.mu.Lock()
	node.state = StateEmpty
	node.mu.Unlock()
	return g.run(ctx, node, requestTime)
}

// checkUpToDate recursively validates dep's callee node and applies early
// cutoff by output equivalence (spec.md §4.1, scenario 5 of §8): even if
// the callee had to re-run, the caller is still valid if the fresh output
// hash equals the one recorded when the caller was last cached.
func (g *Graph) checkUpToDate(ctx context.Context, dep queryDep, requestTime time.Time) bool {
	res, release := g.requestNode(ctx, dep.node, requestTime, nil)
	defer release()
	if res.Err != nil {
		return false
	}
	return res.OutputHash.Equal(dep.outputHash)
}

func (g *Graph) sourceWaker(node *QueryNode) sourcemonitor.Waker {
	return func(path string) {
		g.markDirty(node, make(map[*QueryNode]bool))
	}
}

// markDirty implements dirty propagation: waking a node sets known_dirty
// and recurses to every caller recorded via back-references.
func (g *Graph) markDirty(node *QueryNode, seen map[*QueryNode]bool) {
	if seen[node] {
		return
	}
	seen[node] = true

	node.mu.Lock()
	node.knownDirty = true
	backrefs := make([]*QueryNode, 0, len(node.backrefs))
	for b := range node.backrefs {
		backrefs = append(backrefs, b)
	}
	node.mu.Unlock()

	for _, b := range backrefs {
		g.markDirty(b, seen)
	}
}
