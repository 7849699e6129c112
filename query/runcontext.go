package query

import (
	"context"
	"sync"
	"time"

	"github.com/cealn-go/cealn/sourcemonitor"
)

// RunContext is threaded through a Handler invocation so it can record its
// query dependencies and source-file references as it runs, per the
// "Running a query" contract of spec.md §4.1.
type RunContext struct {
	graph       *Graph
	node        *QueryNode
	requestTime time.Time

	mu        sync.Mutex
	sources   []sourceRef
	queryDeps []queryDep
}

func newRunContext(g *Graph, node *QueryNode, requestTime time.Time) *RunContext {
	return &RunContext{graph: g, node: node, requestTime: requestTime}
}

// Query runs or validates a sub-query and records it as a dependency of
// the query currently executing, so a future re-validation of this query
// knows to re-check it.
func (rc *RunContext) Query(ctx context.Context, q Query) (Result, error) {
	calleeNode := rc.graph.nodeFor(q)
	res, release := rc.graph.requestNode(ctx, calleeNode, rc.requestTime, rc.node)
	release()

	rc.mu.Lock()
	rc.queryDeps = append(rc.queryDeps, queryDep{node: calleeNode, outputHash: res.OutputHash, runID: res.RunID})
	rc.mu.Unlock()

	return res, res.Err
}

// ReferenceSourceFile records path as a source dependency of the query
// currently executing and installs a change waker so a future
// invalidation reaches this query's node.
func (rc *RunContext) ReferenceSourceFile(path string) (*sourcemonitor.Observation, error) {
	rc.mu.Lock()
	rc.sources = append(rc.sources, sourceRef{path: path})
	rc.mu.Unlock()

	return rc.graph.monitor.Observe(path, rc.graph.sourceWaker(rc.node))
}
