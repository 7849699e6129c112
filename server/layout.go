// Package server bootstraps one running engine instance: it establishes
// the on-disk layout under a build root (spec.md §6), acquires the
// advisory server lock, and wires the cache/source-monitor/query-graph
// stack to an HTTP surface (introspection routes plus the BuildEvent
// WebSocket endpoint). It follows the teacher's cli/root.go bootstrap
// shape: load config, construct services, build an Echo server with
// middleware, serve in the background, wait for a shutdown signal, shut
// down gracefully — generalized from an HTTP API server fronting
// RabbitMQ/CouchDB to one fronting the query graph.
package server

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/cealn-go/cealn/cache"
	"github.com/cealn-go/cealn/common"
	"github.com/cealn-go/cealn/execengine"
	"github.com/cealn-go/cealn/query"
	"github.com/cealn-go/cealn/sourcemonitor"
)

// Layout is the on-disk directory structure rooted at one build root
// (spec.md §6's "On-disk layout").
type Layout struct {
	Root     string
	LockPath string // lock
	PIDPath  string // server.pid
	URLPath  string // api.url
	CacheDir string // cache/
	StateDir string // server/
	TmpDir   string // tmp/
}

// NewLayout computes the paths for root without creating anything.
func NewLayout(root string) Layout {
	return Layout{
		Root:     root,
		LockPath: filepath.Join(root, "lock"),
		PIDPath:  filepath.Join(root, "server.pid"),
		URLPath:  filepath.Join(root, "api.url"),
		CacheDir: filepath.Join(root, "cache"),
		StateDir: filepath.Join(root, "server"),
		TmpDir:   filepath.Join(root, "tmp"),
	}
}

// Prepare creates every directory in the layout and purges tmp/,
// unmounting any FUSE mounts left behind by a prior crashed server first
// (spec.md §6: "tmp/ ... purged at startup (unmounts any leftover FUSE
// mounts via fusermount3 -u first)").
func (l Layout) Prepare(log *common.ContextLogger) error {
	for _, d := range []string{l.Root, l.CacheDir, l.StateDir} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return fmt.Errorf("server: preparing %s: %w", d, err)
		}
	}
	if err := l.purgeTmp(log); err != nil {
		return err
	}
	if err := os.MkdirAll(l.TmpDir, 0o755); err != nil {
		return fmt.Errorf("server: recreating tmp dir: %w", err)
	}
	return nil
}

func (l Layout) purgeTmp(log *common.ContextLogger) error {
	entries, err := os.ReadDir(l.TmpDir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("server: reading tmp dir: %w", err)
	}
	for _, e := range entries {
		full := filepath.Join(l.TmpDir, e.Name())
		if e.IsDir() {
			// Bound each unmount so one wedged FUSE mount from a crashed
			// prior run can't hang server startup indefinitely.
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			out, err := common.ShellExecuteContext(ctx, fmt.Sprintf("fusermount3 -u %q", full))
			cancel()
			if err != nil {
				log.WithField("dir", full).WithError(err).WithField("output", out).Debug("fusermount3 -u failed (mount likely already gone)")
			}
		}
	}
	return os.RemoveAll(l.TmpDir)
}

// WriteRunFiles writes server.pid and api.url, and must be called after
// the HTTP listener is bound so apiURL reflects the actual address.
func (l Layout) WriteRunFiles(apiURL string) error {
	if err := os.WriteFile(l.PIDPath, []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
		return fmt.Errorf("server: writing server.pid: %w", err)
	}
	if err := os.WriteFile(l.URLPath, []byte(apiURL), 0o644); err != nil {
		return fmt.Errorf("server: writing api.url: %w", err)
	}
	return nil
}

// Cleanup removes the run files on shutdown. The lock is released by
// closing the file Lock returned.
func (l Layout) Cleanup() {
	os.Remove(l.PIDPath)
	os.Remove(l.URLPath)
}

// Services bundles the long-lived subsystems one server instance owns.
type Services struct {
	Layout  Layout
	Cache   *cache.Cache
	Monitor *sourcemonitor.Monitor
	Store   *query.Store
	Graph   *query.Graph
}

// NewServices prepares the layout and opens the cache, source monitor,
// durable query store and query graph rooted at workspaceRoot. jobs sizes
// the action-execution admission gate (spec.md §4.4 step 1); useFUSE
// selects the default input-mount mode for every Run action the graph
// dispatches (spec.md §4.4 step 5).
func NewServices(buildRoot, workspaceRoot string, jobs int, useFUSE bool, log *common.ContextLogger) (*Services, error) {
	layout := NewLayout(buildRoot)
	if err := layout.Prepare(log); err != nil {
		return nil, err
	}

	c, err := cache.Open(layout.CacheDir)
	if err != nil {
		return nil, fmt.Errorf("server: opening cache: %w", err)
	}

	mon, err := sourcemonitor.New(workspaceRoot, ".cealnignore")
	if err != nil {
		return nil, fmt.Errorf("server: starting source monitor: %w", err)
	}

	store, err := query.OpenStore(filepath.Join(layout.StateDir, "query.db"))
	if err != nil {
		return nil, fmt.Errorf("server: opening query store: %w", err)
	}

	graph := query.NewGraph(mon, store)
	registerActionHandler(graph, c, layout.TmpDir, jobs, useFUSE)

	return &Services{Layout: layout, Cache: c, Monitor: mon, Store: store, Graph: graph}, nil
}

// registerActionHandler installs the KindAction handler: every Action
// query the graph resolves dispatches through execengine.RunAction,
// admission-gated by a Semaphore sized to jobs (spec.md §4.3/§4.4 — the
// engine's own action executor, as distinct from the external rule
// interpreter that produces the actions in the first place).
func registerActionHandler(graph *query.Graph, c *cache.Cache, scratchRoot string, jobs int, useFUSE bool) {
	sem := execengine.NewSemaphore(jobs)
	graph.Register(query.KindAction, func(ctx context.Context, rc *query.RunContext, q query.Query) (query.Product, error) {
		return execengine.RunAction(ctx, c, sem, scratchRoot, useFUSE, q.Action)
	})
}

// Close releases the durable query store. The cache and source monitor
// hold no resources that need an explicit close.
func (s *Services) Close() error {
	return s.Store.Close()
}
