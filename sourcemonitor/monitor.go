// Package sourcemonitor watches the workspace filesystem, hashes files
// lazily, tracks directory membership, and notifies registered wakers on
// change. The concrete watcher backend is fsnotify, the library the
// teacher's CLI stack already pulls in indirectly via Viper.
package sourcemonitor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cealn-go/cealn/common"
	"github.com/cealn-go/cealn/filehash"
	"github.com/fsnotify/fsnotify"
)

// NodeKind discriminates the observation sum type held per monitored path.
type NodeKind int

const (
	KindFile NodeKind = iota
	KindDirectory
	KindSymlink
	KindNotFound
)

// Observation is the cached state for one monitored path.
type Observation struct {
	Kind     NodeKind
	Mtime    time.Time
	Inode    uint64
	Hash     filehash.Hash // not filled in by Monitor; HashFile returns content hashes directly
	Exec     bool
	Target   string          // valid iff Kind == KindSymlink
	Children map[string]bool // valid iff Kind == KindDirectory
}

// Waker is invoked when the observation for a watched path changes.
type Waker func(path string)

// Monitor is the process-wide source monitor singleton (per spec.md §9,
// one per server process, rooted at a workspace).
type Monitor struct {
	root    string
	watcher *fsnotify.Watcher
	ignore  *IgnoreMatcher

	mu     sync.Mutex
	nodes  map[string]*Observation
	wakers map[string][]Waker

	log *common.ContextLogger
}

// New creates a Monitor rooted at root, using ignoreFile (gitignore-style,
// may be empty) for filtering.
func New(root, ignoreFile string) (*Monitor, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("sourcemonitor: creating watcher: %w", err)
	}
	ign, err := LoadIgnoreMatcher(ignoreFile)
	if err != nil {
		return nil, err
	}
	m := &Monitor{
		root:    root,
		watcher: w,
		ignore:  ign,
		nodes:   make(map[string]*Observation),
		wakers:  make(map[string][]Waker),
		log:     common.NewContextLogger(common.Logger, map[string]interface{}{"component": "sourcemonitor"}),
	}
	if err := m.addRecursive(root); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Monitor) addRecursive(dir string) error {
	if m.ignore.Match(dir) {
		return nil
	}
	if err := m.watcher.Add(dir); err != nil {
		return fmt.Errorf("sourcemonitor: watching %s: %w", dir, err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil // directory may have disappeared between stat and readdir; next observe() call reports NotFound
	}
	for _, e := range entries {
		if e.IsDir() {
			if err := m.addRecursive(filepath.Join(dir, e.Name())); err != nil {
				return err
			}
		}
	}
	return nil
}

// Run processes filesystem events until ctx is cancelled, waking
// registered wakers for every path whose observation is invalidated.
func (m *Monitor) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return m.watcher.Close()
		case ev, ok := <-m.watcher.Events:
			if !ok {
				return nil
			}
			m.invalidate(ev.Name)
			if ev.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					_ = m.addRecursive(ev.Name)
				}
			}
		case err, ok := <-m.watcher.Errors:
			if !ok {
				return nil
			}
			m.log.WithField("error", err).Warn("watcher error")
		}
	}
}

func (m *Monitor) invalidate(path string) {
	m.mu.Lock()
	delete(m.nodes, path)
	wakers := m.wakers[path]
	delete(m.wakers, path)
	m.mu.Unlock()

	for _, w := range wakers {
		w(path)
	}
}

// Observe returns the current observation for path, statting it if none is
// cached, and registers waker to be invoked the next time this path's
// observation is invalidated. It does not hash file contents; HashFile
// does that on demand.
func (m *Monitor) Observe(path string, waker Waker) (*Observation, error) {
	m.mu.Lock()
	if obs, ok := m.nodes[path]; ok {
		if waker != nil {
			m.wakers[path] = append(m.wakers[path], waker)
		}
		m.mu.Unlock()
		return obs, nil
	}
	m.mu.Unlock()

	obs, err := m.stat(path)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.nodes[path] = obs
	if waker != nil {
		m.wakers[path] = append(m.wakers[path], waker)
	}
	m.mu.Unlock()
	return obs, nil
}

func (m *Monitor) stat(path string) (*Observation, error) {
	if m.ignore.Match(path) {
		return &Observation{Kind: KindNotFound}, nil
	}
	info, err := os.Lstat(path)
	if os.IsNotExist(err) {
		return &Observation{Kind: KindNotFound}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sourcemonitor: stat %s: %w", path, err)
	}

	inode := inodeOf(info)

	switch {
	case info.Mode()&os.ModeSymlink != 0:
		target, err := os.Readlink(path)
		if err != nil {
			return nil, fmt.Errorf("sourcemonitor: readlink %s: %w", path, err)
		}
		return &Observation{Kind: KindSymlink, Mtime: info.ModTime(), Inode: inode, Target: target}, nil
	case info.IsDir():
		entries, err := os.ReadDir(path)
		if err != nil {
			return nil, fmt.Errorf("sourcemonitor: readdir %s: %w", path, err)
		}
		children := make(map[string]bool, len(entries))
		for _, e := range entries {
			if !m.ignore.Match(filepath.Join(path, e.Name())) {
				children[e.Name()] = true
			}
		}
		return &Observation{Kind: KindDirectory, Mtime: info.ModTime(), Inode: inode, Children: children}, nil
	default:
		return &Observation{
			Kind:  KindFile,
			Mtime: info.ModTime(),
			Inode: inode,
			Exec:  info.Mode()&0o111 != 0,
		}, nil
	}
}

// HashFile implements §4.5's hashing protocol: read while recording
// pre/post (mtime, inode); if they differ, retry up to 16 times to catch
// concurrent writers; otherwise fail.
func (m *Monitor) HashFile(path string) (filehash.Hash, error) {
	const maxAttempts = 16
	var last error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		before, err := os.Lstat(path)
		if err != nil {
			return filehash.Hash{}, fmt.Errorf("sourcemonitor: stat before hash %s: %w", path, err)
		}
		h, err := hashFileContents(path)
		if err != nil {
			last = err
			continue
		}
		after, err := os.Lstat(path)
		if err != nil {
			return filehash.Hash{}, fmt.Errorf("sourcemonitor: stat after hash %s: %w", path, err)
		}
		if before.ModTime().Equal(after.ModTime()) && inodeOf(before) == inodeOf(after) {
			return h, nil
		}
		last = fmt.Errorf("sourcemonitor: concurrent write detected on %s", path)
	}
	return filehash.Hash{}, fmt.Errorf("sourcemonitor: giving up hashing %s after %d attempts: %w", path, maxAttempts, last)
}

// HasChangedUntil re-stats path and compares the result with its last
// recorded observation: kind, mtime, inode and executable bit for files,
// target for symlinks, membership for directories. t is not consulted and
// file contents are not re-hashed, so a file whose mtime or inode changed
// is reported changed even when its contents are the same. A path with no
// recorded observation is observed now and reported changed.
func (m *Monitor) HasChangedUntil(path string, t time.Time) (bool, error) {
	m.mu.Lock()
	prev, ok := m.nodes[path]
	m.mu.Unlock()
	if !ok {
		// No observation recorded yet: treat as changed so the caller
		// establishes a fresh baseline.
		_, err := m.Observe(path, nil)
		return true, err
	}

	fresh, err := m.stat(path)
	if err != nil {
		return false, err
	}

	changed := !observationsEquivalent(prev, fresh)
	if changed {
		m.mu.Lock()
		m.nodes[path] = fresh
		m.mu.Unlock()
	}
	return changed, nil
}

func observationsEquivalent(a, b *Observation) bool {
	if a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case KindNotFound:
		return true
	case KindFile:
		return a.Mtime.Equal(b.Mtime) && a.Inode == b.Inode && a.Exec == b.Exec
	case KindSymlink:
		return a.Target == b.Target
	case KindDirectory:
		if len(a.Children) != len(b.Children) {
			return false
		}
		for k := range a.Children {
			if !b.Children[k] {
				return false
			}
		}
		return true
	}
	return false
}
