// Package fuseserver serves a concrete depmap to processes inside a
// sandbox namespace over an in-process FUSE filesystem (spec.md §4.4.2),
// built on github.com/hanwen/go-fuse/v2's high-level node API.
package fuseserver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"syscall"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/cealn-go/cealn/cache"
	"github.com/cealn-go/cealn/common"
	"github.com/cealn-go/cealn/depmap"
)

// node is one inode: either a directory (synthesized or explicit) or a
// leaf entry (regular file or symlink) from the served depmap. Entries
// are keyed by normalized descending path per spec.md §4.4.2's "Inode
// table" description.
type node struct {
	fs.Inode

	path string // normalized path within the served depmap, "" for root
	kind depmap.EntryKind
	ref  *fuseServer

	// KindRegular
	contentPath string
	size        int64
	executable  bool

	// KindSymlink
	target string
}

var (
	_ fs.NodeGetattrer = (*node)(nil)
	_ fs.NodeLookuper  = (*node)(nil)
	_ fs.NodeReaddirer = (*node)(nil)
	_ fs.NodeOpener    = (*node)(nil)
	_ fs.NodeReadlinker = (*node)(nil)
)

// fuseServer holds the path->node index for one mounted depmap, built
// once at mount time by a single pass over Iter() (spec.md §4.4.2's
// "Inode table" construction, including implicit ancestor directories).
type fuseServer struct {
	cache   *cache.Cache
	log     *common.ContextLogger
	mu      sync.Mutex
	server  *fuse.Server
	root    *node
	mountAt string
}

// Mount builds the inode table for d and starts serving it at mountAt.
// The returned Mount must be stopped with Unmount to release the kernel
// mount point; dropping it without calling Unmount leaves the
// mount in place, matching spec.md §4.4.2's explicit-shutdown lifecycle.
func Mount(c *cache.Cache, d *depmap.Depmap, mountAt string, numThreads int) (*Mount, error) {
	log := common.NewContextLogger(common.Logger, map[string]interface{}{
		"component": "fuseserver",
		"mount":     mountAt,
	})

	srv := &fuseServer{cache: c, log: log, mountAt: mountAt}
	root := &node{path: "", kind: depmap.KindDirectory, ref: srv}
	srv.root = root

	pairs, err := d.Iter()
	if err != nil {
		return nil, fmt.Errorf("fuseserver: iterating depmap: %w", err)
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].Key < pairs[j].Key })

	index := map[string]*node{"": root}
	ensureDir := func(path string) *node {
		if n, ok := index[path]; ok {
			return n
		}
		n := &node{path: path, kind: depmap.KindDirectory, ref: srv}
		index[path] = n
		return n
	}
	var walkAncestors func(path string) *node
	walkAncestors = func(path string) *node {
		if path == "" {
			return root
		}
		if n, ok := index[path]; ok {
			return n
		}
		parentPath := parentOf(path)
		parent := walkAncestors(parentPath)
		child := ensureDir(path)
		parent.AddChild(baseOf(path), &child.Inode, true)
		return child
	}

	for _, p := range pairs {
		parentPath := parentOf(p.Key)
		parent := walkAncestors(parentPath)

		n := &node{path: p.Key, kind: p.Entry.Kind, ref: srv}
		switch p.Entry.Kind {
		case depmap.KindRegular:
			if p.Entry.ContentRef.IsConcrete() {
				if cp, ok := c.Lookup(p.Entry.ContentRef.Hash()); ok {
					n.contentPath = cp
				}
			}
			n.executable = p.Entry.Executable
		case depmap.KindSymlink:
			n.target = p.Entry.Target
		case depmap.KindDirectory:
			index[p.Key] = n
		}
		parent.AddChild(baseOf(p.Key), &n.Inode, true)
	}

	opts := &fs.Options{
		MountOptions: fuse.MountOptions{
			FsName:        "cealn-depmap",
			Name:          "cealn",
			MaxBackground: numThreads,
		},
	}
	server, err := fs.Mount(mountAt, root, opts)
	if err != nil {
		return nil, fmt.Errorf("fuseserver: mounting at %s: %w", mountAt, err)
	}
	srv.server = server

	log.WithField("entries", len(pairs)).Info("depmap mounted")
	return &Mount{srv: srv}, nil
}

func parentOf(path string) string {
	idx := strings.LastIndexByte(path, '/')
	if idx < 0 {
		return ""
	}
	return path[:idx]
}

func baseOf(path string) string {
	idx := strings.LastIndexByte(path, '/')
	if idx < 0 {
		return path
	}
	return path[idx+1:]
}

// Mount is a live FUSE mount of one depmap.
type Mount struct {
	srv      *fuseServer
	shutdown bool
}

// Unmount stops serving and unmounts. Idempotent.
func (m *Mount) Unmount() error {
	m.srv.mu.Lock()
	defer m.srv.mu.Unlock()
	if m.shutdown {
		return nil
	}
	m.shutdown = true
	return m.srv.server.Unmount()
}

// Wait blocks until the mount is unmounted (by a caller or by the
// kernel), matching the FUSE session lifecycle described in spec.md
// §4.4.2's "Threading"/"Lifecycle" notes.
func (m *Mount) Wait() { m.srv.server.Wait() }

func (n *node) Getattr(ctx context.Context, f fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	switch n.kind {
	case depmap.KindDirectory:
		out.Mode = syscall.S_IFDIR | 0o755
	case depmap.KindSymlink:
		out.Mode = syscall.S_IFLNK | 0o777
		out.Size = uint64(len(n.target))
	case depmap.KindRegular:
		mode := uint32(0o444)
		if n.executable {
			mode = 0o555
		}
		out.Mode = syscall.S_IFREG | mode
		out.Size = uint64(n.size)
	}
	return 0
}

func (n *node) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	child := n.GetChild(name)
	if child == nil {
		return nil, syscall.ENOENT
	}
	return child, 0
}

func (n *node) Readdir(ctx context.Context) (fs.DirStream, syscall.Errno) {
	children := n.Children()
	entries := make([]fuse.DirEntry, 0, len(children))
	for name, child := range children {
		mode := uint32(syscall.S_IFDIR)
		if cn, ok := child.Operations().(*node); ok {
			switch cn.kind {
			case depmap.KindRegular:
				mode = syscall.S_IFREG
			case depmap.KindSymlink:
				mode = syscall.S_IFLNK
			}
		}
		entries = append(entries, fuse.DirEntry{Name: name, Mode: mode})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return fs.NewListDirStream(entries), 0
}

func (n *node) Readlink(ctx context.Context) ([]byte, syscall.Errno) {
	if n.kind != depmap.KindSymlink {
		return nil, syscall.EINVAL
	}
	return []byte(n.target), 0
}

// fileHandle wraps an opened cache file; all mutating operations return
// EACCES per spec.md §4.4.2's read-only contract.
type fileHandle struct {
	f *os.File
}

var _ fs.FileReader = (*fileHandle)(nil)

func (n *node) Open(ctx context.Context, flags uint32) (fs.FileHandle, uint32, syscall.Errno) {
	if n.kind != depmap.KindRegular {
		return nil, 0, syscall.EISDIR
	}
	if n.contentPath == "" {
		return nil, 0, syscall.ENOENT
	}
	if flags&(syscall.O_WRONLY|syscall.O_RDWR) != 0 {
		return nil, 0, syscall.EACCES
	}
	f, err := os.Open(n.contentPath)
	if err != nil {
		return nil, 0, syscall.EIO
	}
	return &fileHandle{f: f}, 0, 0
}

func (h *fileHandle) Read(ctx context.Context, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	n, err := h.f.ReadAt(dest, off)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, syscall.EIO
	}
	return fuse.ReadResultData(dest[:n]), 0
}

func (h *fileHandle) Release(ctx context.Context) syscall.Errno {
	h.f.Close()
	return 0
}

var _ fs.FileReleaser = (*fileHandle)(nil)
