// Package cache implements the content-addressed on-disk store mapping a
// file hash to a file path, with atomic insertion via rename so readers
// never observe a partially-written entry. Grounded on the teacher's
// download-to-temp-then-rename idiom (network/downloader.go's
// DownloadFile), generalized into a general-purpose cache.
package cache

import (
	"crypto/sha256"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/cealn-go/cealn/common"
	"github.com/cealn-go/cealn/filehash"
	"github.com/dustin/go-humanize"
)

// Cache is the on-disk content-addressed store rooted at Dir.
type Cache struct {
	Dir string

	mu      sync.Mutex
	bytesIn uint64 // cumulative bytes moved into the cache, for introspection
}

// Open returns a Cache rooted at dir, creating it if necessary.
func Open(dir string) (*Cache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cache: creating root %s: %w", dir, err)
	}
	return &Cache{Dir: dir}, nil
}

func (c *Cache) path(h filehash.Hash) string {
	hex := h.Hex()
	// Fan out into a two-level prefix directory so a single cache
	// directory never holds an unbounded number of entries.
	return filepath.Join(c.Dir, hex[:2], hex[2:])
}

// Lookup returns the cache path for hash if present.
func (c *Cache) Lookup(h filehash.Hash) (string, bool) {
	p := c.path(h)
	if _, err := os.Stat(p); err != nil {
		return "", false
	}
	return p, true
}

// MoveInto publishes temp (a scratch file the caller owns) into the cache
// under hash, atomically via rename, and returns the final path. If an
// entry already exists under hash, temp is discarded (the content is
// identical by the hash's definition) and the existing path is returned.
func (c *Cache) MoveInto(temp string, h filehash.Hash, executable bool) (string, error) {
	dest := c.path(h)
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", fmt.Errorf("cache: preparing directory for %s: %w", h, err)
	}

	mode := os.FileMode(0o444)
	if executable {
		mode = 0o555
	}
	if err := os.Chmod(temp, mode); err != nil {
		return "", fmt.Errorf("cache: chmod scratch file: %w", err)
	}

	if err := os.Rename(temp, dest); err != nil {
		if os.IsExist(err) {
			_ = os.Remove(temp)
			return dest, nil
		}
		// Cross-filesystem rename can fail; fall back to copy+rename
		// within the cache directory, matching the teacher's
		// .tmp-then-rename pattern for network downloads.
		if copyErr := copyThenRename(temp, dest, mode); copyErr != nil {
			return "", fmt.Errorf("cache: publishing %s: %w", h, copyErr)
		}
	}

	if info, err := os.Stat(dest); err == nil {
		c.mu.Lock()
		c.bytesIn += uint64(info.Size())
		c.mu.Unlock()
	}

	common.Logger.WithField("component", "cache").
		WithField("hash", h.String()).
		Debugf("published %s (%s)", dest, humanize.Bytes(uint64(mustSize(dest))))

	return dest, nil
}

func mustSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}

func copyThenRename(src, dest string, mode os.FileMode) error {
	scratch := dest + ".tmp"
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(scratch, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		_ = os.Remove(scratch)
		return err
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(scratch)
		return err
	}
	if err := os.Rename(scratch, dest); err != nil {
		if os.IsExist(err) {
			_ = os.Remove(scratch)
			return nil
		}
		return err
	}
	return nil
}

// HashFile computes the content hash of an existing file without
// publishing it, used by callers that need the hash before deciding
// whether to call MoveInto.
func HashFile(path string) (filehash.Hash, error) {
	f, err := os.Open(path)
	if err != nil {
		return filehash.Hash{}, err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return filehash.Hash{}, err
	}
	var sum [32]byte
	copy(sum[:], h.Sum(nil))
	hex := fmt.Sprintf("%x", sum)
	return filehash.ParseHex(filehash.KindFile, hex)
}

// BytesIn returns the cumulative number of bytes moved into the cache
// since this Cache handle was opened, for introspection/metrics.
func (c *Cache) BytesIn() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bytesIn
}
