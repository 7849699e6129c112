package materializer

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/cealn-go/cealn/cache"
	"github.com/cealn-go/cealn/depmap"
)

// Materialize expands d into a real directory tree rooted at dir, hard-
// linking regular files out of the content cache rather than copying them
// (spec.md §4.4: the sandbox sees real files, not a synthetic view, when
// FUSE is unavailable or the caller opts out of it). Symlinks are
// recreated verbatim; directories are created as needed.
func Materialize(c *cache.Cache, d *depmap.Depmap, dir string) error {
	pairs, err := d.Iter()
	if err != nil {
		return fmt.Errorf("materializer: iterating depmap: %w", err)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("materializer: creating root %s: %w", dir, err)
	}

	for _, p := range pairs {
		dest := filepath.Join(dir, filepath.FromSlash(p.Key))
		switch p.Entry.Kind {
		case depmap.KindDirectory:
			if err := os.MkdirAll(dest, 0o755); err != nil {
				return fmt.Errorf("materializer: creating directory %s: %w", dest, err)
			}
		case depmap.KindSymlink:
			if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
				return err
			}
			_ = os.Remove(dest)
			if err := os.Symlink(p.Entry.Target, dest); err != nil {
				return fmt.Errorf("materializer: symlinking %s: %w", dest, err)
			}
		case depmap.KindRegular:
			if !p.Entry.ContentRef.IsConcrete() {
				return fmt.Errorf("materializer: cannot materialize unresolved label entry at %s", p.Key)
			}
			src, ok := c.Lookup(p.Entry.ContentRef.Hash())
			if !ok {
				return fmt.Errorf("materializer: content %s for %s not in cache", p.Entry.ContentRef.Hash(), p.Key)
			}
			if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
				return err
			}
			_ = os.Remove(dest)
			if err := os.Link(src, dest); err != nil {
				if err := copyFile(src, dest, p.Entry.Executable); err != nil {
					return fmt.Errorf("materializer: materializing %s: %w", dest, err)
				}
			}
		}
	}
	return nil
}

func copyFile(src, dest string, executable bool) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	mode := os.FileMode(0o444)
	if executable {
		mode = 0o555
	}
	out, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}
