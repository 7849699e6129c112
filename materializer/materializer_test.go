package materializer

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cealn-go/cealn/cache"
	"github.com/cealn-go/cealn/depmap"
)

func TestMaterialize_RegularSymlinkAndDirectory(t *testing.T) {
	root := t.TempDir()
	c, err := cache.Open(filepath.Join(root, "cache"))
	require.NoError(t, err)

	scratch := filepath.Join(root, "scratch.txt")
	require.NoError(t, os.WriteFile(scratch, []byte("payload"), 0o644))
	h, err := cache.HashFile(scratch)
	require.NoError(t, err)
	_, err = c.MoveInto(scratch, h, false)
	require.NoError(t, err)

	b := depmap.NewBuilder()
	b.Insert("bin/tool.txt", depmap.Regular(h, false))
	b.Insert("empty-dir", depmap.Directory())
	b.Insert("link", depmap.Symlink("bin/tool.txt"))
	d := b.Build()

	out := filepath.Join(root, "out")
	require.NoError(t, Materialize(c, d, out))

	assert.FileExists(t, filepath.Join(out, "bin/tool.txt"))
	assert.DirExists(t, filepath.Join(out, "empty-dir"))

	target, err := os.Readlink(filepath.Join(out, "link"))
	require.NoError(t, err)
	assert.Equal(t, "bin/tool.txt", target)
}
