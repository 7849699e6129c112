package depmap

import (
	"crypto/sha256"
	"testing"

	"github.com/cealn-go/cealn/filehash"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmptyDepmap(t *testing.T) {
	b := Empty()
	pairs, err := b.Iter()
	require.NoError(t, err)
	assert.Empty(t, pairs)
	assert.Equal(t, sha256.Sum256(nil), b.Hash().Bytes())
}

func TestTransitiveMount(t *testing.T) {
	h1 := filehash.Sum(filehash.KindFile, []byte("content-1"))
	ab := NewBuilder()
	ab.Insert("a/b", Regular(h1, false))
	a := ab.Build()

	bb := NewBuilder()
	bb.Merge("sub", a)
	b := bb.Build()

	pairs, err := b.Iter()
	require.NoError(t, err)
	require.Len(t, pairs, 1)
	assert.Equal(t, "sub/a/b", pairs[0].Key)
	assert.True(t, pairs[0].Entry.ContentRef.Hash().Equal(h1))
}

func TestFilteredMount(t *testing.T) {
	h2 := filehash.Sum(filehash.KindFile, []byte("keep"))
	h3 := filehash.Sum(filehash.KindFile, []byte("skip"))
	ab := NewBuilder()
	ab.Insert("x/keep.txt", Regular(h2, false))
	ab.Insert("x/skip.txt", Regular(h3, false))
	a := ab.Build()

	bb := NewBuilder()
	bb.MergeFiltered("", "x", []string{`keep\.txt$`}, a)
	b := bb.Build()

	pairs, err := b.Iter()
	require.NoError(t, err)
	require.Len(t, pairs, 1)
	assert.Equal(t, "keep.txt", pairs[0].Key)
}

func TestDiamondDedup(t *testing.T) {
	h := filehash.Sum(filehash.KindFile, []byte("shared"))
	ab := NewBuilder()
	ab.Insert("f", Regular(h, false))
	a := ab.Build()

	bb := NewBuilder()
	bb.Merge("l", a)
	bb.Merge("r", a)
	b := bb.Build()

	pairs, err := b.Iter()
	require.NoError(t, err)
	keys := map[string]int{}
	for _, p := range pairs {
		keys[p.Key]++
	}
	assert.Equal(t, 1, keys["l/f"])
	assert.Equal(t, 1, keys["r/f"])
	assert.Len(t, pairs, 2)
}

func TestHashEquality(t *testing.T) {
	h := filehash.Sum(filehash.KindFile, []byte("x"))
	b1 := NewBuilder()
	b1.Insert("a", Regular(h, false))
	d1 := b1.Build()

	b2 := NewBuilder()
	b2.Insert("a", Regular(h, false))
	d2 := b2.Build()

	assert.True(t, d1.Hash().Equal(d2.Hash()))
}

func TestGet_LinearScan(t *testing.T) {
	h := filehash.Sum(filehash.KindFile, []byte("y"))
	b := NewBuilder()
	b.Insert("dir/file", Regular(h, true))
	d := b.Build()

	e, ok, err := d.Get("dir/file")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, e.Executable)

	_, ok, err = d.Get("dir/missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMakeConcrete(t *testing.T) {
	b := NewBuilder()
	b.Insert("a", RegularLabel("//pkg:lbl", false))
	d := b.Build()

	h := filehash.Sum(filehash.KindFile, []byte("resolved"))
	concrete, err := MakeConcrete(d, map[string]filehash.Hash{"//pkg:lbl": h})
	require.NoError(t, err)

	e, ok, err := concrete.Get("a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, e.ContentRef.IsConcrete())
	assert.True(t, e.ContentRef.Hash().Equal(h))
}

func TestRegistry_DeduplicatesByHash(t *testing.T) {
	r := NewRegistry()
	h := filehash.Sum(filehash.KindFile, []byte("z"))
	b1 := NewBuilder()
	b1.Insert("a", Regular(h, false))
	d1 := r.Register(b1.Build())

	b2 := NewBuilder()
	b2.Insert("a", Regular(h, false))
	d2 := r.Register(b2.Build())

	assert.Same(t, d1, d2)

	found, ok := r.Lookup(d1.Hash())
	require.True(t, ok)
	assert.Same(t, d1, found)
}
