package depmap

import (
	"encoding/binary"
	"fmt"

	"github.com/cealn-go/cealn/filehash"
)

const (
	tagElement    byte = 1
	tagTransitive byte = 2
	tagFilter     byte = 3
)

// ParseError is returned when deserializing a corrupted depmap byte buffer,
// or when a child's recorded hash does not match its node's actual hash
// during iteration (registry corruption).
type ParseError struct {
	Reason string
}

func (e *ParseError) Error() string { return fmt.Sprintf("depmap: parse error: %s", e.Reason) }

// Depmap is an immutable mapping from normalized paths to file entries,
// plus references to other depmaps. Its identity is the SHA-256 digest of
// its serialized buffer, computed incrementally at build time. Two
// depmaps are equal iff their hashes are equal.
type Depmap struct {
	buf      []byte
	children []*Depmap // parallel strong references for transitive/filter entries, in buffer order
	hash     filehash.Hash
}

// Hash returns this depmap's stable content-addressed identity.
func (d *Depmap) Hash() filehash.Hash { return d.hash }

// Buf exposes the serialized byte buffer (for persistence/registry storage).
func (d *Depmap) Buf() []byte { return d.buf }

// Children returns the depmaps directly referenced by this one's
// transitive/filtered merge entries, in insertion order. Used by the
// sandbox package to compute overlayfs lower-dir stacking order via a
// post-order DFS over this graph.
func (d *Depmap) Children() []*Depmap { return d.children }

// Builder accumulates entries and references into a new Depmap.
type Builder struct {
	buf      []byte
	children []*Depmap
	digest   *filehash.Builder
}

// NewBuilder starts an empty depmap builder.
func NewBuilder() *Builder {
	return &Builder{digest: filehash.NewBuilder(filehash.KindDepmap)}
}

func appendString(buf []byte, s string) []byte {
	var lenBuf [8]byte
	binary.LittleEndian.PutUint64(lenBuf[:], uint64(len(s)))
	buf = append(buf, lenBuf[:]...)
	buf = append(buf, s...)
	return buf
}

func (b *Builder) append(p []byte) {
	b.buf = append(b.buf, p...)
	_, _ = b.digest.Write(p)
}

// Insert appends a direct entry at key.
func (b *Builder) Insert(key string, e Entry) {
	var rec []byte
	rec = append(rec, tagElement)
	rec = appendString(rec, key)
	rec = append(rec, byte(e.Kind))
	switch e.Kind {
	case KindRegular:
		if e.ContentRef.IsConcrete() {
			rec = append(rec, 1)
			hb := e.ContentRef.Hash().Bytes()
			rec = append(rec, hb[:]...)
		} else {
			rec = append(rec, 0)
			rec = appendString(rec, e.ContentRef.Label())
		}
		if e.Executable {
			rec = append(rec, 1)
		} else {
			rec = append(rec, 0)
		}
	case KindSymlink:
		rec = appendString(rec, e.Target)
	case KindDirectory:
		// no payload
	}
	b.append(rec)
}

// Merge mounts other's entries under mount + "/..." (or at the root if
// mount is empty). This is O(1): it records a transitive reference rather
// than copying other's entries.
func (b *Builder) Merge(mount string, other *Depmap) {
	var rec []byte
	rec = append(rec, tagTransitive)
	rec = appendString(rec, mount)
	hb := other.hash.Bytes()
	rec = append(rec, hb[:]...)
	b.append(rec)
	b.children = append(b.children, other)
}

// MergeFiltered mounts only entries of other whose key starts with prefix
// and matches at least one of patterns (compiled regexes), exposed at
// mount + "/" + (key with prefix stripped).
func (b *Builder) MergeFiltered(mount, prefix string, patterns []string, other *Depmap) {
	var rec []byte
	rec = append(rec, tagFilter)
	rec = appendString(rec, mount)
	hb := other.hash.Bytes()
	rec = append(rec, hb[:]...)
	rec = appendString(rec, prefix)
	var countBuf [8]byte
	binary.LittleEndian.PutUint64(countBuf[:], uint64(len(patterns)))
	rec = append(rec, countBuf[:]...)
	for _, p := range patterns {
		rec = appendString(rec, p)
	}
	b.append(rec)
	b.children = append(b.children, other)
}

// Build finalizes the depmap: the accumulated buffer becomes immutable and
// its hash is the incrementally-computed SHA-256 over that buffer.
func (b *Builder) Build() *Depmap {
	return &Depmap{
		buf:      b.buf,
		children: b.children,
		hash:     b.digest.Sum(),
	}
}

// Empty returns the canonical empty depmap (scenario 1: hash is the
// SHA-256 of the zero-length buffer).
func Empty() *Depmap {
	return NewBuilder().Build()
}
