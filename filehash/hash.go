// Package filehash provides the tagged SHA-256 digest type shared by the
// cache (FileHash) and the depmap registry (DepmapHash). Both are 32-byte
// SHA-256 digests, but they index distinct content-addressed stores, so a
// Kind tag keeps them from being silently confused at call sites.
package filehash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	digest "github.com/opencontainers/go-digest"
)

// Kind distinguishes which content-addressed space a Hash belongs to.
type Kind uint8

const (
	// KindFile indexes the on-disk cache (plain file content).
	KindFile Kind = iota
	// KindDepmap indexes the depmap registry (serialized depmap bytes).
	KindDepmap
)

func (k Kind) String() string {
	if k == KindDepmap {
		return "depmap"
	}
	return "file"
}

// Hash is a 32-byte SHA-256 digest tagged with the space it indexes.
type Hash struct {
	kind  Kind
	bytes [32]byte
}

// Sum computes the Hash of b under the given Kind.
func Sum(kind Kind, b []byte) Hash {
	return Hash{kind: kind, bytes: sha256.Sum256(b)}
}

// Zero reports whether h is the zero-value Hash (no digest computed).
func (h Hash) Zero() bool { return h.bytes == [32]byte{} }

// Kind returns which content-addressed space this Hash indexes.
func (h Hash) Kind() Kind { return h.kind }

// Bytes returns the raw 32-byte digest.
func (h Hash) Bytes() [32]byte { return h.bytes }

// Hex renders the digest as lowercase hex, used as the cache's on-disk
// filename and the depmap registry's lookup key.
func (h Hash) Hex() string { return hex.EncodeToString(h.bytes[:]) }

func (h Hash) String() string { return fmt.Sprintf("%s:%s", h.kind, h.Hex()) }

// Equal reports whether two hashes have the same kind and digest.
func (h Hash) Equal(o Hash) bool { return h.kind == o.kind && h.bytes == o.bytes }

// FromBytes wraps a raw 32-byte digest under the given Kind, used when
// restoring a hash from a fixed-size on-disk record (e.g. the query
// store's persisted result shadow).
func FromBytes(kind Kind, b [32]byte) (Hash, error) {
	return Hash{kind: kind, bytes: b}, nil
}

// ParseHex parses a hex-encoded digest under the given Kind.
func ParseHex(kind Kind, s string) (Hash, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return Hash{}, fmt.Errorf("filehash: invalid hex digest %q: %w", s, err)
	}
	if len(raw) != 32 {
		return Hash{}, fmt.Errorf("filehash: digest %q has %d bytes, want 32", s, len(raw))
	}
	var h Hash
	h.kind = kind
	copy(h.bytes[:], raw)
	return h, nil
}

// Digest converts a file-space Hash to an OCI-style digest string, used
// when verifying Docker registry blob digests against manifest entries.
func (h Hash) Digest() digest.Digest {
	return digest.NewDigestFromBytes(digest.SHA256, h.bytes[:])
}

// FromDigest converts a verified OCI digest into a file-space Hash.
func FromDigest(d digest.Digest) (Hash, error) {
	if d.Algorithm() != digest.SHA256 {
		return Hash{}, fmt.Errorf("filehash: unsupported digest algorithm %q", d.Algorithm())
	}
	return ParseHex(KindFile, d.Encoded())
}

// Builder incrementally computes a Hash over bytes appended in order,
// mirroring the depmap Builder's incremental SHA-256 over its byte buffer.
type Builder struct {
	kind Kind
	h    interface {
		Write([]byte) (int, error)
		Sum([]byte) []byte
	}
}

// NewBuilder starts an incremental hash of the given Kind.
func NewBuilder(kind Kind) *Builder {
	return &Builder{kind: kind, h: sha256.New()}
}

// Write appends bytes to the running digest.
func (b *Builder) Write(p []byte) (int, error) { return b.h.Write(p) }

// Sum finalizes the digest without mutating the builder's internal state.
func (b *Builder) Sum() Hash {
	var out Hash
	out.kind = b.kind
	copy(out.bytes[:], b.h.Sum(nil))
	return out
}
