// Package depmap implements the persistent, content-addressed filetree: an
// immutable mapping from normalized paths to file entries, with O(1)
// transitive and filtered merge, deterministic deduplicated iteration, and
// a cryptographic identity over its serialized form.
package depmap

import "github.com/cealn-go/cealn/filehash"

// EntryKind discriminates the FileEntry sum type.
type EntryKind uint8

const (
	KindRegular EntryKind = iota
	KindSymlink
	KindDirectory
)

// Entry is the FileEntry sum type: Regular{content_hash, executable} |
// Symlink{target} | Directory. Represented as a tagged struct (the
// teacher's closed-sum-type-via-@type-discriminator idiom generalized to a
// Go Kind enum) rather than an interface, so depmap serialization can
// switch on Kind directly.
type Entry struct {
	Kind       EntryKind
	ContentRef Ref // valid iff Kind == KindRegular; concrete hash or unresolved label
	Executable bool
	Target     string // valid iff Kind == KindSymlink
}

// Regular constructs a regular-file entry with a concrete content hash.
func Regular(h filehash.Hash, executable bool) Entry {
	return Entry{Kind: KindRegular, ContentRef: ConcreteRef(h), Executable: executable}
}

// RegularLabel constructs a regular-file entry whose content is not yet
// resolved to a concrete hash (a label-keyed depmap entry).
func RegularLabel(label string, executable bool) Entry {
	return Entry{Kind: KindRegular, ContentRef: LabelRef(label), Executable: executable}
}

// Symlink constructs a symlink entry pointing at target (stored verbatim,
// not resolved).
func Symlink(target string) Entry {
	return Entry{Kind: KindSymlink, Target: target}
}

// Directory constructs an explicit (empty) directory entry. Intermediate
// directories implied by other entries' paths need not be inserted
// explicitly; this is for directories that would otherwise be empty.
func Directory() Entry {
	return Entry{Kind: KindDirectory}
}

// Ref is either a concrete content hash or an unresolved label, modeling
// §4.2's "concrete vs label depmap" as one Entry shape parameterized by
// which kind of reference it carries.
type Ref struct {
	concrete bool
	hash     filehash.Hash
	label    string
}

// ConcreteRef wraps a resolved content hash.
func ConcreteRef(h filehash.Hash) Ref { return Ref{concrete: true, hash: h} }

// LabelRef wraps an unresolved label string.
func LabelRef(label string) Ref { return Ref{label: label} }

// IsConcrete reports whether the reference already carries a content hash.
func (r Ref) IsConcrete() bool { return r.concrete }

// Hash returns the concrete content hash; valid only if IsConcrete.
func (r Ref) Hash() filehash.Hash { return r.hash }

// Label returns the unresolved label string; valid only if !IsConcrete.
func (r Ref) Label() string { return r.label }
