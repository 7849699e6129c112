// Package label implements the structured identifiers used throughout the
// engine: Label, identifying a workspace/package/target/action, and Path, a
// relative slash-separated path with no root and no colons.
package label

import (
	"strings"
)

// Path is a relative, slash-separated path with no leading slash and no
// colons. It may or may not be normalized-descending (no "." or ".."
// segments, no trailing slash); callers that require the normalized
// variant use NewNormalizedPath.
type Path struct {
	raw        string
	normalized bool
}

// NewPath wraps a raw relative path string without normalizing it.
func NewPath(raw string) (Path, error) {
	if strings.Contains(raw, ":") {
		return Path{}, &ParseError{Kind: UnexpectedColon, Input: raw}
	}
	if strings.HasPrefix(raw, "/") {
		return Path{}, &ParseError{Kind: InvalidSlashStart, Input: raw}
	}
	return Path{raw: raw}, nil
}

// NewNormalizedPath parses raw and reports whether the result is already
// normalized-descending (no ".", no "..", no trailing slash, no empty
// segments). Many depmap and sandbox APIs require this variant; since Go
// has no phantom types, the boolean return plus the private normalized
// field enforce the invariant at construction rather than the type system.
func NewNormalizedPath(raw string) (Path, bool) {
	p, err := NewPath(raw)
	if err != nil {
		return Path{}, false
	}
	if raw == "" {
		return Path{}, false
	}
	if strings.HasSuffix(raw, "/") {
		return Path{}, false
	}
	for _, seg := range strings.Split(raw, "/") {
		switch seg {
		case "", ".", "..":
			return Path{}, false
		}
	}
	p.normalized = true
	return p, true
}

// IsNormalized reports whether this Path was constructed via
// NewNormalizedPath and validated as normalized-descending.
func (p Path) IsNormalized() bool { return p.normalized }

// String returns the raw path string.
func (p Path) String() string { return p.raw }

// Join appends a child segment, returning a new (non-normalized) Path.
func (p Path) Join(child string) Path {
	if p.raw == "" {
		return Path{raw: child}
	}
	return Path{raw: p.raw + "/" + child}
}

// Segments splits the path on "/".
func (p Path) Segments() []string {
	if p.raw == "" {
		return nil
	}
	return strings.Split(p.raw, "/")
}

// Normalize resolves "." and ".." segments without permitting the result to
// escape the root (a ".." at the root is an error), returning the
// normalized-descending Path.
func Normalize(raw string) (Path, error) {
	var out []string
	for _, seg := range strings.Split(raw, "/") {
		switch seg {
		case "", ".":
			continue
		case "..":
			if len(out) == 0 {
				return Path{}, &ParseError{Kind: InvalidSlashSeparator, Input: raw}
			}
			out = out[:len(out)-1]
		default:
			out = append(out, seg)
		}
	}
	joined := strings.Join(out, "/")
	p, ok := NewNormalizedPath(joined)
	if !ok {
		// An all-dots path normalizes to the empty path, which is valid
		// (it denotes the root itself) but not "normalized-descending"
		// under the no-empty-segment rule above; treat it specially.
		if joined == "" {
			return Path{raw: "", normalized: true}, nil
		}
		return Path{}, &ParseError{Kind: InvalidSlashSeparator, Input: raw}
	}
	return p, nil
}
