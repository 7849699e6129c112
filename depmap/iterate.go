package depmap

import (
	"encoding/binary"
	"fmt"
	"regexp"
	"strings"

	"github.com/cealn-go/cealn/filehash"
)

// Pair is a single (path, entry) yielded by iteration.
type Pair struct {
	Key   string
	Entry Entry
}

// Iter yields every (path, entry) pair in serialization order, recursing
// into transitive/filtered children. If the same transitive depmap (by
// hash) appears more than once along a single root-to-leaf path, later
// occurrences are skipped — this bounds iteration on diamond-shaped depmap
// graphs. Filtered children get a fresh visited set rather than sharing
// the parent's, since filtering may legitimately expose the same
// sub-depmap more than once under different views.
func (d *Depmap) Iter() ([]Pair, error) {
	visited := map[filehash.Hash]bool{}
	var out []Pair
	if err := d.iter("", visited, func(p Pair) { out = append(out, p) }); err != nil {
		return nil, err
	}
	return out, nil
}

func (d *Depmap) iter(mountKey string, visited map[filehash.Hash]bool, emit func(Pair)) error {
	childIdx := 0
	buf := d.buf
	for off := 0; off < len(buf); {
		tag := buf[off]
		off++
		switch tag {
		case tagElement:
			key, n, err := readString(buf, off)
			if err != nil {
				return err
			}
			off += n
			if off >= len(buf) {
				return &ParseError{Reason: "truncated element entry"}
			}
			kind := EntryKind(buf[off])
			off++
			var e Entry
			e.Kind = kind
			switch kind {
			case KindRegular:
				if off >= len(buf) {
					return &ParseError{Reason: "truncated regular entry"}
				}
				concrete := buf[off] == 1
				off++
				if concrete {
					if off+32 > len(buf) {
						return &ParseError{Reason: "truncated content hash"}
					}
					var hb [32]byte
					copy(hb[:], buf[off:off+32])
					off += 32
					h, err := filehash.ParseHex(filehash.KindFile, hex32(hb))
					if err != nil {
						return err
					}
					e.ContentRef = ConcreteRef(h)
				} else {
					label, n, err := readString(buf, off)
					if err != nil {
						return err
					}
					off += n
					e.ContentRef = LabelRef(label)
				}
				if off >= len(buf) {
					return &ParseError{Reason: "truncated executable flag"}
				}
				e.Executable = buf[off] == 1
				off++
			case KindSymlink:
				target, n, err := readString(buf, off)
				if err != nil {
					return err
				}
				off += n
				e.Target = target
			case KindDirectory:
				// no payload
			default:
				return &ParseError{Reason: "unknown entry kind"}
			}
			emit(Pair{Key: joinKey(mountKey, key), Entry: e})

		case tagTransitive:
			mount, n, err := readString(buf, off)
			if err != nil {
				return err
			}
			off += n
			if off+32 > len(buf) {
				return &ParseError{Reason: "truncated transitive hash"}
			}
			var hb [32]byte
			copy(hb[:], buf[off:off+32])
			off += 32
			child := d.children[childIdx]
			childIdx++
			if err := verifyChildHash(child, hb); err != nil {
				return err
			}
			if visited[child.hash] {
				continue
			}
			visited[child.hash] = true
			if err := child.iter(joinKey(mountKey, mount), visited, emit); err != nil {
				return err
			}
			delete(visited, child.hash)

		case tagFilter:
			mount, n, err := readString(buf, off)
			if err != nil {
				return err
			}
			off += n
			if off+32 > len(buf) {
				return &ParseError{Reason: "truncated filter hash"}
			}
			var hb [32]byte
			copy(hb[:], buf[off:off+32])
			off += 32
			prefix, n, err := readString(buf, off)
			if err != nil {
				return err
			}
			off += n
			if off+8 > len(buf) {
				return &ParseError{Reason: "truncated pattern count"}
			}
			count := binary.LittleEndian.Uint64(buf[off : off+8])
			off += 8
			patterns := make([]*regexp.Regexp, 0, count)
			for i := uint64(0); i < count; i++ {
				pat, n, err := readString(buf, off)
				if err != nil {
					return err
				}
				off += n
				re, err := regexp.Compile(pat)
				if err != nil {
					return &ParseError{Reason: "invalid filter pattern: " + err.Error()}
				}
				patterns = append(patterns, re)
			}
			child := d.children[childIdx]
			childIdx++
			if err := verifyChildHash(child, hb); err != nil {
				return err
			}
			filterVisited := map[filehash.Hash]bool{}
			err = child.iter("", filterVisited, func(p Pair) {
				if !strings.HasPrefix(p.Key, prefix) {
					return
				}
				stripped := strings.TrimPrefix(p.Key, prefix)
				stripped = strings.TrimPrefix(stripped, "/")
				matched := false
				for _, re := range patterns {
					if re.MatchString(stripped) {
						matched = true
						break
					}
				}
				if !matched {
					return
				}
				emit(Pair{Key: joinKey(mountKey, joinKey(mount, stripped)), Entry: p.Entry})
			})
			if err != nil {
				return err
			}

		default:
			return &ParseError{Reason: "unknown tag byte"}
		}
	}
	return nil
}

func verifyChildHash(child *Depmap, recorded [32]byte) error {
	if child.hash.Bytes() != recorded {
		return &ParseError{Reason: "child hash mismatch (registry corruption)"}
	}
	return nil
}

func joinKey(mount, key string) string {
	switch {
	case mount == "":
		return key
	case key == "":
		return mount
	default:
		return mount + "/" + key
	}
}

func readString(buf []byte, off int) (string, int, error) {
	if off+8 > len(buf) {
		return "", 0, &ParseError{Reason: "truncated string length"}
	}
	l := binary.LittleEndian.Uint64(buf[off : off+8])
	start := off + 8
	end := start + int(l)
	if end > len(buf) || end < start {
		return "", 0, &ParseError{Reason: "truncated string data"}
	}
	return string(buf[start:end]), 8 + int(l), nil
}

func hex32(b [32]byte) string {
	return fmt.Sprintf("%x", b)
}

// Get performs a linear scan of Iter() for key; callers needing random
// access should build an external index.
func (d *Depmap) Get(key string) (Entry, bool, error) {
	pairs, err := d.Iter()
	if err != nil {
		return Entry{}, false, err
	}
	for _, p := range pairs {
		if p.Key == key {
			return p.Entry, true, nil
		}
	}
	return Entry{}, false, nil
}
