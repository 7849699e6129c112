package sourcemonitor

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
)

// IgnoreMatcher filters paths against a gitignore-style pattern file: one
// glob pattern per line, blank lines and "#"-prefixed lines ignored, a
// leading "!" negates a prior match. A pattern containing a "/" is matched
// against the path relative to the ignore file's directory; any other
// pattern is matched against the path's base name.
type IgnoreMatcher struct {
	root     string
	patterns []ignorePattern
}

type ignorePattern struct {
	glob    string
	negate  bool
	anyPath bool // pattern contains a "/", so match against the full relative path
}

// LoadIgnoreMatcher reads ignoreFile and builds an IgnoreMatcher rooted at
// its containing directory. An empty ignoreFile yields a matcher that
// never matches.
func LoadIgnoreMatcher(ignoreFile string) (*IgnoreMatcher, error) {
	if ignoreFile == "" {
		return &IgnoreMatcher{}, nil
	}
	f, err := os.Open(ignoreFile)
	if os.IsNotExist(err) {
		return &IgnoreMatcher{root: filepath.Dir(ignoreFile)}, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	m := &IgnoreMatcher{root: filepath.Dir(ignoreFile)}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		p := ignorePattern{}
		if strings.HasPrefix(line, "!") {
			p.negate = true
			line = line[1:]
		}
		line = strings.TrimPrefix(line, "/")
		p.anyPath = strings.Contains(line, "/")
		p.glob = line
		m.patterns = append(m.patterns, p)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return m, nil
}

// Match reports whether path should be excluded from monitoring. Patterns
// are applied in file order; a later pattern overrides an earlier one, so
// a trailing negated pattern can re-include a path a prior pattern
// excluded.
func (m *IgnoreMatcher) Match(path string) bool {
	if m == nil || len(m.patterns) == 0 {
		return false
	}
	rel, err := filepath.Rel(m.root, path)
	if err != nil {
		rel = path
	}
	rel = filepath.ToSlash(rel)
	base := filepath.Base(path)

	matched := false
	for _, p := range m.patterns {
		candidate := base
		if p.anyPath {
			candidate = rel
		}
		ok, err := filepath.Match(p.glob, candidate)
		if err != nil || !ok {
			continue
		}
		matched = !p.negate
	}
	return matched
}
