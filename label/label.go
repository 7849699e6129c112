package label

import (
	"path/filepath"
	"strings"
)

// RootKind distinguishes the three ways a Label can be anchored.
type RootKind int

const (
	// RootWorkspace anchors the label at a named workspace: "@ws//...".
	RootWorkspace RootKind = iota
	// RootWorkspaceRelative anchors at the current workspace root: "//...".
	RootWorkspaceRelative
	// RootPackageRelative anchors at the current package: ":target" or "target".
	RootPackageRelative
)

// Label is a structured identifier of the form
// "[@workspace]//package:target[:action_id[/subpath]]".
type Label struct {
	Root      RootKind
	Workspace string // set iff Root == RootWorkspace
	Package   Path
	Target    string // empty if unset
	ActionID  string // empty if unset
	SubPath   Path   // zero value if unset
	hasTarget bool
	hasAction bool
	hasSub    bool
}

// HasTarget reports whether the label names a target.
func (l Label) HasTarget() bool { return l.hasTarget }

// HasActionID reports whether the label names an action ID.
func (l Label) HasActionID() bool { return l.hasAction }

// HasSubPath reports whether the label names a sub-path under the action output.
func (l Label) HasSubPath() bool { return l.hasSub }

// Parse parses a label string per spec.md §3/§6.
//
// Grammar: "[@workspace]//package[:target[:action_id[/subpath]]]"
// or a bare package-relative ":target" / "target" form.
func Parse(s string) (Label, error) {
	var l Label
	rest := s

	if strings.HasPrefix(rest, "@") {
		rest = rest[1:]
		idx := strings.Index(rest, "//")
		if idx < 0 {
			return Label{}, &ParseError{Kind: InvalidSlashSeparator, Input: s}
		}
		ws := rest[:idx]
		if ws == "" {
			return Label{}, &ParseError{Kind: EmptyWorkspaceName, Input: s}
		}
		l.Root = RootWorkspace
		l.Workspace = ws
		rest = rest[idx:]
	}

	if strings.HasPrefix(rest, "//") {
		if l.Root != RootWorkspace {
			l.Root = RootWorkspaceRelative
		}
		rest = rest[2:]
	} else if l.Root == RootWorkspace {
		return Label{}, &ParseError{Kind: InvalidSlashSeparator, Input: s}
	} else {
		l.Root = RootPackageRelative
	}

	// Split off everything after the first ':' (target[:action[/sub]]).
	pkgPart := rest
	var tail string
	hasColon := false
	if idx := strings.IndexByte(rest, ':'); idx >= 0 {
		pkgPart = rest[:idx]
		tail = rest[idx+1:]
		hasColon = true
	}

	if pkgPart != "" {
		p, err := validatePackagePath(pkgPart, s)
		if err != nil {
			return Label{}, err
		}
		l.Package = p
	}

	if !hasColon {
		return l, nil
	}

	parts := strings.SplitN(tail, ":", 3)
	if len(parts) > 2 {
		return Label{}, &ParseError{Kind: TooManyColonSeparators, Input: s}
	}
	if parts[0] == "" {
		return Label{}, &ParseError{Kind: InvalidColonSeparator, Input: s}
	}
	l.Target = parts[0]
	l.hasTarget = true

	if len(parts) == 2 {
		actionAndSub := parts[1]
		if actionAndSub == "" {
			return Label{}, &ParseError{Kind: InvalidColonSeparator, Input: s}
		}
		actionID := actionAndSub
		var subRaw string
		if idx := strings.IndexByte(actionAndSub, '/'); idx >= 0 {
			actionID = actionAndSub[:idx]
			subRaw = actionAndSub[idx+1:]
		}
		if actionID == "" {
			return Label{}, &ParseError{Kind: InvalidColonSeparator, Input: s}
		}
		l.ActionID = actionID
		l.hasAction = true
		if subRaw != "" {
			sp, err := NewPath(subRaw)
			if err != nil {
				return Label{}, err
			}
			l.SubPath = sp
			l.hasSub = true
		}
	}

	return l, nil
}

func validatePackagePath(raw, full string) (Path, error) {
	if strings.HasSuffix(raw, "/") {
		return Path{}, &ParseError{Kind: EndedOnSeparator, Input: full}
	}
	for _, seg := range strings.Split(raw, "/") {
		if seg == "" {
			return Path{}, &ParseError{Kind: InvalidSlashSeparator, Input: full}
		}
		allDots := true
		for _, r := range seg {
			if r != '.' {
				allDots = false
				break
			}
		}
		if allDots {
			return Path{}, &ParseError{Kind: FilenameAllPeriods, Input: full}
		}
	}
	return NewPath(raw)
}

// Display renders the label back into its canonical string form; Parse and
// Display round-trip: parse(display(L)) == L for all successfully parsed L.
func (l Label) Display() string {
	var b strings.Builder
	if l.Root == RootWorkspace {
		b.WriteByte('@')
		b.WriteString(l.Workspace)
	}
	if l.Root != RootPackageRelative {
		b.WriteString("//")
	}
	b.WriteString(l.Package.String())
	if l.hasTarget {
		b.WriteByte(':')
		b.WriteString(l.Target)
		if l.hasAction {
			b.WriteByte(':')
			b.WriteString(l.ActionID)
			if l.hasSub {
				b.WriteByte('/')
				b.WriteString(l.SubPath.String())
			}
		}
	}
	return b.String()
}

// Normalize resolves "." and ".." segments in the package path without
// escaping the root. normalize(normalize(L)) == normalize(L).
func (l Label) Normalize() (Label, error) {
	np, err := Normalize(l.Package.String())
	if err != nil {
		return Label{}, err
	}
	out := l
	out.Package = np
	return out, nil
}

// Join applies label-join semantics: joining onto an absolute
// workspace-relative label ("//abs") resets to that absolute label;
// joining a bare target-ref (":tgt") always yields a target label in the
// same package as the receiver.
func (l Label) Join(ref string) (Label, error) {
	if strings.HasPrefix(ref, "//") || strings.HasPrefix(ref, "@") {
		return Parse(ref)
	}
	if strings.HasPrefix(ref, ":") {
		parsed, err := Parse(l.packagePrefix() + ref)
		if err != nil {
			return Label{}, err
		}
		return parsed, nil
	}
	parsed, err := Parse(l.packagePrefix() + ":" + ref)
	if err != nil {
		return Label{}, err
	}
	return parsed, nil
}

func (l Label) packagePrefix() string {
	var b strings.Builder
	if l.Root == RootWorkspace {
		b.WriteByte('@')
		b.WriteString(l.Workspace)
	}
	b.WriteString("//")
	b.WriteString(l.Package.String())
	return b.String()
}

// FromNativeRelativePath converts a native (OS) relative path into a
// package-relative Label fragment; native absolute paths are rejected.
func FromNativeRelativePath(native string) (Path, error) {
	if strings.HasPrefix(native, "/") {
		return Path{}, &ParseError{Kind: FromNativeRelativePathsOnly, Input: native}
	}
	return NewPath(filepath.ToSlash(native))
}
