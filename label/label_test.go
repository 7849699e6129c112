package label

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_WorkspaceTargetActionSub(t *testing.T) {
	l, err := Parse("@ws//pkg/sub:tgt:act/out")
	require.NoError(t, err)
	assert.Equal(t, RootWorkspace, l.Root)
	assert.Equal(t, "ws", l.Workspace)
	assert.Equal(t, "pkg/sub", l.Package.String())
	assert.Equal(t, "tgt", l.Target)
	assert.Equal(t, "act", l.ActionID)
	assert.Equal(t, "out", l.SubPath.String())
}

func TestParse_RoundTrip(t *testing.T) {
	cases := []string{
		"@ws//pkg/sub:tgt:act/out",
		"//pkg:tgt",
		"//pkg",
		"@ws//pkg",
	}
	for _, c := range cases {
		l, err := Parse(c)
		require.NoError(t, err, c)
		assert.Equal(t, c, l.Display(), "parse(display(L)) == L for %q", c)
	}
}

func TestParse_EmptyWorkspaceName(t *testing.T) {
	_, err := Parse("@//pkg:tgt")
	require.Error(t, err)
	var pe *ParseError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, EmptyWorkspaceName, pe.Kind)
}

func TestParse_AllPeriodsSegment(t *testing.T) {
	_, err := Parse("//...:tgt")
	require.Error(t, err)
	var pe *ParseError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, FilenameAllPeriods, pe.Kind)
}

func TestNormalize_Idempotent(t *testing.T) {
	l, err := Parse("@ws//pkg/./sub/../sub2:tgt")
	require.NoError(t, err)
	n1, err := l.Normalize()
	require.NoError(t, err)
	n2, err := n1.Normalize()
	require.NoError(t, err)
	assert.Equal(t, n1.Package.String(), n2.Package.String())
	assert.Equal(t, "pkg/sub2", n1.Package.String())
}

func TestNormalize_CannotEscapeRoot(t *testing.T) {
	_, err := Normalize("../escape")
	require.Error(t, err)
}

func TestJoin_AbsoluteResets(t *testing.T) {
	l, err := Parse("@ws//pkg:tgt")
	require.NoError(t, err)
	joined, err := l.Join("//abs")
	require.NoError(t, err)
	assert.Equal(t, "//abs", joined.Display())
}

func TestJoin_BareTargetRef(t *testing.T) {
	l, err := Parse("@ws//pkg:tgt")
	require.NoError(t, err)
	joined, err := l.Join(":other")
	require.NoError(t, err)
	assert.True(t, joined.HasTarget())
	assert.Equal(t, "other", joined.Target)
	assert.Equal(t, "pkg", joined.Package.String())
}

func TestNewNormalizedPath(t *testing.T) {
	_, ok := NewNormalizedPath("a/b/c")
	assert.True(t, ok)

	_, ok = NewNormalizedPath("a/../b")
	assert.False(t, ok)

	_, ok = NewNormalizedPath("a/b/")
	assert.False(t, ok)

	_, ok = NewNormalizedPath("")
	assert.False(t, ok)
}

func TestFromNativeRelativePath_RejectsAbsolute(t *testing.T) {
	_, err := FromNativeRelativePath("/abs/path")
	require.Error(t, err)
	var pe *ParseError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, FromNativeRelativePathsOnly, pe.Kind)
}
