package filehash

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSum_DeterministicAndKindTagged(t *testing.T) {
	a := Sum(KindFile, []byte("hello"))
	b := Sum(KindFile, []byte("hello"))
	assert.True(t, a.Equal(b))

	c := Sum(KindDepmap, []byte("hello"))
	assert.False(t, a.Equal(c), "same bytes, different Kind must not be equal")
	assert.Equal(t, a.Bytes(), c.Bytes(), "underlying digest bytes are identical across kinds")
}

func TestParseHex_RoundTrip(t *testing.T) {
	h := Sum(KindFile, []byte("content"))
	parsed, err := ParseHex(KindFile, h.Hex())
	require.NoError(t, err)
	assert.True(t, h.Equal(parsed))
}

func TestParseHex_RejectsWrongLength(t *testing.T) {
	_, err := ParseHex(KindFile, "abcd")
	require.Error(t, err)
}

func TestBuilder_MatchesSum(t *testing.T) {
	b := NewBuilder(KindDepmap)
	_, _ = b.Write([]byte("foo"))
	_, _ = b.Write([]byte("bar"))
	assert.True(t, b.Sum().Equal(Sum(KindDepmap, []byte("foobar"))))
}

func TestDigest_RoundTrip(t *testing.T) {
	h := Sum(KindFile, []byte("blob"))
	d := h.Digest()
	back, err := FromDigest(d)
	require.NoError(t, err)
	assert.True(t, h.Equal(back))
}
