package buildevent

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cealn-go/cealn/label"
)

func mustLabel(t *testing.T, s string) label.Label {
	t.Helper()
	l, err := label.Parse(s)
	require.NoError(t, err)
	return l
}

func TestDataKind_String(t *testing.T) {
	assert.Equal(t, "progress", KindProgress.String())
	assert.Equal(t, "executable_prepped", KindExecutablePrepped.String())
	assert.Equal(t, "unknown", DataKind(99).String())
}

func TestBuildEvent_JSONRoundTrip(t *testing.T) {
	source := mustLabel(t, "//pkg:target")

	cases := []BuildEvent{
		QueryRunStart(source),
		Progress(source, 0.5),
		Stdio(source, StreamStderr, []byte("boom")),
		Message(source, LevelWarn, "retrying", "Retrying after transient failure"),
		InternalError(source, "panic", "trace", "cause", "//other:target"),
		ExecutablePrepped(source, "/tmp/bin/gcc", 4242),
	}

	for _, ev := range cases {
		data, err := json.Marshal(ev)
		require.NoError(t, err)

		var out BuildEvent
		require.NoError(t, json.Unmarshal(data, &out))
		assert.Equal(t, ev, out)
	}
}

func TestRequest_JSONRoundTrip(t *testing.T) {
	def := mustLabel(t, "//pkg")
	req := Request{
		Targets:        []label.Label{mustLabel(t, "//pkg:a"), mustLabel(t, "//pkg:b")},
		DefaultPackage: &def,
		BuildConfig:    Config{"platform": "linux_amd64"},
		KeepGoing:      true,
		Watch:          false,
	}

	data, err := json.Marshal(req)
	require.NoError(t, err)

	var out Request
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, req.Targets, out.Targets)
	require.NotNil(t, out.DefaultPackage)
	assert.Equal(t, def.Display(), out.DefaultPackage.Display())
	assert.Equal(t, req.BuildConfig, out.BuildConfig)
	assert.True(t, out.KeepGoing)
}

func TestRequest_DefaultPackageMustNotBePackageRelative(t *testing.T) {
	data := []byte(`{"targets":["//pkg:a"],"default_package":"relative"}`)
	var out Request
	err := json.Unmarshal(data, &out)
	require.Error(t, err)
}
