package sourcemonitor

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMonitor(t *testing.T, root string) *Monitor {
	t.Helper()
	m, err := New(root, "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.watcher.Close() })
	return m
}

func TestObserve_LazyHashesFileOnce(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0o644))

	m := newMonitor(t, dir)
	obs, err := m.Observe(path, nil)
	require.NoError(t, err)
	assert.Equal(t, KindFile, obs.Kind)
	assert.True(t, obs.Hash.Zero(), "Observe does not hash eagerly")

	h, err := m.HashFile(path)
	require.NoError(t, err)
	assert.False(t, h.Zero())
}

func TestObserve_RegistersWaker(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0o644))

	m := newMonitor(t, dir)
	var woken string
	_, err := m.Observe(path, func(p string) { woken = p })
	require.NoError(t, err)

	m.invalidate(path)
	assert.Equal(t, path, woken)
}

func TestHasChangedUntil_DetectsContentChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("v1"), 0o644))

	m := newMonitor(t, dir)
	_, err := m.Observe(path, nil)
	require.NoError(t, err)

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("v2-longer"), 0o644))

	changed, err := m.HasChangedUntil(path, time.Now())
	require.NoError(t, err)
	assert.True(t, changed)
}

func TestHasChangedUntil_NoObservationTreatedAsChanged(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("v1"), 0o644))

	m := newMonitor(t, dir)
	changed, err := m.HasChangedUntil(path, time.Now())
	require.NoError(t, err)
	assert.True(t, changed)
}

func TestIgnoreMatcher_FiltersPaths(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".buildignore"), []byte("*.log\nbuild/\n"), 0o644))

	m, err := LoadIgnoreMatcher(filepath.Join(dir, ".buildignore"))
	require.NoError(t, err)
	assert.True(t, m.Match(filepath.Join(dir, "out.log")))
	assert.False(t, m.Match(filepath.Join(dir, "main.go")))
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	dir := t.TempDir()
	m := newMonitor(t, dir)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after context cancel")
	}
}
