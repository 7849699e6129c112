// Package sandbox spawns a Run action's executable inside an isolated
// Linux namespace: fresh user/mount/PID namespaces, an overlayfs view of
// the execution sysroot, and the input depmap made visible either by
// materializing it or by serving it over FUSE (spec.md §4.4). Only the
// linux build is functional; other platforms get a stub that reports
// ErrUnsupportedPlatform so the rest of the engine stays cross-platform
// (spec.md §1's "only the source-watching layer is cross platform").
package sandbox

import (
	"errors"

	"github.com/cealn-go/cealn/action"
	"github.com/cealn-go/cealn/cache"
	"github.com/cealn-go/cealn/depmap"
)

// ErrUnsupportedPlatform is returned by every sandbox operation on a
// non-Linux build.
var ErrUnsupportedPlatform = errors.New("sandbox: unsupported platform")

// SetupError wraps a failure during namespace/mount setup, distinguished
// from the payload's own exit status so callers can tell "the sandbox
// never ran" from "the sandboxed command failed" (spec.md §7).
type SetupError struct {
	Stage string
	Err   error
}

func (e *SetupError) Error() string { return "sandbox: " + e.Stage + ": " + e.Err.Error() }
func (e *SetupError) Unwrap() error { return e.Err }

// Config describes one sandboxed invocation, assembled by execengine from
// an action.RunPayload plus the resources it needs to set up mounts.
type Config struct {
	Payload *action.RunPayload
	Cache   *cache.Cache

	// ScratchDir is a tmpfs-backed directory the sandbox may use freely;
	// it is destroyed after the run completes.
	ScratchDir string

	// UseFUSE selects FUSE mode for the input depmap instead of
	// materializing it to a real directory (spec.md §4.4 step 5).
	UseFUSE bool
}

// Result is the outcome of a completed sandboxed run.
type Result struct {
	ExitCode int
	Output   *depmap.Depmap
	Stdout   []byte
	Stderr   []byte
}
