//go:build !linux

package sandbox

import "context"

// Spawn on a non-Linux build always fails: namespace isolation is a Linux
// kernel feature with no portable equivalent (spec.md §1 Non-goals).
func Spawn(ctx context.Context, cfg Config) (Result, error) {
	return Result{}, ErrUnsupportedPlatform
}
