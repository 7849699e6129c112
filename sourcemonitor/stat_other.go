//go:build !linux && !darwin

package sourcemonitor

import "os"

// inodeOf has no portable equivalent outside syscall.Stat_t platforms;
// callers fall back to mtime-only comparison.
func inodeOf(info os.FileInfo) uint64 {
	return 0
}
