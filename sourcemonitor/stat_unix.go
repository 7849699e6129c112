//go:build linux || darwin

package sourcemonitor

import (
	"os"
	"syscall"
)

// inodeOf extracts the inode number from a FileInfo on platforms that
// expose syscall.Stat_t, used to distinguish a truly unchanged file from
// one that was deleted and replaced with an identical mtime.
func inodeOf(info os.FileInfo) uint64 {
	if st, ok := info.Sys().(*syscall.Stat_t); ok {
		return uint64(st.Ino)
	}
	return 0
}
