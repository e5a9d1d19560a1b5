//go:build !windows

package scan

import (
	"os"
	"syscall"
)

// platformFsid extracts a stable filesystem identifier (the inode number)
// from os.FileInfo on POSIX systems. It returns ok=false if the underlying
// stat structure isn't available, which the caller treats as "this
// filesystem cannot report stable identifiers" (spec glossary: Fsid).
func platformFsid(info os.FileInfo) (uint64, bool) {
	stat, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return 0, false
	}
	return uint64(stat.Ino), true
}
