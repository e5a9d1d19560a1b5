//go:build windows

package scan

import "os"

// platformFsid has no portable equivalent of an inode number available from
// os.FileInfo alone on Windows (it requires an open file handle and
// GetFileInformationByHandle); callers that need stable identifiers on
// Windows fall back to treating the filesystem as unable to report them,
// which disables move detection for that tree per spec §3's invariant.
func platformFsid(info os.FileInfo) (uint64, bool) {
	return 0, false
}
