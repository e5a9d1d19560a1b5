// Package path implements the two path value types the reconciliation engine
// works with: LocalPath (platform-native separators) and RemotePath
// (always forward-slash, UTF-8). Keeping them as distinct types prevents the
// reconciler from ever comparing a local path directly against a remote one
// without an explicit conversion, which is the class of bug the spec's path
// abstraction exists to rule out (spec §4.1).
package path

import (
	"strings"

	"golang.org/x/text/cases"
)

// Separator is the platform-native path separator used by LocalPath. It is a
// variable rather than a build-tag constant so that tests can exercise both
// separator conventions on any platform, matching the spec's requirement that
// the filesystem-type enum (not the build platform) governs separator and
// case-sensitivity policy.
var Separator byte = '/'

// foldCaser performs Unicode-aware case folding (not ASCII-lower) for
// case-insensitive comparisons, per the design notes' requirement that
// folding be Unicode-aware.
var foldCaser = cases.Fold()

// Fold returns the Unicode case-folded form of s, suitable for
// case-insensitive comparison or map keying.
func Fold(s string) string {
	return foldCaser.String(s)
}

// RemotePath is a root-relative remote (cloud) path: UTF-8, forward-slash
// separated, with the synchronization root represented by the empty string.
type RemotePath string

// LocalPath is a root-relative local path using the platform's native
// separator.
type LocalPath string

// AppendRemote appends a leaf name to a RemotePath using a forward slash,
// with no separator inserted when base is the root.
func AppendRemote(base RemotePath, leaf string) RemotePath {
	if leaf == "" {
		panic("path: empty leaf name")
	}
	if base == "" {
		return RemotePath(leaf)
	}
	return base + "/" + RemotePath(leaf)
}

// AppendLocal appends a leaf name to a LocalPath using the platform
// separator.
func AppendLocal(base LocalPath, leaf string) LocalPath {
	if leaf == "" {
		panic("path: empty leaf name")
	}
	if base == "" {
		return LocalPath(leaf)
	}
	return base + LocalPath(Separator) + LocalPath(leaf)
}

// Leaf extracts the final path component of a RemotePath. It returns an
// empty string for the root.
func (p RemotePath) Leaf() string {
	s := string(p)
	if s == "" {
		return ""
	}
	if idx := strings.LastIndexByte(s, '/'); idx != -1 {
		return s[idx+1:]
	}
	return s
}

// Leaf extracts the final path component of a LocalPath.
func (p LocalPath) Leaf() string {
	s := string(p)
	if s == "" {
		return ""
	}
	if idx := strings.LastIndexByte(s, Separator); idx != -1 {
		return s[idx+1:]
	}
	return s
}

// Dir returns the parent of a RemotePath, or the root if p is a top-level
// entry.
func (p RemotePath) Dir() RemotePath {
	s := string(p)
	if idx := strings.LastIndexByte(s, '/'); idx != -1 {
		return RemotePath(s[:idx])
	}
	return ""
}

// Dir returns the parent of a LocalPath, or the root if p is a top-level
// entry.
func (p LocalPath) Dir() LocalPath {
	s := string(p)
	if idx := strings.LastIndexByte(s, Separator); idx != -1 {
		return LocalPath(s[:idx])
	}
	return ""
}

// HasPrefix reports whether p is equal to prefix or lies within the subtree
// rooted at prefix. The comparison is exact (case-sensitive); remote
// containment checks that need case-insensitivity should fold both sides
// first.
func (p RemotePath) HasPrefix(prefix RemotePath) bool {
	if prefix == "" {
		return true
	}
	s := string(p)
	pr := string(prefix)
	return s == pr || (len(s) > len(pr) && s[:len(pr)] == pr && s[len(pr)] == '/')
}

// HasPrefix reports whether p is equal to prefix or lies within the subtree
// rooted at prefix.
func (p LocalPath) HasPrefix(prefix LocalPath) bool {
	if prefix == "" {
		return true
	}
	s := string(p)
	pr := string(prefix)
	return s == pr || (len(s) > len(pr) && s[:len(pr)] == pr && s[len(pr)] == Separator)
}

// Cursor iterates the components of a RemotePath from root to leaf.
type Cursor struct {
	remaining string
}

// NewCursor creates a Cursor over a RemotePath's components.
func NewCursor(p RemotePath) *Cursor {
	return &Cursor{remaining: string(p)}
}

// Next returns the next path component and advances the cursor. The second
// return value is false once the cursor is exhausted.
func (c *Cursor) Next() (string, bool) {
	if c.remaining == "" {
		return "", false
	}
	if idx := strings.IndexByte(c.remaining, '/'); idx != -1 {
		component := c.remaining[:idx]
		c.remaining = c.remaining[idx+1:]
		return component, true
	}
	component := c.remaining
	c.remaining = ""
	return component, true
}

// Display returns the path in display form (identical to its string form for
// RemotePath, since remote paths are always forward-slash UTF-8).
func (p RemotePath) Display() string { return string(p) }

// Display returns the path in display form, using the platform separator.
func (p LocalPath) Display() string { return string(p) }

// FromDisplayLocal parses a platform-displayed path string back into a
// LocalPath. It is the inverse of Display and exists so that paths round-trip
// through user-facing surfaces (logs, stall reports) without information
// loss.
func FromDisplayLocal(s string) LocalPath { return LocalPath(s) }

// FromDisplayRemote parses a displayed remote path string back into a
// RemotePath.
func FromDisplayRemote(s string) RemotePath { return RemotePath(s) }

// Less performs a sort comparison between two root-relative remote paths,
// ordering component-wise so that a directory's contents sort contiguously
// and depth-first traversal order falls out of a plain sort. It matches the
// algorithm used for local paths (see LocalPath.Less) except it compares
// Unicode code points directly without regard to filesystem case policy,
// since remote comparisons are always case-insensitive on local-side keys
// to match cloud semantics (spec §4.1) -- callers that need case-insensitive
// ordering should Fold both paths before comparing.
func (p RemotePath) Less(other RemotePath) bool {
	return componentLess(string(p), string(other), '/')
}

// Less performs a sort comparison between two root-relative local paths using
// the platform separator.
func (p LocalPath) Less(other LocalPath) bool {
	return componentLess(string(p), string(other), Separator)
}

// componentLess is a fast, allocation-free component-wise comparison used by
// both path types' Less implementations.
func componentLess(first, second string, sep byte) bool {
	if first == second {
		return false
	} else if first == "" {
		return true
	} else if second == "" {
		return false
	}

	for {
		firstIdx := strings.IndexByte(first, sep)
		var firstComponent string
		if firstIdx == -1 {
			firstComponent = first
		} else {
			firstComponent = first[:firstIdx]
		}

		secondIdx := strings.IndexByte(second, sep)
		var secondComponent string
		if secondIdx == -1 {
			secondComponent = second
		} else {
			secondComponent = second[:secondIdx]
		}

		if firstComponent < secondComponent {
			return true
		} else if secondComponent < firstComponent {
			return false
		}

		if firstIdx == -1 {
			return true
		} else if secondIdx == -1 {
			return false
		}
		first = first[firstIdx+1:]
		second = second[secondIdx+1:]
	}
}

// CaseSensitivity describes whether a filesystem treats names as
// case-sensitive or case-insensitive; it governs which comparison a
// LocalPath-keyed index should use (spec §4.1, DESIGN NOTES: "the
// filesystem-type enum declares which policy to use").
type CaseSensitivity uint8

const (
	// CaseSensitive means distinct-case names are distinct entries.
	CaseSensitive CaseSensitivity = iota
	// CaseInsensitive means names compare equal modulo Unicode case folding.
	CaseInsensitive
)

// EqualLocalNames compares two local names for equality under the given case
// policy.
func EqualLocalNames(a, b string, policy CaseSensitivity) bool {
	if policy == CaseSensitive {
		return a == b
	}
	return Fold(a) == Fold(b)
}

// EqualRemoteNames compares two remote names for equality. Remote
// comparisons are always case-insensitive on local-side keys, to match cloud
// semantics.
func EqualRemoteNames(a, b string) bool {
	return Fold(a) == Fold(b)
}
