package ignore

import (
	"crypto/sha256"
	"strings"

	"github.com/cloudsync/synccore/pkg/core/path"
)

// alwaysExcluded lists resource names the engine hides unconditionally,
// regardless of any ignore file content — spec §4.2: "Always-excluded
// resource names (e.g. macOS icon metadata) are hard-coded."
var alwaysExcluded = map[string]bool{
	".DS_Store": true,
	"Icon\r":    true,
	"Thumbs.db": true,
	"desktop.ini": true,
}

// Chain is the parsed, evaluatable form of one directory's .megaignore file,
// plus the hard-coded always-excluded set and size filters. It caches the
// fingerprint of the source content so the owner can reload only on change
// (spec §4.2).
type Chain struct {
	// Base is the directory (relative to the synchronization root) that
	// this chain's file was read from; rule matching computes paths
	// relative to Base.
	Base path.RemotePath

	rules []Rule

	// lowerBound and upperBound implement exclude-smaller/exclude-larger;
	// zero/max-int64 by default (no filtering).
	lowerBound int64
	upperBound int64

	// fingerprint is the SHA-256 digest of the raw ignore-file bytes last
	// successfully parsed into this chain.
	fingerprint [32]byte
}

// Fingerprint returns the digest of the source content this chain was
// parsed from.
func (c *Chain) Fingerprint() [32]byte { return c.fingerprint }

// Empty returns a Chain with no rules and no size filters, used for
// directories with no ignore file.
func Empty(base path.RemotePath) *Chain {
	return &Chain{Base: base, upperBound: maxBound}
}

const maxBound = int64(1)<<62 - 1

// SizeBounds returns the configured exclude-smaller/exclude-larger bounds.
func (c *Chain) SizeBounds() (lower, upper int64) { return c.lowerBound, c.upperBound }

// Evaluate decides whether an entry at remotePath (which must lie within or
// at Base) is excluded. It returns whether any rule matched at all
// (matched), so that callers building a layered ignore system (nested
// ignore files at multiple ancestor directories) know whether to consult a
// shallower chain. size is only consulted for files (isDir false); pass 0
// for directories.
func (c *Chain) Evaluate(remotePath path.RemotePath, isDir bool, size int64) (excluded bool, matched bool) {
	name := remotePath.Leaf()

	if alwaysExcluded[name] {
		return true, true
	}

	if !isDir {
		if size < c.lowerBound || size > c.upperBound {
			return true, true
		}
	}

	relative := strings.TrimPrefix(string(remotePath), string(c.Base))
	relative = strings.TrimPrefix(relative, "/")
	depth := strings.Count(relative, "/") + 1

	// Later rules override earlier; the last matching rule wins.
	result := false
	for i := range c.rules {
		r := &c.rules[i]
		if r.matches(relative, name, depth, isDir) {
			result = r.Include
			matched = true
		}
	}

	// A rule whose Include is true means "explicitly keep", i.e. it is not
	// excluded; a matched exclude rule (Include false) means excluded.
	// Matching nothing means not excluded (default: included).
	if !matched {
		return false, false
	}
	return !result, true
}

// fingerprintOf computes the SHA-256 digest used for reload-on-change
// detection.
func fingerprintOf(content []byte) [32]byte {
	return sha256.Sum256(content)
}
