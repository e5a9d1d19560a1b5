// Package ignore implements the .megaignore parsing and evaluation engine
// described in spec §4.2: a per-directory chain of include/exclude rules
// plus size filters, with the last matching rule winning.
package ignore

import (
	"fmt"
	"regexp"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/cloudsync/synccore/pkg/core/path"
)

// Target restricts a rule to folders, files, or both.
type Target uint8

const (
	TargetAll Target = iota
	TargetDirs
	TargetFiles
)

// Scope controls how far below the ignore file's directory a rule's pattern
// applies, and what it is matched against.
type Scope uint8

const (
	// ScopeLocalOnly matches only direct children of the directory holding
	// the ignore file.
	ScopeLocalOnly Scope = iota
	// ScopeNameSubtree matches by base name anywhere in the subtree rooted
	// at the ignore file's directory.
	ScopeNameSubtree
	// ScopeFullPath matches the full path relative to the ignore file's
	// directory, anywhere in its subtree.
	ScopeFullPath
)

// MatchKind selects between glob and regex matching for a rule's pattern.
type MatchKind uint8

const (
	MatchGlob MatchKind = iota
	MatchRegex
)

// Matcher is the sum type `Matcher = Glob{case} | Regex{case}` from the
// design notes: dispatch between the two kinds, and between case-sensitive
// and case-insensitive variants of each, is data-driven rather than
// polymorphic.
type Matcher struct {
	Kind          MatchKind
	CaseSensitive bool
	Pattern       string

	// compiled is populated for MatchRegex matchers at parse time; nil for
	// glob matchers, which doublestar matches directly against the pattern
	// string with no precompilation step of its own.
	compiled *regexp.Regexp
}

// newMatcher constructs and validates a Matcher, compiling a regex pattern
// (with case-insensitivity folded into the pattern via the `(?i)` flag) or
// validating a glob pattern by test-matching it once.
func newMatcher(kind MatchKind, caseSensitive bool, pattern string) (Matcher, error) {
	m := Matcher{Kind: kind, CaseSensitive: caseSensitive, Pattern: pattern}

	switch kind {
	case MatchGlob:
		if _, err := doublestar.Match(pattern, "probe"); err != nil {
			return Matcher{}, fmt.Errorf("invalid glob pattern %q: %w", pattern, err)
		}
	case MatchRegex:
		expr := pattern
		if !caseSensitive {
			expr = "(?i)" + expr
		}
		compiled, err := regexp.Compile(expr)
		if err != nil {
			return Matcher{}, fmt.Errorf("invalid regex pattern %q: %w", pattern, err)
		}
		m.compiled = compiled
	default:
		return Matcher{}, fmt.Errorf("unknown matcher kind %d", kind)
	}

	return m, nil
}

// Match reports whether the matcher matches the given candidate string
// (either a base name or a relative path, depending on the rule's Scope).
func (m Matcher) Match(candidate string) bool {
	switch m.Kind {
	case MatchRegex:
		return m.compiled.MatchString(candidate)
	case MatchGlob:
		target := candidate
		glob := m.Pattern
		if !m.CaseSensitive {
			target = path.Fold(candidate)
			glob = path.Fold(m.Pattern)
		}
		matched, _ := doublestar.Match(glob, target)
		return matched
	default:
		return false
	}
}
