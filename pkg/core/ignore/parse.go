package ignore

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"golang.org/x/text/unicode/norm"

	"github.com/cloudsync/synccore/pkg/core/path"
)

// Parse parses the raw content of a .megaignore file into a Chain rooted at
// base. Errors during parsing fail the load of that ignore file as a whole
// (spec §4.2): the caller is expected to retain whatever chain was
// previously loaded for this directory rather than apply a partially parsed
// one.
func Parse(content []byte, base path.RemotePath) (*Chain, error) {
	chain := &Chain{
		Base:        base,
		upperBound:  maxBound,
		fingerprint: fingerprintOf(content),
	}

	normalized := norm.NFC.String(string(content))
	lines := strings.Split(normalized, "\n")

	for lineNumber, rawLine := range lines {
		line := strings.TrimSuffix(rawLine, "\r")
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		if bound, ok, err := parseSizeLine(line, "exclude-larger:"); err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNumber+1, err)
		} else if ok {
			chain.upperBound = bound
			continue
		}
		if bound, ok, err := parseSizeLine(line, "exclude-smaller:"); err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNumber+1, err)
		} else if ok {
			chain.lowerBound = bound
			continue
		}

		rule, err := parseRuleLine(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNumber+1, err)
		}
		chain.rules = append(chain.rules, rule)
	}

	return chain, nil
}

// parseSizeLine parses an `exclude-larger:`/`exclude-smaller:` line if line
// has the given prefix. The numeric suffix accepts k/m/g (case-insensitive)
// as in the spec; it is translated into the binary (1024-based) KiB/MiB/GiB
// suffixes github.com/dustin/go-humanize expects before parsing, since humanize's
// human-size parser is otherwise targeted at its own ParseBytes output
// format rather than the spec's single-letter suffixes.
func parseSizeLine(line, prefix string) (bound int64, ok bool, err error) {
	if !strings.HasPrefix(line, prefix) {
		return 0, false, nil
	}
	spec := strings.TrimSpace(strings.TrimPrefix(line, prefix))
	if spec == "" {
		return 0, true, fmt.Errorf("empty size bound")
	}

	translated := spec
	last := spec[len(spec)-1]
	switch last {
	case 'k', 'K':
		translated = spec[:len(spec)-1] + "KiB"
	case 'm', 'M':
		translated = spec[:len(spec)-1] + "MiB"
	case 'g', 'G':
		translated = spec[:len(spec)-1] + "GiB"
	default:
		if _, convErr := strconv.ParseInt(spec, 10, 64); convErr == nil {
			translated = spec + "B"
		}
	}

	bytes, parseErr := humanize.ParseBytes(translated)
	if parseErr != nil {
		return 0, true, fmt.Errorf("invalid size bound %q: %w", spec, parseErr)
	}
	return int64(bytes), true, nil
}

// parseRuleLine parses a single `[+|-][a|d|f][N|n|p][G|g|R|r]:<pattern>`
// line. Every header component after the mandatory class letter is
// optional: a rule may specify as few or as many of target/scope/matcher as
// it likes (e.g. the bare `-:*.tmp` from spec §8 scenario 5), and the
// remaining components default to "all" (target), "name-subtree" (scope),
// and case-insensitive glob (matcher). Components may appear in any order;
// each header character is classified by which of the three letter sets it
// belongs to.
func parseRuleLine(line string) (Rule, error) {
	colon := strings.IndexByte(line, ':')
	if colon < 1 {
		return Rule{}, fmt.Errorf("malformed rule line %q", line)
	}
	header := line[:colon]
	pattern := line[colon+1:]
	if pattern == "" {
		return Rule{}, fmt.Errorf("empty pattern in rule line %q", line)
	}

	rule := Rule{
		Target: TargetAll,
		Scope:  ScopeNameSubtree,
	}
	kind := MatchGlob
	caseSensitive := false

	switch header[0] {
	case '+':
		rule.Include = true
	case '-':
		rule.Include = false
	default:
		return Rule{}, fmt.Errorf("unknown class %q", header[0])
	}

	var targetSet, scopeSet, matcherSet bool
	for i := 1; i < len(header); i++ {
		c := header[i]
		switch c {
		case 'a', 'd', 'f':
			if targetSet {
				return Rule{}, fmt.Errorf("duplicate target component in header %q", header)
			}
			targetSet = true
			switch c {
			case 'a':
				rule.Target = TargetAll
			case 'd':
				rule.Target = TargetDirs
			case 'f':
				rule.Target = TargetFiles
			}
		case 'N', 'n', 'p':
			if scopeSet {
				return Rule{}, fmt.Errorf("duplicate scope component in header %q", header)
			}
			scopeSet = true
			switch c {
			case 'N':
				rule.Scope = ScopeLocalOnly
			case 'n':
				rule.Scope = ScopeNameSubtree
			case 'p':
				rule.Scope = ScopeFullPath
			}
		case 'G', 'g', 'R', 'r':
			if matcherSet {
				return Rule{}, fmt.Errorf("duplicate matcher component in header %q", header)
			}
			matcherSet = true
			switch c {
			case 'G':
				kind, caseSensitive = MatchGlob, true
			case 'g':
				kind, caseSensitive = MatchGlob, false
			case 'R':
				kind, caseSensitive = MatchRegex, true
			case 'r':
				kind, caseSensitive = MatchRegex, false
			}
		default:
			return Rule{}, fmt.Errorf("unknown header component %q in %q", c, header)
		}
	}

	matcher, err := newMatcher(kind, caseSensitive, pattern)
	if err != nil {
		return Rule{}, err
	}
	rule.Matcher = matcher

	return rule, nil
}
