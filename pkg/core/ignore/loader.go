package ignore

import (
	"bytes"

	"github.com/cloudsync/synccore/pkg/core/path"
	"github.com/cloudsync/synccore/pkg/logging"
)

// Loader owns one directory's chain and reloads it only when the underlying
// content changes (tracked by fingerprint), per spec §4.2: "The filter chain
// stores a fingerprint of the ignore file and reloads only on content
// change."
type Loader struct {
	base   path.RemotePath
	logger *logging.Logger
	chain  *Chain
}

// NewLoader creates a Loader for the ignore file located at base, with no
// chain loaded yet (equivalent to an empty chain until the first Reload).
func NewLoader(base path.RemotePath, logger *logging.Logger) *Loader {
	return &Loader{base: base, logger: logger, chain: Empty(base)}
}

// Chain returns the loader's current chain, which is always non-nil.
func (l *Loader) Chain() *Chain { return l.chain }

// Reload parses new content if it differs from what's currently loaded. On a
// parse error, the previously loaded chain is retained and the error is
// returned so the caller can log it; the ignore engine as a whole does not
// fail (spec §4.2: "Errors during parse fail the load of that ignore file
// but do not crash; the previously loaded chain is retained.").
func (l *Loader) Reload(content []byte) error {
	if content == nil {
		// No ignore file present at this directory: treat it as empty,
		// which itself constitutes a "change" if a chain previously existed
		// with rules, but is not an error.
		if len(l.chain.rules) != 0 || l.chain.lowerBound != 0 || l.chain.upperBound != maxBound {
			l.chain = Empty(l.base)
		}
		return nil
	}

	newFingerprint := fingerprintOf(content)
	if bytes.Equal(newFingerprint[:], l.chain.fingerprint[:]) {
		return nil
	}

	parsed, err := Parse(content, l.base)
	if err != nil {
		l.logger.Warnf("keeping previous ignore chain for %q after parse error: %v", l.base, err)
		return err
	}

	l.chain = parsed
	return nil
}
