// Package must provides best-effort wrappers around operations whose errors
// can't be propagated at the call site (e.g. cleanup in a defer) but
// shouldn't be silently swallowed either.
package must

import (
	"io"
	"os"

	"github.com/cloudsync/synccore/pkg/logging"
)

// Close closes a closer, logging a warning on failure.
func Close(c io.Closer, logger *logging.Logger) {
	if err := c.Close(); err != nil {
		logger.Warnf("unable to close: %v", err)
	}
}

// OSRemove removes a file, logging a warning on failure.
func OSRemove(path string, logger *logging.Logger) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		logger.Warnf("unable to remove %q: %v", path, err)
	}
}
