package scan

import (
	"crypto/sha256"
	"io"
	"os"
	"time"

	"github.com/cloudsync/synccore/pkg/core"
)

// sampleSize is the number of bytes read from the head, middle, and tail of
// a file to build its sparse checksum (glossary: "128-bit sparse checksum of
// head+mid+tail samples"). Files smaller than 3*sampleSize are read in full
// instead of sampled, since sampling would otherwise overlap or exceed the
// file's extent.
const sampleSize = 4096

// computeFingerprint reads file content to build a fresh Fingerprint,
// implementing the scanner's "fresh fingerprint is computed by reading file
// content" branch of the fingerprint reuse rule.
func computeFingerprint(path string, size int64, modTime time.Time) (core.Fingerprint, error) {
	fp := core.Fingerprint{Size: size, ModTime: modTime, HasChecksum: true}

	f, err := os.Open(path)
	if err != nil {
		return core.Fingerprint{}, err
	}
	defer f.Close()

	digest := sha256.New()

	if size <= 3*sampleSize {
		if _, err := io.Copy(digest, f); err != nil {
			return core.Fingerprint{}, err
		}
	} else {
		buf := make([]byte, sampleSize)

		if _, err := io.ReadFull(f, buf); err != nil {
			return core.Fingerprint{}, err
		}
		digest.Write(buf)

		mid := size/2 - sampleSize/2
		if _, err := f.Seek(mid, io.SeekStart); err != nil {
			return core.Fingerprint{}, err
		}
		if _, err := io.ReadFull(f, buf); err != nil {
			return core.Fingerprint{}, err
		}
		digest.Write(buf)

		if _, err := f.Seek(-sampleSize, io.SeekEnd); err != nil {
			return core.Fingerprint{}, err
		}
		if _, err := io.ReadFull(f, buf); err != nil {
			return core.Fingerprint{}, err
		}
		digest.Write(buf)
	}

	sum := digest.Sum(nil)
	copy(fp.Checksum[:], sum[:16])
	return fp, nil
}

// reuseFingerprint implements the fingerprint reuse rule (spec §4.4): "if
// the prior-known child with the same local name matches on (type, fsid,
// mtime, size), its fingerprint is moved into the result".
func reuseFingerprint(prior *core.FsNode, current *core.FsNode) (core.Fingerprint, bool) {
	if prior == nil {
		return core.Fingerprint{}, false
	}
	if prior.Type != current.Type {
		return core.Fingerprint{}, false
	}
	if !prior.Fsid.Equal(current.Fsid) {
		return core.Fingerprint{}, false
	}
	if !prior.Fingerprint.ModTime.Equal(current.Fingerprint.ModTime) {
		return core.Fingerprint{}, false
	}
	if prior.Fingerprint.Size != current.Fingerprint.Size {
		return core.Fingerprint{}, false
	}
	return prior.Fingerprint, true
}
