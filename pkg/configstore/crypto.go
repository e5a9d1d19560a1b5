package configstore

import (
	"fmt"

	"github.com/cloudsync/synccore/pkg/aead"
)

// tagSize is the width of the derived filename tag (spec §4.3: "a 128-bit
// filename tag").
const tagSize = 16

// derivedKeys holds the values derived from a per-user master secret: the
// AES-CBC cipher key, the HMAC-SHA-256 authentication key, and the filename
// tag used to name the two slot files on disk.
type derivedKeys struct {
	aead    *aead.Keys
	fileTag []byte
}

// deriveKeys expands a per-user master secret into the cipher key,
// authentication key, and filename tag using HKDF with independent info
// strings, so that a compromise of one derived value doesn't weaken the
// others (spec §4.3: "both keys and a 128-bit filename tag are derived from
// a per-user TLV record").
func deriveKeys(masterSecret []byte) (*derivedKeys, error) {
	fileTag := make([]byte, tagSize)
	keys, err := aead.Derive(masterSecret,
		"synccore-configstore-cipher-key",
		"synccore-configstore-auth-key",
		map[string][]byte{"synccore-configstore-filename-tag": fileTag},
	)
	if err != nil {
		return nil, fmt.Errorf("unable to derive configuration store keys: %w", err)
	}
	return &derivedKeys{aead: keys, fileTag: fileTag}, nil
}

// seal encrypts plaintext under the store's derived keys, matching the
// on-disk layout of spec §4.3/§6: `<encrypted-JSON><16-byte IV><32-byte
// MAC>`.
func seal(keys *derivedKeys, plaintext []byte) ([]byte, error) {
	return aead.Seal(keys.aead, plaintext)
}

// open reverses seal, verifying the MAC before decrypting.
func open(keys *derivedKeys, blob []byte) ([]byte, error) {
	return aead.Open(keys.aead, blob)
}
