// Package aead provides the single AES-CBC + HMAC-SHA-256
// authenticated-encryption primitive used everywhere this module persists
// opaque state to disk: the encrypted sync-configuration store (spec §4.3)
// and the persistent sync-node cache (spec §4.5). Both stores derive their
// keys from a per-sync master secret via HKDF and use the identical
// ciphertext||iv||mac layout, so the primitive is factored out once here
// rather than duplicated per package.
package aead

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const (
	// KeySize is the width, in bytes, of each derived 128-bit key.
	KeySize = 16
	// ivSize is the AES block size, used as the CBC IV width.
	ivSize = aes.BlockSize
	// macSize is the width of the HMAC-SHA-256 tag.
	macSize = sha256.Size
)

// Keys holds a cipher key and an authentication key derived independently
// from the same master secret, so that a compromise of one doesn't weaken
// the other.
type Keys struct {
	CipherKey []byte
	AuthKey   []byte
}

// Derive expands masterSecret into a Keys pair plus any number of extra
// tags (e.g. a filename tag) using HKDF-SHA-256 with independent info
// strings per output. The caller pre-allocates each slice in extra at the
// desired width (e.g. make([]byte, n)); Derive fills them in place.
func Derive(masterSecret []byte, cipherInfo, authInfo string, extra map[string][]byte) (*Keys, error) {
	keys := &Keys{CipherKey: make([]byte, KeySize), AuthKey: make([]byte, KeySize)}

	if err := deriveInto(masterSecret, []byte(cipherInfo), keys.CipherKey); err != nil {
		return nil, fmt.Errorf("unable to derive cipher key: %w", err)
	}
	if err := deriveInto(masterSecret, []byte(authInfo), keys.AuthKey); err != nil {
		return nil, fmt.Errorf("unable to derive authentication key: %w", err)
	}
	for info, out := range extra {
		if err := deriveInto(masterSecret, []byte(info), out); err != nil {
			return nil, fmt.Errorf("unable to derive %s: %w", info, err)
		}
	}

	return keys, nil
}

// deriveInto fills out with HKDF-SHA-256 output derived from secret and
// info.
func deriveInto(secret, info, out []byte) error {
	reader := hkdf.New(sha256.New, secret, nil, info)
	_, err := io.ReadFull(reader, out)
	return err
}

// pkcs7Pad pads data to a multiple of blockSize using PKCS#7 padding.
func pkcs7Pad(data []byte, blockSize int) []byte {
	padLen := blockSize - (len(data) % blockSize)
	padded := make([]byte, len(data)+padLen)
	copy(padded, data)
	for i := len(data); i < len(padded); i++ {
		padded[i] = byte(padLen)
	}
	return padded
}

// pkcs7Unpad removes PKCS#7 padding, validating it strictly to avoid
// padding-oracle ambiguity.
func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, errors.New("invalid padded data length")
	}
	padLen := int(data[len(data)-1])
	if padLen == 0 || padLen > blockSize || padLen > len(data) {
		return nil, errors.New("invalid padding")
	}
	for _, b := range data[len(data)-padLen:] {
		if int(b) != padLen {
			return nil, errors.New("invalid padding bytes")
		}
	}
	return data[:len(data)-padLen], nil
}

// Seal encrypts plaintext under AES-CBC with a random IV and appends the IV
// and an HMAC-SHA-256 MAC over (ciphertext||IV): `<ciphertext><16-byte
// IV><32-byte MAC>`.
func Seal(keys *Keys, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(keys.CipherKey)
	if err != nil {
		return nil, fmt.Errorf("unable to construct cipher: %w", err)
	}

	iv := make([]byte, ivSize)
	if _, err := rand.Read(iv); err != nil {
		return nil, fmt.Errorf("unable to generate iv: %w", err)
	}

	padded := pkcs7Pad(plaintext, aes.BlockSize)
	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)

	mac := hmac.New(sha256.New, keys.AuthKey)
	mac.Write(ciphertext)
	mac.Write(iv)
	tag := mac.Sum(nil)

	out := make([]byte, 0, len(ciphertext)+ivSize+macSize)
	out = append(out, ciphertext...)
	out = append(out, iv...)
	out = append(out, tag...)
	return out, nil
}

// Open reverses Seal, verifying the MAC before decrypting.
func Open(keys *Keys, blob []byte) ([]byte, error) {
	if len(blob) < ivSize+macSize {
		return nil, errors.New("ciphertext too short")
	}

	macStart := len(blob) - macSize
	ivStart := macStart - ivSize

	ciphertext := blob[:ivStart]
	iv := blob[ivStart:macStart]
	tag := blob[macStart:]

	mac := hmac.New(sha256.New, keys.AuthKey)
	mac.Write(ciphertext)
	mac.Write(iv)
	expected := mac.Sum(nil)
	if !hmac.Equal(expected, tag) {
		return nil, errors.New("MAC verification failed")
	}

	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return nil, errors.New("invalid ciphertext length")
	}

	block, err := aes.NewCipher(keys.CipherKey)
	if err != nil {
		return nil, fmt.Errorf("unable to construct cipher: %w", err)
	}

	padded := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(padded, ciphertext)

	return pkcs7Unpad(padded, aes.BlockSize)
}
