// Package exportutil prepares analysis data for export: authenticated
// encryption, gzip compression, and capture re-export as JSON or PCAP.
package exportutil

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"

	"golang.org/x/crypto/argon2"

	"github.com/marmos91/triage/pkg/analysiserr"
)

// Argon2id parameters and the wire layout:
// salt(16) ‖ nonce(12) ‖ ciphertext.
const (
	saltLen  = 16
	nonceLen = 12
	keyLen   = 32

	argonMemoryKiB = 19_456
	argonTime      = 2
	argonThreads   = 1
)

// Encrypt derives a key from password with Argon2id and seals data with
// AES-256-GCM. Salt and nonce come from the cryptographic RNG per call.
// Returns base64 of salt ‖ nonce ‖ ciphertext.
func Encrypt(data []byte, password string) (string, error) {
	if password == "" {
		return "", analysiserr.New(analysiserr.CryptoError, "password must not be empty")
	}

	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", analysiserr.Wrap(analysiserr.CryptoError, "generate salt", err)
	}
	nonce := make([]byte, nonceLen)
	if _, err := rand.Read(nonce); err != nil {
		return "", analysiserr.Wrap(analysiserr.CryptoError, "generate nonce", err)
	}

	key := argon2.IDKey([]byte(password), salt, argonTime, argonMemoryKiB, argonThreads, keyLen)

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", analysiserr.Wrap(analysiserr.CryptoError, "initialize cipher", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", analysiserr.Wrap(analysiserr.CryptoError, "initialize GCM", err)
	}

	out := make([]byte, 0, saltLen+nonceLen+len(data)+gcm.Overhead())
	out = append(out, salt...)
	out = append(out, nonce...)
	out = gcm.Seal(out, nonce, data, nil)

	return base64.StdEncoding.EncodeToString(out), nil
}

// Decrypt reverses Encrypt.
func Decrypt(encoded, password string) ([]byte, error) {
	blob, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, analysiserr.Wrap(analysiserr.CryptoError, "decode export blob", err)
	}
	if len(blob) < saltLen+nonceLen {
		return nil, analysiserr.New(analysiserr.CryptoError, "export blob too short")
	}
	salt := blob[:saltLen]
	nonce := blob[saltLen : saltLen+nonceLen]
	ciphertext := blob[saltLen+nonceLen:]

	key := argon2.IDKey([]byte(password), salt, argonTime, argonMemoryKiB, argonThreads, keyLen)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, analysiserr.Wrap(analysiserr.CryptoError, "initialize cipher", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, analysiserr.Wrap(analysiserr.CryptoError, "initialize GCM", err)
	}

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, analysiserr.Wrap(analysiserr.CryptoError, "decrypt export blob (wrong password?)", err)
	}
	return plaintext, nil
}
