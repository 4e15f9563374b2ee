// Package vault seals per-connection OAuth credentials at rest.
//
// Blobs are base64 (standard encoding) of:
//
//	[version: 1 byte] [nonce: 24 bytes] [tag: 16 bytes] [ciphertext: N bytes]
//
// sealed with XChaCha20-Poly1305 under a single 32-byte master key. The
// version byte is authenticated as additional data.
package vault

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
)

// KeySize is the required master key length in bytes.
const KeySize = chacha20poly1305.KeySize

const blobVersion byte = 0x01

const (
	nonceSize = chacha20poly1305.NonceSizeX
	tagSize   = chacha20poly1305.Overhead
	headerLen = 1 + nonceSize + tagSize
)

var (
	// ErrDecrypt is returned for every decryption failure: malformed blob,
	// unsupported version, failed authentication, or an unusable key.
	ErrDecrypt = errors.New("credential decryption failed")

	// ErrNoKey is returned when the vault has no usable master key.
	ErrNoKey = errors.New("vault master key is not configured")
)

// Vault encrypts and decrypts credential strings. The zero value has no key
// and refuses to operate.
type Vault struct {
	key []byte
}

// New returns a Vault using key, which must be exactly KeySize bytes.
func New(key []byte) (*Vault, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w: key is %d bytes, want %d", ErrNoKey, len(key), KeySize)
	}
	k := make([]byte, KeySize)
	copy(k, key)
	return &Vault{key: k}, nil
}

// ParseKey decodes a master key given as 64 hex characters or as standard
// base64. The decoded key must be KeySize bytes.
func ParseKey(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, ErrNoKey
	}
	if len(s) == hex.EncodedLen(KeySize) {
		if b, err := hex.DecodeString(s); err == nil {
			return b, nil
		}
	}
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: key is neither hex nor base64", ErrNoKey)
	}
	if len(b) != KeySize {
		return nil, fmt.Errorf("%w: key is %d bytes, want %d", ErrNoKey, len(b), KeySize)
	}
	return b, nil
}

// Encrypt seals plaintext with a fresh random nonce.
func (v *Vault) Encrypt(plaintext string) (string, error) {
	if v == nil || len(v.key) != KeySize {
		return "", ErrNoKey
	}
	aead, err := chacha20poly1305.NewX(v.key)
	if err != nil {
		return "", fmt.Errorf("create cipher: %w", err)
	}

	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	aad := []byte{blobVersion}
	sealed := aead.Seal(nil, nonce[:], []byte(plaintext), aad)
	ct, tag := sealed[:len(sealed)-tagSize], sealed[len(sealed)-tagSize:]

	out := make([]byte, 0, headerLen+len(ct))
	out = append(out, blobVersion)
	out = append(out, nonce[:]...)
	out = append(out, tag...)
	out = append(out, ct...)
	return base64.StdEncoding.EncodeToString(out), nil
}

// Decrypt opens a blob produced by Encrypt. It never returns partial
// plaintext: any failure yields an error wrapping ErrDecrypt.
func (v *Vault) Decrypt(blob string) (string, error) {
	if v == nil || len(v.key) != KeySize {
		return "", fmt.Errorf("%w: %w", ErrDecrypt, ErrNoKey)
	}

	raw, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		return "", fmt.Errorf("%w: malformed encoding", ErrDecrypt)
	}
	if len(raw) < headerLen {
		return "", fmt.Errorf("%w: blob is %d bytes, minimum is %d", ErrDecrypt, len(raw), headerLen)
	}
	if raw[0] != blobVersion {
		return "", fmt.Errorf("%w: unsupported version %d", ErrDecrypt, raw[0])
	}

	nonce := raw[1 : 1+nonceSize]
	tag := raw[1+nonceSize : headerLen]
	ct := raw[headerLen:]

	aead, err := chacha20poly1305.NewX(v.key)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecrypt, err)
	}

	sealed := make([]byte, 0, len(ct)+tagSize)
	sealed = append(sealed, ct...)
	sealed = append(sealed, tag...)

	plaintext, err := aead.Open(nil, nonce, sealed, raw[:1])
	if err != nil {
		return "", fmt.Errorf("%w: authentication failed", ErrDecrypt)
	}
	return string(plaintext), nil
}
