// Package seal encrypts small values (cookies) with a key derived from a server secret.
package seal

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// KeyLen is the XChaCha20-Poly1305 key size.
const KeyLen = chacha20poly1305.KeySize

// ErrMalformed is returned for values too short or not base64url.
var ErrMalformed = errors.New("sealed value malformed")

// Rand returns n random bytes.
func Rand(n int) ([]byte, error) {
	b := make([]byte, n)
	_, err := rand.Read(b)
	return b, err
}

// DeriveKey derives a purpose-bound key from secret via HKDF-SHA256.
func DeriveKey(secret []byte, purpose string) ([]byte, error) {
	if len(secret) == 0 {
		return nil, errors.New("empty secret")
	}
	r := hkdf.New(sha256.New, secret, nil, []byte(purpose))
	key := make([]byte, KeyLen)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, err
	}
	return key, nil
}

// Sealer seals and opens values under one key.
type Sealer struct {
	aead cipher.AEAD
}

// New builds a Sealer for secret and purpose. Different purposes never open each other's values.
func New(secret []byte, purpose string) (*Sealer, error) {
	key, err := DeriveKey(secret, purpose)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	return &Sealer{aead: aead}, nil
}

// Seal returns nonce||ciphertext. aad binds the value to its context.
func (s *Sealer) Seal(plaintext, aad []byte) ([]byte, error) {
	nonce, err := Rand(chacha20poly1305.NonceSizeX)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(nonce)+len(plaintext)+s.aead.Overhead())
	out = append(out, nonce...)
	out = append(out, s.aead.Seal(nil, nonce, plaintext, aad)...)
	return out, nil
}

// Open reverses Seal with the same aad.
func (s *Sealer) Open(blob, aad []byte) ([]byte, error) {
	if len(blob) < chacha20poly1305.NonceSizeX+s.aead.Overhead() {
		return nil, ErrMalformed
	}
	nonce := blob[:chacha20poly1305.NonceSizeX]
	ct := blob[chacha20poly1305.NonceSizeX:]
	return s.aead.Open(nil, nonce, ct, aad)
}

// SealString is Seal with unpadded base64url output, safe for cookie values.
func (s *Sealer) SealString(plaintext, aad []byte) (string, error) {
	b, err := s.Seal(plaintext, aad)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// OpenString reverses SealString.
func (s *Sealer) OpenString(v string, aad []byte) ([]byte, error) {
	b, err := base64.RawURLEncoding.DecodeString(v)
	if err != nil {
		return nil, ErrMalformed
	}
	return s.Open(b, aad)
}
