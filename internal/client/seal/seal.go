// Package seal protects offline-queue rows at rest. Queued acknowledgments
// reference personal health data, so they are stored AEAD-sealed under a
// random per-install key.
package seal

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"os"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// KeyLen is the length of the per-install master key.
const KeyLen = 32

// queue rows and any future client-side blobs use distinct derived keys
const queueInfo = "fitplan/queue/v1"

// Sealer encrypts and decrypts small blobs with XChaCha20-Poly1305.
type Sealer struct {
	key []byte // derived sealing key, KeyLen bytes
}

// New derives a Sealer from the per-install master key.
func New(master []byte) (*Sealer, error) {
	if len(master) != KeyLen {
		return nil, errors.New("seal: bad master key length")
	}
	r := hkdf.New(sha256.New, master, nil, []byte(queueInfo))
	key := make([]byte, KeyLen)
	if _, err := r.Read(key); err != nil {
		return nil, err
	}
	return &Sealer{key: key}, nil
}

// LoadOrCreateKey reads the master key from path, generating and persisting
// a fresh one (0600) on first use.
func LoadOrCreateKey(path string) ([]byte, error) {
	b, err := os.ReadFile(path)
	if err == nil && len(b) == KeyLen {
		return b, nil
	}
	key := make([]byte, KeyLen)
	if _, err := rand.Read(key); err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, key, 0o600); err != nil {
		return nil, err
	}
	return key, nil
}

// Seal encrypts plaintext with a random nonce and binds it to aad.
func (s *Sealer) Seal(plaintext, aad []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(nonce)+len(plaintext)+aead.Overhead())
	out = append(out, nonce...)
	out = append(out, aead.Seal(nil, nonce, plaintext, aad)...)
	return out, nil
}

// Open decrypts a sealed blob produced by Seal with the same aad.
func (s *Sealer) Open(blob, aad []byte) ([]byte, error) {
	if len(blob) < chacha20poly1305.NonceSizeX {
		return nil, errors.New("seal: blob too short")
	}
	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return nil, err
	}
	nonce := blob[:chacha20poly1305.NonceSizeX]
	ct := blob[chacha20poly1305.NonceSizeX:]
	return aead.Open(nil, nonce, ct, aad)
}
