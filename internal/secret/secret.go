// Package secret encrypts transport credentials at rest. Stored SMTP
// passwords and OAuth2 secrets never hit the database in clear text.
package secret

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"io"

	"golang.org/x/crypto/nacl/secretbox"
)

var ErrDecrypt = errors.New("secret: decryption failed")

type Box struct {
	key [32]byte
}

// New derives a fixed-size key from the configured secret. An empty secret
// falls back to a development key, same convention as the session secret.
func New(secretKey string) *Box {
	if secretKey == "" {
		secretKey = "devsecretkey"
	}
	b := &Box{}
	b.key = sha256.Sum256([]byte(secretKey))
	return b
}

// Encrypt seals a value and returns it base64-encoded with the nonce prepended.
// Empty input stays empty so optional credential fields round-trip cleanly.
func (b *Box) Encrypt(plain string) (string, error) {
	if plain == "" {
		return "", nil
	}
	var nonce [24]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return "", err
	}
	sealed := secretbox.Seal(nonce[:], []byte(plain), &nonce, &b.key)
	return base64.RawStdEncoding.EncodeToString(sealed), nil
}

func (b *Box) Decrypt(stored string) (string, error) {
	if stored == "" {
		return "", nil
	}
	raw, err := base64.RawStdEncoding.DecodeString(stored)
	if err != nil {
		return "", ErrDecrypt
	}
	if len(raw) < 24 {
		return "", ErrDecrypt
	}
	var nonce [24]byte
	copy(nonce[:], raw[:24])
	plain, ok := secretbox.Open(nil, raw[24:], &nonce, &b.key)
	if !ok {
		return "", ErrDecrypt
	}
	return string(plain), nil
}
