package tokenstore

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/nacl/secretbox"
)

const (
	nonceSize = 24
	keySize   = 32
	hkdfInfo  = "damio-admin-console/session-kv/v1"
)

// SealedBackend encrypts values at rest before handing them to another Backend.
// Values that fail to open read as absent.
type SealedBackend struct {
	inner Backend
	key   [keySize]byte
}

// NewSealedBackend derives a secretbox key from secret and wraps inner.
func NewSealedBackend(inner Backend, secret string) (*SealedBackend, error) {
	if secret == "" {
		return nil, errors.New("sealed backend requires a non-empty secret")
	}
	s := &SealedBackend{inner: inner}
	kdf := hkdf.New(sha256.New, []byte(secret), nil, []byte(hkdfInfo))
	if _, err := io.ReadFull(kdf, s.key[:]); err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	return s, nil
}

func (s *SealedBackend) Get(ctx context.Context, key string) (string, bool, error) {
	val, ok, err := s.inner.Get(ctx, key)
	if err != nil || !ok {
		return "", ok, err
	}
	plain, opened := s.open(val)
	if !opened {
		return "", false, nil
	}
	return plain, true, nil
}

func (s *SealedBackend) Set(ctx context.Context, key, value string) error {
	var nonce [nonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return fmt.Errorf("generate nonce: %w", err)
	}
	sealed := secretbox.Seal(nonce[:], []byte(value), &nonce, &s.key)
	return s.inner.Set(ctx, key, base64.RawURLEncoding.EncodeToString(sealed))
}

func (s *SealedBackend) Delete(ctx context.Context, keys ...string) error {
	return s.inner.Delete(ctx, keys...)
}

// Purge forwards to the wrapped backend when it supports purging.
func (s *SealedBackend) Purge(ctx context.Context) (int64, error) {
	if p, ok := s.inner.(Purger); ok {
		return p.Purge(ctx)
	}
	return 0, nil
}

func (s *SealedBackend) open(encoded string) (string, bool) {
	data, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil || len(data) < nonceSize+secretbox.Overhead {
		return "", false
	}
	var nonce [nonceSize]byte
	copy(nonce[:], data[:nonceSize])
	plain, ok := secretbox.Open(nil, data[nonceSize:], &nonce, &s.key)
	if !ok {
		return "", false
	}
	return string(plain), true
}
