package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

var (
	// ErrMalformedCredential covers empty, non-JWT, and exp-less credentials.
	ErrMalformedCredential = errors.New("malformed credential")
	// ErrCredentialExpired is returned once the exp claim has passed.
	ErrCredentialExpired = errors.New("credential expired")
)

// Credential is a bearer token with its decoded expiry.
type Credential struct {
	Raw       string
	Subject   string
	ExpiresAt time.Time
}

// DecodeCredential reads the exp claim from a JWT-shaped bearer token.
// The signature is not verified: the console never holds the backend's key.
func DecodeCredential(raw string) (Credential, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Credential{}, ErrMalformedCredential
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return Credential{}, fmt.Errorf("%w: %v", ErrMalformedCredential, err)
	}

	exp, err := claims.GetExpirationTime()
	if err != nil {
		return Credential{}, fmt.Errorf("%w: %v", ErrMalformedCredential, err)
	}
	if exp == nil {
		return Credential{}, fmt.Errorf("%w: missing exp claim", ErrMalformedCredential)
	}

	sub, _ := claims.GetSubject()
	return Credential{Raw: raw, Subject: sub, ExpiresAt: exp.Time}, nil
}

// Expired reports whether the credential is no longer usable at now.
func (c Credential) Expired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

// ValidateCredential decodes raw and rejects it when expired.
func ValidateCredential(raw string, now time.Time) (Credential, error) {
	cred, err := DecodeCredential(raw)
	if err != nil {
		return Credential{}, err
	}
	if cred.Expired(now) {
		return cred, ErrCredentialExpired
	}
	return cred, nil
}
