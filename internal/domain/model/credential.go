package model

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	// MaxNameLength is the longest credential label in bytes, excluding the
	// NUL terminator written to persisted blobs.
	MaxNameLength = 32

	// SecretSize is the fixed length of a credential's raw HMAC key.
	SecretSize = 20

	// CodeDigits is the number of decimal digits in a verification code.
	CodeDigits = 6

	// MaxCredentials is the number of distinct credential ids. No store can
	// hold more credentials than this.
	MaxCredentials = 1 << 16
)

// ErrInvalidSecretLength is returned when a secret does not have exactly
// SecretSize bytes.
var ErrInvalidSecretLength = fmt.Errorf("secret must be exactly %d bytes", SecretSize)

// ErrMissingField is returned when a record lacks a field its kind requires.
var ErrMissingField = errors.New("missing required field")

// CredentialID identifies a credential. IDs are assigned by the controller and
// stay stable across renames and reorders.
type CredentialID int16

// Credential is one 2FA entry held by the device. Secret is immutable after
// creation; Code is the cached display code and is never persisted.
type Credential struct {
	ID     CredentialID
	Name   string
	Secret [SecretSize]byte
	Code   string
}

// PublicCredential is the projection of a Credential that may leave the
// device. It never carries the secret.
type PublicCredential struct {
	ID   CredentialID
	Name string
}

// NewCredential validates the secret length and normalizes the name.
func NewCredential(id CredentialID, name string, secret []byte) (Credential, error) {
	if len(secret) != SecretSize {
		return Credential{}, fmt.Errorf("credential %d: %w (got %d)", id, ErrInvalidSecretLength, len(secret))
	}

	c := Credential{ID: id, Name: TruncateName(name)}
	copy(c.Secret[:], secret)
	return c, nil
}

// Public returns the credential's public projection.
func (c Credential) Public() PublicCredential {
	return PublicCredential{ID: c.ID, Name: c.Name}
}

// TruncateName cuts name at the first NUL and limits it to MaxNameLength
// bytes without splitting a UTF-8 sequence.
func TruncateName(name string) string {
	if i := strings.IndexByte(name, 0); i >= 0 {
		name = name[:i]
	}
	if len(name) <= MaxNameLength {
		return name
	}

	cut := MaxNameLength
	for cut > 0 && !utf8.RuneStart(name[cut]) {
		cut--
	}
	return name[:cut]
}
