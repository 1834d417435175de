package controller

import (
	"encoding/base32"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/goccy/go-yaml"

	"github.com/ericfisherdev/mytotp/internal/domain/model"
)

// Manifest errors.
var (
	// ErrInvalidSecret is returned when a secret is not decodable base32.
	ErrInvalidSecret = errors.New("invalid secret")

	// ErrSecretTooLong is returned when a decoded secret exceeds
	// model.SecretSize bytes.
	ErrSecretTooLong = fmt.Errorf("secret longer than %d bytes", model.SecretSize)

	// ErrInvalidManifest is returned for structural manifest problems such as
	// duplicate or out-of-range ids and missing names.
	ErrInvalidManifest = errors.New("invalid manifest")
)

// Manifest is the YAML document describing the credentials a device should
// hold, in display order.
type Manifest struct {
	Credentials []ManifestEntry `yaml:"credentials"`
}

// ManifestEntry is one credential in a manifest. ID is optional; entries
// without one get the lowest free id. Secret is base32.
type ManifestEntry struct {
	ID     *int   `yaml:"id,omitempty"`
	Name   string `yaml:"name"`
	Secret string `yaml:"secret"`
}

// ReadManifest parses a YAML manifest from r and resolves it into entries.
func ReadManifest(r io.Reader) ([]Entry, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidManifest, err)
	}
	return m.Entries()
}

// Entries validates the manifest and returns its entries in order, with ids
// assigned and secrets decoded.
func (m Manifest) Entries() ([]Entry, error) {
	used := make([]model.CredentialID, 0, len(m.Credentials))
	seen := make(map[model.CredentialID]struct{}, len(m.Credentials))
	for i, c := range m.Credentials {
		if c.ID == nil {
			continue
		}
		if *c.ID < 0 || *c.ID >= MaxID {
			return nil, fmt.Errorf("%w: credential %d: id %d outside [0,%d)", ErrInvalidManifest, i, *c.ID, MaxID)
		}
		id := model.CredentialID(*c.ID)
		if _, dup := seen[id]; dup {
			return nil, fmt.Errorf("%w: credential %d: duplicate id %d", ErrInvalidManifest, i, id)
		}
		seen[id] = struct{}{}
		used = append(used, id)
	}

	entries := make([]Entry, 0, len(m.Credentials))
	for i, c := range m.Credentials {
		if strings.TrimSpace(c.Name) == "" {
			return nil, fmt.Errorf("%w: credential %d: name is required", ErrInvalidManifest, i)
		}

		secret, err := DecodeSecret(c.Secret)
		if err != nil {
			return nil, fmt.Errorf("credential %d (%s): %w", i, c.Name, err)
		}

		var id model.CredentialID
		if c.ID != nil {
			id = model.CredentialID(*c.ID)
		} else {
			id, err = NextID(used)
			if err != nil {
				return nil, fmt.Errorf("credential %d (%s): %w", i, c.Name, err)
			}
			used = append(used, id)
		}

		entries = append(entries, Entry{ID: id, Name: c.Name, Secret: secret})
	}
	return entries, nil
}

var secretEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// secretReplacer drops separators and padding and maps the digits commonly
// mistyped for base32 letters.
var secretReplacer = strings.NewReplacer(
	" ", "", "\t", "", "-", "", "=", "",
	"0", "O", "1", "L", "8", "B",
)

// DecodeSecret turns a user-supplied secret into the fixed-size key the
// device stores. It accepts base32 in any case, with or without spaces,
// dashes and padding. Secrets shorter than model.SecretSize are zero-padded, which leaves the
// HMAC key unchanged.
func DecodeSecret(s string) ([]byte, error) {
	normalized := secretReplacer.Replace(strings.ToUpper(strings.TrimSpace(s)))
	if normalized == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidSecret)
	}

	raw, err := secretEncoding.DecodeString(normalized)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSecret, err)
	}
	if len(raw) > model.SecretSize {
		return nil, fmt.Errorf("%w (got %d)", ErrSecretTooLong, len(raw))
	}

	secret := make([]byte, model.SecretSize)
	copy(secret, raw)
	return secret, nil
}
