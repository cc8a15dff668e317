package imagecache

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	digest "github.com/opencontainers/go-digest"
)

// keyJSON is the canonical wire form of a Key. Field order is fixed so the
// serialised bytes are stable.
type keyJSON struct {
	Source string  `json:"src"`
	Resize *Resize `json:"resize,omitempty"`
	Blur   *Blur   `json:"blur,omitempty"`
}

// MarshalJSON encodes the key in its canonical form
func (k Key) MarshalJSON() ([]byte, error) {
	aux := keyJSON{Source: k.Source}
	switch s := k.Spec.(type) {
	case Resize:
		aux.Resize = &s
	case Blur:
		aux.Blur = &s
	case nil:
		return nil, fmt.Errorf("%w: key for %q has no transform", ErrValidation, k.Source)
	default:
		return nil, fmt.Errorf("%w: unsupported transform %T", ErrValidation, s)
	}
	return json.Marshal(aux)
}

// UnmarshalJSON decodes a canonical key. Exactly one transform must be present.
func (k *Key) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var aux keyJSON
	if err := dec.Decode(&aux); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedKey, err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return fmt.Errorf("%w: trailing data after key", ErrMalformedKey)
	}

	switch {
	case aux.Resize != nil && aux.Blur != nil:
		return fmt.Errorf("%w: both resize and blur present", ErrMalformedKey)
	case aux.Resize != nil:
		*k = Key{Source: aux.Source, Spec: *aux.Resize}
	case aux.Blur != nil:
		*k = Key{Source: aux.Source, Spec: *aux.Blur}
	default:
		return fmt.Errorf("%w: no transform present", ErrMalformedKey)
	}
	return nil
}

// Canonical returns the deterministic serialisation used for hashing
func (k Key) Canonical() ([]byte, error) {
	return k.MarshalJSON()
}

// Digest returns the sha256 digest of the canonical form
func (k Key) Digest() (digest.Digest, error) {
	b, err := k.Canonical()
	if err != nil {
		return "", err
	}
	return digest.FromBytes(b), nil
}

// Encode returns the URL-safe encoding of the key
func (k Key) Encode() (string, error) {
	b, err := k.Canonical()
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// URL returns the artifact URL for the key under handlerPath
func (k Key) URL(handlerPath string) (string, error) {
	enc, err := k.Encode()
	if err != nil {
		return "", err
	}
	return strings.TrimRight(handlerPath, "/") + "/" + enc, nil
}

// DecodeKey parses a key produced by Key.Encode
func DecodeKey(encoded string) (Key, error) {
	if encoded == "" {
		return Key{}, fmt.Errorf("%w: empty", ErrMalformedKey)
	}
	b, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return Key{}, fmt.Errorf("%w: %v", ErrMalformedKey, err)
	}
	var k Key
	if err := k.UnmarshalJSON(b); err != nil {
		return Key{}, err
	}
	return k, nil
}
