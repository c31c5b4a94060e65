// Package token generates and encodes the opaque identifiers and
// secrets used across the engine: session handles, reset tokens, and
// security stamps. Raw secrets never reach durable storage — only their
// SHA-256 digests do.
package token

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"

	"github.com/google/uuid"
)

// ID is the random identifier half of a handle.
type ID [16]byte

const (
	secretSize    = 32
	handleRawSize = 16 + secretSize
)

// ErrMalformed is returned for a handle that does not decode to the
// expected shape.
var ErrMalformed = errors.New("malformed token")

// NewID returns a random identifier.
func NewID() (ID, error) {
	var id ID
	_, err := rand.Read(id[:])
	return id, err
}

func (id ID) String() string {
	return base64.RawURLEncoding.EncodeToString(id[:])
}

// ParseID decodes the string form produced by ID.String.
func ParseID(s string) (ID, error) {
	var id ID
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return id, ErrMalformed
	}
	if len(raw) != len(id) {
		return id, ErrMalformed
	}
	copy(id[:], raw)
	return id, nil
}

// NewSecret returns a random 32-byte secret.
func NewSecret() ([secretSize]byte, error) {
	var secret [secretSize]byte
	_, err := rand.Read(secret[:])
	return secret, err
}

// HashSecret digests a secret for storage.
func HashSecret(secret [secretSize]byte) [32]byte {
	return sha256.Sum256(secret[:])
}

// EncodeHandle packs an identifier and its secret into one opaque
// base64url string handed to the caller. The store keeps only the
// identifier and the secret's digest.
func EncodeHandle(id ID, secret [secretSize]byte) string {
	var raw [handleRawSize]byte
	copy(raw[:len(id)], id[:])
	copy(raw[len(id):], secret[:])
	return base64.RawURLEncoding.EncodeToString(raw[:])
}

// DecodeHandle splits a handle back into identifier and secret.
func DecodeHandle(handle string) (ID, [secretSize]byte, error) {
	var id ID
	var secret [secretSize]byte

	raw, err := base64.RawURLEncoding.DecodeString(handle)
	if err != nil {
		return id, secret, ErrMalformed
	}
	if len(raw) != handleRawSize {
		return id, secret, ErrMalformed
	}

	copy(id[:], raw[:len(id)])
	copy(secret[:], raw[len(id):])
	return id, secret, nil
}

// NewStamp returns a fresh opaque security stamp.
func NewStamp() string {
	return uuid.NewString()
}

// NewAccountID returns a fresh opaque account identifier.
func NewAccountID() string {
	return uuid.NewString()
}
