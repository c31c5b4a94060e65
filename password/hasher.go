// Package password provides argon2id hashing with PHC-formatted
// digests. Verification re-derives the key from the parameters embedded
// in the stored digest, so cost changes never invalidate old hashes.
package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/argon2"
)

const algorithmID = "argon2id"

// Config holds the argon2id cost parameters.
type Config struct {
	Memory      uint32 // in KB
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// Hasher derives and verifies password digests for one configuration.
type Hasher struct {
	cfg Config
}

// NewHasher validates the cost parameters and returns a hasher.
func NewHasher(cfg Config) (*Hasher, error) {
	if cfg.Memory < 8*1024 {
		return nil, errors.New("password: memory must be >= 8192 KB")
	}
	if cfg.Time < 1 {
		return nil, errors.New("password: time must be >= 1")
	}
	if cfg.Parallelism < 1 {
		return nil, errors.New("password: parallelism must be >= 1")
	}
	if cfg.SaltLength < 16 {
		return nil, errors.New("password: salt length must be >= 16")
	}
	if cfg.KeyLength < 16 {
		return nil, errors.New("password: key length must be >= 16")
	}
	return &Hasher{cfg: cfg}, nil
}

// Hash derives a PHC-formatted digest from the password. Bytes are used
// exactly as provided; no Unicode normalization.
func (h *Hasher) Hash(password string) (string, error) {
	salt := make([]byte, h.cfg.SaltLength)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", err
	}

	key := argon2.IDKey([]byte(password), salt, h.cfg.Time, h.cfg.Memory, h.cfg.Parallelism, h.cfg.KeyLength)

	return fmt.Sprintf("$%s$v=%d$m=%d,t=%d,p=%d$%s$%s",
		algorithmID,
		argon2.Version,
		h.cfg.Memory,
		h.cfg.Time,
		h.cfg.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// Verify reports whether the password matches the encoded digest.
// Comparison is constant-time.
func (h *Hasher) Verify(password, encoded string) (bool, error) {
	params, salt, key, err := parsePHC(encoded)
	if err != nil {
		return false, err
	}

	computed := argon2.IDKey([]byte(password), salt, params.time, params.memory, params.parallelism, uint32(len(key)))
	return subtle.ConstantTimeCompare(computed, key) == 1, nil
}

type phcParams struct {
	memory      uint32
	time        uint32
	parallelism uint8
}

func parsePHC(encoded string) (phcParams, []byte, []byte, error) {
	var params phcParams

	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" {
		return params, nil, nil, errors.New("password: invalid PHC format")
	}
	if parts[1] != algorithmID {
		return params, nil, nil, errors.New("password: unsupported algorithm")
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return params, nil, nil, errors.New("password: invalid argon2 version")
	}
	if version != argon2.Version {
		return params, nil, nil, errors.New("password: unsupported argon2 version")
	}

	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &params.memory, &params.time, &params.parallelism); err != nil {
		return params, nil, nil, errors.New("password: invalid parameters")
	}
	if params.memory == 0 || params.time == 0 || params.parallelism == 0 {
		return params, nil, nil, errors.New("password: invalid parameters")
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil || len(salt) < 16 {
		return params, nil, nil, errors.New("password: invalid salt")
	}
	key, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(key) == 0 {
		return params, nil, nil, errors.New("password: invalid key")
	}

	return params, salt, key, nil
}
