// Package session persists session records in Redis for the session
// authority. A record carries the security stamp it was issued under
// and the digest of its handle secret; validity against the account's
// live stamp is decided by the caller.
package session

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
)

const recordVersionV1 = 1

// Session is one issued session record.
type Session struct {
	AccountID string
	// IssuedStamp is the account's security stamp at issuance. The
	// session turns stale the moment the account's stamp rotates away
	// from it.
	IssuedStamp string
	// SecretHash is the SHA-256 of the handle secret. The raw secret
	// exists only inside the handle returned to the caller.
	SecretHash [32]byte
	CreatedAt  int64
	// ExpiresAt tracks the sliding deadline; it moves forward on every
	// successful validation.
	ExpiresAt int64
}

func encodeSession(s *Session) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte(recordVersionV1)

	if len(s.AccountID) > 255 || len(s.IssuedStamp) > 255 {
		return nil, errors.New("session field too long")
	}
	buf.WriteByte(byte(len(s.AccountID)))
	buf.WriteString(s.AccountID)
	buf.WriteByte(byte(len(s.IssuedStamp)))
	buf.WriteString(s.IssuedStamp)
	buf.Write(s.SecretHash[:])

	if err := binary.Write(&buf, binary.BigEndian, s.CreatedAt); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, s.ExpiresAt); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

func decodeSession(data []byte) (*Session, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != recordVersionV1 {
		return nil, errors.New("invalid session record version")
	}

	s := &Session{}
	if s.AccountID, err = readString(reader); err != nil {
		return nil, err
	}
	if s.IssuedStamp, err = readString(reader); err != nil {
		return nil, err
	}
	if _, err := io.ReadFull(reader, s.SecretHash[:]); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &s.CreatedAt); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &s.ExpiresAt); err != nil {
		return nil, err
	}

	return s, nil
}

func readString(reader *bytes.Reader) (string, error) {
	n, err := reader.ReadByte()
	if err != nil {
		return "", err
	}
	raw := make([]byte, n)
	if _, err := io.ReadFull(reader, raw); err != nil {
		return "", err
	}
	return string(raw), nil
}
