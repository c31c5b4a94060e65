package membrane

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"
)

// AuditAction names a security decision in the audit stream.
type AuditAction string

const (
	AuditAccountCreated         AuditAction = "account.created"
	AuditLoginSuccess           AuditAction = "login.success"
	AuditLoginFailure           AuditAction = "login.failure"
	AuditLoginLocked            AuditAction = "login.locked"
	AuditLoginPasswordExpired   AuditAction = "login.password_expired"
	AuditTwoFactorRequired      AuditAction = "login.second_factor_required"
	AuditTwoFactorSuccess       AuditAction = "login.second_factor_success"
	AuditTwoFactorFailure       AuditAction = "login.second_factor_failure"
	AuditLockoutStarted         AuditAction = "lockout.started"
	AuditLockoutCleared         AuditAction = "lockout.cleared"
	AuditPasswordChanged        AuditAction = "password.changed"
	AuditPasswordChangeRejected AuditAction = "password.change_rejected"
	AuditResetRequested         AuditAction = "reset.requested"
	AuditResetRedeemed          AuditAction = "reset.redeemed"
	AuditResetRejected          AuditAction = "reset.rejected"
	AuditStampRotated           AuditAction = "stamp.rotated"
	AuditSessionRevoked         AuditAction = "session.revoked"
	AuditTwoFactorEnrolled      AuditAction = "two_factor.enrolled"
	AuditTwoFactorDisabled      AuditAction = "two_factor.disabled"
)

// AuditEvent is one immutable entry in the append-only audit stream.
// AccountID is empty for pre-authentication failures where no account
// could be resolved. Timestamps are UTC.
type AuditEvent struct {
	Timestamp     time.Time   `json:"timestamp"`
	Action        AuditAction `json:"action"`
	AccountID     string      `json:"account_id,omitempty"`
	ActorEmail    string      `json:"actor_email,omitempty"`
	SourceAddress string      `json:"source_address,omitempty"`
	Success       bool        `json:"success"`
	Detail        string      `json:"detail,omitempty"`
}

// AuditSink receives audit events. Record reports delivery failure so it
// is observable, but the engine never lets a sink error change a
// security outcome — failures are counted and logged, the decision
// stands.
type AuditSink interface {
	Record(ctx context.Context, event AuditEvent) error
}

// NoOpSink discards all events.
type NoOpSink struct{}

func (NoOpSink) Record(context.Context, AuditEvent) error { return nil }

// ChannelSink delivers events into a buffered channel, for callers that
// consume the stream in-process.
type ChannelSink struct {
	events chan AuditEvent
}

// NewChannelSink creates a ChannelSink with the given capacity.
func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = 1
	}
	return &ChannelSink{events: make(chan AuditEvent, buffer)}
}

func (s *ChannelSink) Record(ctx context.Context, event AuditEvent) error {
	select {
	case s.events <- event:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Events exposes the delivered stream.
func (s *ChannelSink) Events() <-chan AuditEvent { return s.events }

// JSONWriterSink appends one JSON object per line to a writer.
type JSONWriterSink struct {
	writer io.Writer
	mu     sync.Mutex
}

// NewJSONWriterSink creates a JSONWriterSink writing to w.
func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return &JSONWriterSink{writer: w}
}

func (s *JSONWriterSink) Record(_ context.Context, event AuditEvent) error {
	if s == nil || s.writer == nil {
		return nil
	}
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.writer.Write(data); err != nil {
		return err
	}
	_, err = s.writer.Write([]byte("\n"))
	return err
}
