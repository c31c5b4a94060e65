package membrane

import (
	"context"

	"github.com/membrane-auth/membrane/internal/stores"
	"github.com/membrane-auth/membrane/logging"
)

// Engine is the orchestrating facade over the security components. One
// public operation per credential presentation; no background
// schedulers. Concurrent calls against the same account are serialized
// by the CredentialStore's per-account update discipline, not by the
// engine.
type Engine struct {
	cfg   Config
	creds CredentialStore
	clock Clock
	log   logging.Logger

	lockout    *LockoutController
	policy     *PasswordPolicy
	authority  *SessionAuthority
	twoFactor  *TwoFactorEngine
	resets     *ResetTokenService
	challenges *stores.ChallengeStore

	audit *auditDispatcher
}

// Lockout exposes the lockout controller for administrative callers.
func (e *Engine) Lockout() *LockoutController { return e.lockout }

// Policy exposes the password policy engine.
func (e *Engine) Policy() *PasswordPolicy { return e.policy }

// Sessions exposes the session authority.
func (e *Engine) Sessions() *SessionAuthority { return e.authority }

// TwoFactor exposes the second-factor engine.
func (e *Engine) TwoFactor() *TwoFactorEngine { return e.twoFactor }

// Resets exposes the reset-token service.
func (e *Engine) Resets() *ResetTokenService { return e.resets }

// Close drains and stops the audit dispatcher. Events already queued
// are delivered before Close returns.
func (e *Engine) Close() {
	e.audit.Close()
}

// AuditDropped reports audit events lost to a full buffer since start.
func (e *Engine) AuditDropped() uint64 { return e.audit.Dropped() }

// AuditFailed reports audit events the sink rejected since start.
func (e *Engine) AuditFailed() uint64 { return e.audit.Failed() }

func (e *Engine) emit(ctx context.Context, action AuditAction, accountID, email string, success bool, detail string) {
	if email == "" {
		email = actorEmailFromContext(ctx)
	}
	e.audit.Record(ctx, AuditEvent{
		Timestamp:     e.clock.Now(),
		Action:        action,
		AccountID:     accountID,
		ActorEmail:    email,
		SourceAddress: sourceAddressFromContext(ctx),
		Success:       success,
		Detail:        detail,
	})
}
