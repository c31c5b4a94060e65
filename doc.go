// Package membrane is an embeddable authentication and account-security
// engine for membership services. It owns the credential decision path:
// password verification, failed-attempt tracking and lockout windows,
// password lifecycle policy (strength, reuse history, minimum and maximum
// age), TOTP second factors, single-use password-reset tokens, and
// security-stamp based session invalidation, all recorded to an
// append-only audit stream.
//
// The engine is a library, not a service. Callers construct it through
// [Builder], provide a [CredentialStore] implementation for durable
// account state, a Redis client for session, reset-token, and login
// challenge records, and drive it from their own transport layer.
// Rendering, email delivery, bot challenges, and HTTP routing are
// deliberately outside its surface.
package membrane
