package membrane

import "context"

type contextKey int

const (
	sourceAddressKey contextKey = iota
	actorEmailKey
)

// WithSourceAddress annotates a context with the caller's network
// address for audit records.
func WithSourceAddress(ctx context.Context, addr string) context.Context {
	return context.WithValue(ctx, sourceAddressKey, addr)
}

func sourceAddressFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(sourceAddressKey).(string); ok {
		return v
	}
	return ""
}

// WithActorEmail annotates a context with the acting user's email for
// audit records on operations keyed by account ID rather than email.
func WithActorEmail(ctx context.Context, email string) context.Context {
	return context.WithValue(ctx, actorEmailKey, email)
}

func actorEmailFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(actorEmailKey).(string); ok {
		return v
	}
	return ""
}
