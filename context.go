package authcore

import "context"

type contextKey int

const (
	clientIPKey contextKey = iota
	identityKey
)

// WithClientIP attaches the caller's IP to the context. The engine uses it
// for audit events and rate limiter keys; missing IPs degrade to empty
// strings, never to errors.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPKey, ip)
}

// ClientIP returns the IP attached by WithClientIP, or "".
func ClientIP(ctx context.Context) string {
	ip, _ := ctx.Value(clientIPKey).(string)
	return ip
}

// WithIdentity attaches a verified access identity to the context. Used by
// the HTTP middleware after ValidateAccess.
func WithIdentity(ctx context.Context, id *AccessIdentity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// IdentityFrom returns the identity attached by WithIdentity, or nil.
func IdentityFrom(ctx context.Context) *AccessIdentity {
	id, _ := ctx.Value(identityKey).(*AccessIdentity)
	return id
}
