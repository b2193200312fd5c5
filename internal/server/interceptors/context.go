package interceptors

import (
	"context"

	identityservice "sessionguard/backend/internal/identity/service"
)

type contextKey struct{ name string }

var (
	identityKey = contextKey{"identity"}
	clientIPKey = contextKey{"client_ip"}
)

// WithIdentity returns a context carrying the authenticated caller.
// Handlers read it via IdentityFrom, GetUserID, and GetDeviceID.
func WithIdentity(ctx context.Context, id *identityservice.Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// IdentityFrom returns the authenticated caller, or nil if the request was not authenticated.
func IdentityFrom(ctx context.Context) *identityservice.Identity {
	id, _ := ctx.Value(identityKey).(*identityservice.Identity)
	return id
}

// GetUserID returns the user_id from context and true if set; otherwise "", false.
func GetUserID(ctx context.Context) (string, bool) {
	if id := IdentityFrom(ctx); id != nil {
		return id.UserID, true
	}
	return "", false
}

// GetDeviceID returns the device_id from context and true if set; otherwise "", false.
func GetDeviceID(ctx context.Context) (string, bool) {
	if id := IdentityFrom(ctx); id != nil {
		return id.DeviceID, true
	}
	return "", false
}

// WithClientIP returns a context carrying the client IP.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPKey, ip)
}

// ClientIP returns the client IP stored by the ClientIP middleware, or "unknown".
func ClientIP(ctx context.Context) string {
	if v, ok := ctx.Value(clientIPKey).(string); ok && v != "" {
		return v
	}
	return "unknown"
}
