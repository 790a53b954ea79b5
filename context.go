package authcore

import "context"

type contextKey uint8

const (
	ctxKeyClientIP contextKey = iota
	ctxKeyTenantID
	ctxKeyUserAgent
	ctxKeyDeviceName
)

// WithClientIP attaches the caller's IP address. Lockout, IP reputation
// and audit all read it; an empty IP disables the IP-keyed lockout.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, ctxKeyClientIP, ip)
}

// WithTenantID attaches the tenant the request runs under. Operations
// without a tenant fall back to the default tenant "0".
func WithTenantID(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, ctxKeyTenantID, tenantID)
}

// WithUserAgent attaches the client user agent for session records.
func WithUserAgent(ctx context.Context, ua string) context.Context {
	return context.WithValue(ctx, ctxKeyUserAgent, ua)
}

// WithDeviceName attaches a human-readable device label ("work laptop")
// shown in session listings.
func WithDeviceName(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, ctxKeyDeviceName, name)
}

func clientIPFromContext(ctx context.Context) string {
	v, _ := ctx.Value(ctxKeyClientIP).(string)
	return v
}

func tenantIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(ctxKeyTenantID).(string)
	if v == "" {
		return "0"
	}
	return v
}

func userAgentFromContext(ctx context.Context) string {
	v, _ := ctx.Value(ctxKeyUserAgent).(string)
	return v
}

func deviceNameFromContext(ctx context.Context) string {
	v, _ := ctx.Value(ctxKeyDeviceName).(string)
	return v
}
