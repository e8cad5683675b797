package credential

import "context"

// ClientInfo identifies who triggered a credential issue. It is stored on
// the session record for audit.
type ClientInfo struct {
	IP        string
	UserAgent string
}

type clientKey struct{}

// WithClient attaches client info to ctx.
func WithClient(ctx context.Context, ip, userAgent string) context.Context {
	return context.WithValue(ctx, clientKey{}, ClientInfo{IP: ip, UserAgent: userAgent})
}

func clientFrom(ctx context.Context) ClientInfo {
	if v, ok := ctx.Value(clientKey{}).(ClientInfo); ok {
		return v
	}
	return ClientInfo{}
}
