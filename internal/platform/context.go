package platform

import "context"

type contextKey string

const requestMetaKey contextKey = "request_meta"

type requestMeta struct {
	ip string
	ua string
}

// WithRequestMeta attaches the client IP and user agent of the current
// request so audit entries can carry them. Set by the HTTP middleware.
func WithRequestMeta(ctx context.Context, ip, userAgent string) context.Context {
	return context.WithValue(ctx, requestMetaKey, requestMeta{ip: ip, ua: userAgent})
}

// RequestMeta returns the client IP and user agent, or empty strings.
func RequestMeta(ctx context.Context) (ip, userAgent string) {
	m, _ := ctx.Value(requestMetaKey).(requestMeta)
	return m.ip, m.ua
}
