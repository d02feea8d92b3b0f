package web

import (
	"context"
	"net"
	"net/http"
	"strings"

	"github.com/JonMunkholm/markrecon/internal/core"
)

// actorHeader lets a fronting application name the operator for requests
// whose body carries no uploaded_by / corrected_by field.
const actorHeader = "X-Actor"

// WithRequestMetadata adds IP, User-Agent and actor to context for audit logging.
func WithRequestMetadata(ctx context.Context, r *http.Request) context.Context {
	ctx = core.ContextWithIPAddress(ctx, clientIP(r))
	ctx = core.ContextWithUserAgent(ctx, r.UserAgent())
	if actor := strings.TrimSpace(r.Header.Get(actorHeader)); actor != "" {
		ctx = core.ContextWithActor(ctx, actor)
	}
	return ctx
}

// clientIP returns RemoteAddr without its port. TrustedRealIP has already
// replaced it with the forwarded address for trusted proxies.
func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
