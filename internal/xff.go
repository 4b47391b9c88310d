package internal

import (
	"log/slog"
	"net"
	"net/http"

	"github.com/sebest/xff"
)

// XForwardedForUpdate rewrites r.RemoteAddr from the X-Forwarded-For chain so
// the admission controller keys on the real client rather than the fronting
// proxy. When useRemoteAddress is set the header is ignored, which is the
// right call on bare metal where clients connect directly.
func XForwardedForUpdate(useRemoteAddress bool, next http.Handler) http.Handler {
	if useRemoteAddress {
		return next
	}

	xffmw, err := xff.Default()
	if err != nil {
		slog.Error("can't set up X-Forwarded-For handling, using socket addresses", "err", err)
		return next
	}

	return xffmw.Handler(next)
}

// ClientIdentity extracts the client address from a request, without the
// port. This is the identity the admission controller keys on.
func ClientIdentity(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
