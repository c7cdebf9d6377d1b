package gateway

import (
	"math"
	"net"
	"net/http"
	"strconv"

	"github.com/flemzord/hafiza/internal/security"
)

// rateLimit rejects requests of kind once the client spent its budget.
// Clients are keyed by remote host.
func (g *Gateway) rateLimit(kind security.Kind) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			client := clientKey(r)
			retry, err := g.limiter.Allow(kind, client)
			if err != nil {
				g.logger.Warn("gateway: rate limited",
					"kind", string(kind),
					"client", client,
					"request_id", RequestID(r.Context()),
				)
				w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(retry.Seconds()))))
				writeError(w, http.StatusTooManyRequests, err.Error())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
