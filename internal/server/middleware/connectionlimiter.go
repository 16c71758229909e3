package middleware

import (
	"log/slog"
	"net/http"

	"github.com/abusaleh34/care-booking-windsurf-sub001/pkg/config"
)

type AddrConnectionCounter func(addr string) int
type AddrConnectionCycler func(addr string)

// NewConnectionLimiter bounds concurrent websocket connections per remote
// address. Identity is not known yet at upgrade time, so the address is the
// only usable key here.
func NewConnectionLimiter(
	logger *slog.Logger,
	counter AddrConnectionCounter,
	cycler AddrConnectionCycler,
	cfg config.ConnectionLimitConfig,
) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if cfg.MaxPerIP <= 0 {
				next.ServeHTTP(w, r)
				return
			}

			reqMeta, ok := ReqMetadataFrom(r.Context())
			if !ok {
				logger.Error("connection limiter could not find request metadata in context. Check middleware order.")
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				return
			}

			count := counter(reqMeta.IP)
			if count < cfg.MaxPerIP {
				next.ServeHTTP(w, r)
				return
			}

			logger.Warn("connection limit reached", slog.String("ip", reqMeta.IP), slog.Int("count", count))
			switch cfg.Mode {
			case "cycle":
				cycler(reqMeta.IP)
				next.ServeHTTP(w, r)
			case "reject":
				http.Error(w, "Too Many Active Connections", http.StatusTooManyRequests)
			default:
				logger.Error("invalid connection limit mode configured", slog.String("mode", cfg.Mode))
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			}
		})
	}
}
