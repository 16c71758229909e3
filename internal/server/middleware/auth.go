package middleware

import (
	"log/slog"
	"net/http"
	"strings"
)

// TokenVerifier turns a bearer credential into a user identity.
type TokenVerifier func(token string) (string, error)

// NewAuthMiddleware guards the HTTP API routes. The websocket upgrade path
// deliberately skips it: socket connections authenticate through the
// authenticate event after the upgrade.
func NewAuthMiddleware(logger *slog.Logger, verify TokenVerifier) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqMeta, ok := ReqMetadataFrom(r.Context())
			if !ok {
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				return
			}

			header := r.Header.Get("Authorization")
			if header == "" || !strings.HasPrefix(header, "Bearer ") {
				logger.Warn("request without bearer token", slog.String("ip", reqMeta.IP))
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			userID, err := verify(strings.TrimPrefix(header, "Bearer "))
			if err != nil {
				logger.Warn("invalid bearer token", slog.String("ip", reqMeta.IP), slog.Any("error", err))
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			reqMeta.UserID = userID
			next.ServeHTTP(w, r)
		})
	}
}
