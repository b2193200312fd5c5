package interceptors

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"sessionguard/backend/internal/delivery"
	identityservice "sessionguard/backend/internal/identity/service"
)

// Authenticator verifies an access credential and checks it against the revocation ledger.
type Authenticator interface {
	Authenticate(ctx context.Context, accessToken string) (*identityservice.Identity, error)
}

// Auth returns middleware that requires a valid, unrevoked access credential from the
// Authorization header or the access cookie and stores the caller in the request context.
// Every rejection yields the same 401 body; store failures yield 500.
func Auth(authn Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, err := authn.Authenticate(r.Context(), delivery.AccessToken(r))
			if err != nil {
				if errors.Is(err, identityservice.ErrUnauthorized) {
					writeError(w, http.StatusUnauthorized, identityservice.ErrUnauthorized.Error())
					return
				}
				slog.ErrorContext(r.Context(), "access check failed", "error", err)
				writeError(w, http.StatusInternalServerError, "internal error")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
