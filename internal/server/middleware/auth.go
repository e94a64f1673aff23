package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/dugong-app/dugong/internal/model"
	"github.com/dugong-app/dugong/internal/service"
)

type contextKeyAuth string

const (
	// AuthPrincipalKey is the context key for the authenticated principal.
	AuthPrincipalKey contextKeyAuth = "auth_principal"
)

// Principal is the caller identified by a valid bearer token.
type Principal struct {
	Key *model.APIKey
}

// Level returns the principal's permission level, or LevelGuest for a nil
// principal.
func (p *Principal) Level() model.PermissionLevel {
	if p == nil || !p.Key.Active() {
		return model.LevelGuest
	}
	return p.Key.Level
}

// Identify returns an HTTP middleware that resolves the Authorization header
// to a Principal when it carries a valid, non-revoked key. Requests without
// one continue as guests; handlers that need a caller use RequireLevel or
// consult GetPrincipal.
func Identify(authSvc *service.AuthService, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				next.ServeHTTP(w, r)
				return
			}

			key, err := authSvc.Authenticate(r.Context(), header)
			switch {
			case err == nil:
				p := &Principal{Key: key}
				noteIdentity(r.Context(), p)
				r = r.WithContext(WithPrincipal(r.Context(), p))
			case errors.Is(err, service.ErrUnauthenticated):
				// Treated as a guest.
			default:
				logger.Error("identify caller", "error", err, "request_id", GetRequestID(r.Context()))
				writeAuthError(w, http.StatusInternalServerError, "Internal server error")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireLevel returns an HTTP middleware that admits only principals at or
// above level. It must be used after Identify in the middleware chain.
func RequireLevel(level model.PermissionLevel) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal := GetPrincipal(r.Context())
			if principal == nil {
				writeAuthError(w, http.StatusUnauthorized, service.MsgUnauthenticated)
				return
			}
			if err := service.CheckLevel(principal.Key, level); err != nil {
				if errors.Is(err, service.ErrUnauthenticated) {
					writeAuthError(w, http.StatusUnauthorized, service.MsgUnauthenticated)
					return
				}
				writeAuthError(w, http.StatusForbidden, "This operation requires the "+level.String()+" permission level.")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireAdmin is RequireLevel(model.LevelAdmin).
func RequireAdmin() func(http.Handler) http.Handler {
	return RequireLevel(model.LevelAdmin)
}

// GetPrincipal extracts the authenticated principal from the context.
// Returns nil if no principal is present (i.e., unauthenticated request).
func GetPrincipal(ctx context.Context) *Principal {
	if p, ok := ctx.Value(AuthPrincipalKey).(*Principal); ok {
		return p
	}
	return nil
}

// WithPrincipal returns a copy of ctx carrying p.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, AuthPrincipalKey, p)
}

func writeAuthError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(model.ErrorResponse{
		Error: model.ErrorDetail{Code: status, Message: message},
	})
}
