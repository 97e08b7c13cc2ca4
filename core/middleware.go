package core

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
)

type contextKey int

const identityKey contextKey = iota

// WithIdentity returns a copy of ctx carrying id.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// IdentityFromContext returns the authenticated identity, or nil.
func IdentityFromContext(ctx context.Context) *Identity {
	if id, ok := ctx.Value(identityKey).(*Identity); ok {
		return id
	}
	return nil
}

// resolveRequest resolves the session presented with r.
func (s *Service) resolveRequest(r *http.Request) (*Identity, error) {
	token := s.extractTokenFromRequest(r)
	if token == "" {
		return nil, nil
	}
	return s.authenticator.ResolveSession(r.Context(), token)
}

// AuthMiddleware rejects requests without a valid session with 401 and adds
// the identity to the request context otherwise.
func (s *Service) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, err := s.resolveRequest(r)
		if err != nil {
			slog.Error("Failed to resolve session", "error", err)
			writeMiddlewareError(w, http.StatusInternalServerError, "Internal server error")
			return
		}
		if identity == nil {
			writeMiddlewareError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}
		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
	})
}

// OptionalAuthMiddleware adds the identity to the context when the request
// carries a valid session and continues without one otherwise.
func (s *Service) OptionalAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, err := s.resolveRequest(r)
		if err != nil {
			slog.Error("Failed to resolve session in optional auth", "error", err)
		}
		if identity != nil {
			r = r.WithContext(WithIdentity(r.Context(), identity))
		}
		next.ServeHTTP(w, r)
	})
}

// RequireAdmin answers 401 without an identity and 403 for non-admins.
// It must run after AuthMiddleware or OptionalAuthMiddleware.
func (s *Service) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity := IdentityFromContext(r.Context())
		if identity == nil {
			writeMiddlewareError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}
		if !identity.IsAdmin() {
			slog.Debug("Admin access denied", "user_id", identity.ID)
			writeMiddlewareError(w, http.StatusForbidden, "Forbidden")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeMiddlewareError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
