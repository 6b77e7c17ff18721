package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/inspectsync/inspectsync-go/internal/crypto"
	"github.com/inspectsync/inspectsync-go/internal/model"
)

type contextKey string

const (
	identityKey  contextKey = "identity"
	requestIDKey contextKey = "requestID"
)

// JWTAuth returns middleware that validates a Bearer token from the Authorization header.
// Requests without a valid token are rejected before reaching any handler.
func JWTAuth(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeJSONError(w, http.StatusUnauthorized, "Missing access token")
				return
			}

			token, found := strings.CutPrefix(authHeader, "Bearer ")
			token = strings.TrimSpace(token)
			if !found || token == "" {
				writeJSONError(w, http.StatusUnauthorized, "Missing access token")
				return
			}

			claims, err := crypto.ValidateToken(token, secret)
			if err != nil {
				writeJSONError(w, http.StatusUnauthorized, "Invalid access token")
				return
			}

			ctx := WithIdentity(r.Context(), model.Identity{UserID: claims.UserID, Email: claims.Email})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// WithIdentity stores the authenticated identity in ctx.
func WithIdentity(ctx context.Context, id model.Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// IdentityFromContext extracts the authenticated identity from the request context.
func IdentityFromContext(ctx context.Context) (model.Identity, bool) {
	id, ok := ctx.Value(identityKey).(model.Identity)
	return id, ok && id.UserID != ""
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(model.ErrorBody{Error: model.ErrorDetail{Message: msg}})
}
