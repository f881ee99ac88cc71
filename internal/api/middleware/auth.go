package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/kiranshivaraju/escrowhub/internal/api/response"
	"github.com/kiranshivaraju/escrowhub/internal/store"
	"golang.org/x/crypto/bcrypt"
)

// KeyPrefixLen is the number of leading characters of a raw API key stored
// in clear for lookup.
const KeyPrefixLen = 8

// Auth resolves the caller's actor identity from either an API key or a
// HS256 JWT issued by the identity service. It authenticates only; what the
// actor may do is decided by the escrow policy.
type Auth struct {
	store     store.Store
	jwtSecret []byte
}

// NewAuth creates a new Auth middleware. An empty jwtSecret disables JWTs.
func NewAuth(s store.Store, jwtSecret string) *Auth {
	a := &Auth{store: s}
	if jwtSecret != "" {
		a.jwtSecret = []byte(jwtSecret)
	}
	return a
}

// Authenticate validates the Bearer token and sets actor, scopes and the
// rate-limit subject in the request context.
func (a *Auth) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := extractBearerToken(r)
		if raw == "" {
			response.Error(w, http.StatusUnauthorized,
				"INVALID_TOKEN", "Missing or invalid Authorization header", nil)
			return
		}

		if a.jwtSecret != nil && strings.Count(raw, ".") == 2 {
			actor, scopes, err := a.parseJWT(raw)
			if err != nil {
				response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Invalid token", nil)
				return
			}
			ctx := SetActor(r.Context(), actor)
			ctx = SetScopes(ctx, scopes)
			ctx = setRateSubject(ctx, "jwt:"+strings.ToLower(actor))
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}

		if len(raw) < KeyPrefixLen {
			response.Error(w, http.StatusUnauthorized,
				"INVALID_TOKEN", "Invalid API key format", nil)
			return
		}

		prefix := raw[:KeyPrefixLen]

		keys, err := a.store.GetAPIKeyByPrefix(r.Context(), prefix)
		if err != nil {
			response.Error(w, http.StatusInternalServerError,
				"INTERNAL_ERROR", "Failed to validate API key", nil)
			return
		}

		// Find matching key by bcrypt comparison
		for _, key := range keys {
			if bcrypt.CompareHashAndPassword([]byte(key.KeyHash), []byte(raw)) != nil {
				continue
			}
			ctx := SetActor(r.Context(), key.Actor)
			ctx = SetScopes(ctx, key.Scopes)
			ctx = setRateSubject(ctx, prefix)

			// Update last_used_at async
			go a.store.UpdateAPIKeyLastUsed(context.Background(), key.ID)

			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}

		response.Error(w, http.StatusUnauthorized,
			"INVALID_TOKEN", "Invalid API key", nil)
	})
}

// RequireScope returns middleware that checks whether the authenticated
// caller has the specified scope.
func (a *Auth) RequireScope(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for _, s := range getScopes(r) {
				if s == scope {
					next.ServeHTTP(w, r)
					return
				}
			}
			response.Error(w, http.StatusForbidden,
				"FORBIDDEN", "Insufficient permissions", nil)
		})
	}
}

func (a *Auth) parseJWT(raw string) (string, []string, error) {
	token, err := jwt.Parse(raw, func(*jwt.Token) (any, error) {
		return a.jwtSecret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return "", nil, err
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", nil, errors.New("unexpected claims type")
	}
	sub, err := claims.GetSubject()
	if err != nil {
		return "", nil, err
	}
	sub = strings.TrimSpace(sub)
	if sub == "" {
		return "", nil, errors.New("token has no subject")
	}

	var scopes []string
	if list, ok := claims["scopes"].([]any); ok {
		for _, s := range list {
			if str, ok := s.(string); ok {
				scopes = append(scopes, str)
			}
		}
	}
	return sub, scopes, nil
}

func extractBearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return ""
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
