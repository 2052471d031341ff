package handler

import (
	"net/http"
	"strings"

	"github.com/go-redis/redis/v8"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/ubi-africa/dispatch-core/internal/domain"
)

// Claims mirrors the auth service's token payload. Grounded on the
// monorepo's delivery-service auth middleware: userId/role plus the
// standard registered claims, validated against a Redis blacklist before
// the signature check even matters.
type Claims struct {
	UserID string `json:"userId"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// RequireAuth validates a bearer token and attaches the caller's id to the
// request context. A revoked (blacklisted) token is rejected before the
// JWT signature is even parsed.
func RequireAuth(rdb *redis.Client, jwtSecret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if !strings.HasPrefix(authHeader, "Bearer ") {
				writeError(w, http.StatusUnauthorized, domain.ErrCodeInvalidRequest, "missing bearer token")
				return
			}
			tokenString := strings.TrimPrefix(authHeader, "Bearer ")

			if rdb != nil {
				blacklisted, err := rdb.Exists(r.Context(), "token:blacklist:"+tokenString).Result()
				if err == nil && blacklisted > 0 {
					writeError(w, http.StatusUnauthorized, domain.ErrCodeInvalidRequest, "token has been revoked")
					return
				}
			}

			token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
				return []byte(jwtSecret), nil
			})
			if err != nil || !token.Valid {
				writeError(w, http.StatusUnauthorized, domain.ErrCodeInvalidRequest, "invalid token")
				return
			}

			claims, ok := token.Claims.(*Claims)
			if !ok {
				writeError(w, http.StatusUnauthorized, domain.ErrCodeInvalidRequest, "invalid token claims")
				return
			}
			userID, err := uuid.Parse(claims.UserID)
			if err != nil {
				writeError(w, http.StatusUnauthorized, domain.ErrCodeInvalidRequest, "invalid token subject")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), userID)))
		})
	}
}
