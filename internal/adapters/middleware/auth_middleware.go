// Package middleware carries the HTTP cross-cutting concerns of the
// producer API: JWT role enforcement, CORS, and request metrics.
package middleware

import (
	"context"
	"crypto/rsa"
	"log"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"

	"github.com/relaykit/eventrelay/internal/config"
)

// AuthMiddleware validates bearer tokens against the service's public
// key and the Redis revocation blacklist. The blacklist check fails
// closed: if Redis is unreachable, requests are rejected rather than
// let a revoked token through.
type AuthMiddleware struct {
	publicKey   *rsa.PublicKey
	redisClient *redis.Client
	redisCB     *gobreaker.CircuitBreaker
}

func NewAuthMiddleware(publicKey *rsa.PublicKey, redisClient *redis.Client) *AuthMiddleware {
	return &AuthMiddleware{
		publicKey:   publicKey,
		redisClient: redisClient,
		redisCB:     config.NewCircuitBreaker("Redis-Auth"),
	}
}

type ContextKey string

const (
	UserIDKey ContextKey = "userID"
	RoleKey   ContextKey = "role"
	TokenKey  ContextKey = "token"
)

// RequireRole rejects requests whose token is missing, invalid,
// revoked, or carries none of the given roles.
func (m *AuthMiddleware) RequireRole(roles []string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			http.Error(w, "missing authorization header", http.StatusUnauthorized)
			return
		}

		tokenString := strings.TrimPrefix(authHeader, "Bearer ")

		token, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
				return nil, jwt.ErrSignatureInvalid
			}
			return m.publicKey, nil
		})

		if err != nil || !token.Valid {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}

		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			http.Error(w, "invalid token claims", http.StatusUnauthorized)
			return
		}

		revoked, err := m.isBlacklisted(r.Context(), claims)
		if err != nil {
			log.Printf("[CRITICAL] auth: blacklist check unavailable: %v", err)
			http.Error(w, "authentication service unavailable", http.StatusServiceUnavailable)
			return
		}
		if revoked {
			http.Error(w, "token revoked", http.StatusUnauthorized)
			return
		}

		userID, _ := claims["sub"].(string)
		userRole, _ := claims["role"].(string)

		allowed := false
		for _, role := range roles {
			if userRole == role {
				allowed = true
				break
			}
		}
		if !allowed {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}

		ctx := context.WithValue(r.Context(), UserIDKey, userID)
		ctx = context.WithValue(ctx, RoleKey, userRole)
		ctx = context.WithValue(ctx, TokenKey, tokenString)

		next(w, r.WithContext(ctx))
	}
}

func (m *AuthMiddleware) isBlacklisted(ctx context.Context, claims jwt.MapClaims) (bool, error) {
	jti, _ := claims["jti"].(string)

	result, err := m.redisCB.Execute(func() (interface{}, error) {
		return m.redisClient.Exists(ctx, "blacklist:"+jti).Result()
	})
	if err != nil {
		return false, err
	}

	isRevoked, ok := result.(int64)
	return ok && isRevoked > 0, nil
}
