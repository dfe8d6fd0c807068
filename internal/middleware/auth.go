package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"mira-api/internal/models"

	"github.com/golang-jwt/jwt/v5"
)

// ActorClaims are the bearer token claims identifying the operator.
type ActorClaims struct {
	Name string      `json:"name"`
	Role models.Role `json:"role"`
	jwt.RegisteredClaims
}

// JWTAuth creates middleware that validates an HS256 bearer token and stores
// the actor it names in the request context.
// Requests to /health and /metrics are exempted from authentication.
func JWTAuth(secret []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/health" || r.URL.Path == "/metrics" {
				next.ServeHTTP(w, r)
				return
			}

			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				http.Error(w, "Unauthorized: missing Authorization header", http.StatusUnauthorized)
				return
			}

			tokenStr, ok := strings.CutPrefix(authHeader, "Bearer ")
			if !ok {
				http.Error(w, "Unauthorized: invalid Authorization header", http.StatusUnauthorized)
				return
			}

			actor, err := ParseActor(tokenStr, secret)
			if err != nil {
				http.Error(w, "Unauthorized: invalid or expired token", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), actor)))
		})
	}
}

// ParseActor validates tokenStr and returns the actor it identifies.
func ParseActor(tokenStr string, secret []byte) (models.Actor, error) {
	var claims ActorClaims
	token, err := jwt.ParseWithClaims(tokenStr, &claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return secret, nil
	}, jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}))
	if err != nil {
		return models.Actor{}, fmt.Errorf("parse token: %w", err)
	}
	if !token.Valid {
		return models.Actor{}, errors.New("token is not valid")
	}

	if claims.Subject == "" {
		return models.Actor{}, errors.New("token has no subject")
	}

	role := claims.Role
	if role != models.RoleAdmin {
		role = models.RoleOperator
	}

	return models.Actor{
		Id:   claims.Subject,
		Name: claims.Name,
		Role: role,
	}, nil
}

// SignActor issues a token for actor. Used by tooling and tests.
func SignActor(actor models.Actor, secret []byte, claims jwt.RegisteredClaims) (string, error) {
	claims.Subject = actor.Id
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, ActorClaims{
		Name:             actor.Name,
		Role:             actor.Role,
		RegisteredClaims: claims,
	})
	return token.SignedString(secret)
}
