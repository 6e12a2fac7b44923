package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/steward-ai/steward/pkg/config"
)

// defaultAuthSecretEnv is used when the server config names no variable.
const defaultAuthSecretEnv = "STEWARD_AUTH_SECRET"

// authValidator checks HS256 bearer tokens for privileged endpoints.
type authValidator struct {
	secret []byte
}

func newAuthValidator(cfg *config.ServerConfig) *authValidator {
	envName := cfg.AuthSecretEnv
	if envName == "" {
		envName = defaultAuthSecretEnv
	}
	secret := os.Getenv(envName)
	if secret == "" {
		slog.Warn("Auth secret not set; privileged endpoints will reject all requests", "env", envName)
		return &authValidator{}
	}
	return &authValidator{secret: []byte(secret)}
}

// validate parses and verifies a bearer token. Signing method is pinned
// to HMAC; anything else is rejected.
func (v *authValidator) validate(header string) (*jwt.RegisteredClaims, error) {
	if len(v.secret) == 0 {
		return nil, fmt.Errorf("auth is not configured")
	}
	tokenString := strings.TrimPrefix(header, "Bearer ")
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	return claims, nil
}

// requireAuth guards privileged endpoints with a bearer JWT.
func (s *Server) requireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": gin.H{"kind": "authentication", "message": "authorization header required"},
			})
			return
		}
		claims, err := s.auth.validate(header)
		if err != nil {
			slog.Warn("Token validation failed", "error", err)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": gin.H{"kind": "authentication", "message": "invalid or expired token"},
			})
			return
		}
		c.Set("subject", claims.Subject)
		c.Next()
	}
}
