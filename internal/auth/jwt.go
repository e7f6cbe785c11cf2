// Package auth protects the ingest endpoint with HS256 bearer tokens.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	issuer = "platewatch"

	// SubjectKey is the gin context key holding the authenticated subject.
	SubjectKey = "auth_subject"
)

var ErrUnauthorized = errors.New("unauthorized")

// IssueToken signs a token for subject that expires after ttl. A zero ttl
// yields a token without expiry.
func IssueToken(secret, subject string, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", fmt.Errorf("%w: no signing secret configured", ErrUnauthorized)
	}
	now := time.Now()
	claims := jwt.RegisteredClaims{
		ID:       uuid.NewString(),
		Issuer:   issuer,
		Subject:  subject,
		IssuedAt: jwt.NewNumericDate(now),
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// ParseToken validates raw and returns its subject.
func ParseToken(secret, raw string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}
	return claims.Subject, nil
}

// Middleware rejects requests without a valid bearer token. With an empty
// secret authentication is disabled and every request passes.
func Middleware(secret string, log zerolog.Logger) gin.HandlerFunc {
	if secret == "" {
		log.Warn().Msg("auth.jwt_secret is empty, ingest endpoint is unauthenticated")
		return func(c *gin.Context) { c.Next() }
	}

	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(raw) == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}

		subject, err := ParseToken(secret, strings.TrimSpace(raw))
		if err != nil {
			log.Debug().Err(err).Str("path", c.FullPath()).Msg("rejected token")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		c.Set(SubjectKey, subject)
		c.Next()
	}
}
