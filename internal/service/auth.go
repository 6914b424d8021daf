package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Lilbuff3/eBay-Draft-Commander-sub000/internal/domain"
)

// APIAuth issues and validates bearer tokens for the control API.
type APIAuth struct {
	secret []byte
	now    func() time.Time
}

// NewAPIAuth creates an APIAuth. An empty secret disables authentication.
func NewAPIAuth(secret string) *APIAuth {
	return &APIAuth{secret: []byte(secret), now: time.Now}
}

// Enabled reports whether a signing secret is configured.
func (a *APIAuth) Enabled() bool {
	return len(a.secret) > 0
}

// IssueToken signs an access token for subject valid for ttl.
func (a *APIAuth) IssueToken(subject string, ttl time.Duration) (string, error) {
	if !a.Enabled() {
		return "", fmt.Errorf("issue token: %w: no signing secret configured", domain.ErrInvalidInput)
	}
	if subject == "" {
		return "", &domain.ValidationError{Field: "subject", Message: "is required"}
	}

	now := a.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  subject,
		"type": "access",
		"iat":  now.Unix(),
		"exp":  now.Add(ttl).Unix(),
	})
	signed, err := token.SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("sign access token: %w", err)
	}
	return signed, nil
}

// ValidateToken checks signature, expiry and type, and returns the subject.
func (a *APIAuth) ValidateToken(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return a.secret, nil
	}, jwt.WithTimeFunc(a.now), jwt.WithExpirationRequired())
	if err != nil {
		return "", errors.Join(domain.ErrUnauthorized, fmt.Errorf("parse token: %w", err))
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return "", domain.ErrUnauthorized
	}

	tokenType, _ := claims["type"].(string)
	if tokenType != "access" {
		return "", domain.ErrUnauthorized
	}

	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return "", domain.ErrUnauthorized
	}
	return sub, nil
}
