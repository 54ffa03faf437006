// Package auth issues and verifies the HS256 bearer tokens that identify callers.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/example/sport-scheduler/internal/application"
)

// DefaultTokenTTL is used when no TTL is configured.
const DefaultTokenTTL = 7 * 24 * time.Hour

var (
	// ErrInvalidToken is returned for malformed, expired or wrongly signed tokens.
	ErrInvalidToken = errors.New("auth: invalid token")
	// ErrMissingToken is returned when the request carries no bearer token.
	ErrMissingToken = errors.New("auth: missing bearer token")
)

// Claims are the registered JWT claims plus the admin flag.
type Claims struct {
	Admin bool `json:"adm,omitempty"`
	jwt.RegisteredClaims
}

// Tokens signs and verifies tokens with a shared secret.
type Tokens struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokens returns a Tokens using secret. Zero ttl selects DefaultTokenTTL.
func NewTokens(secret string, ttl time.Duration, now func() time.Time) (*Tokens, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("auth: secret is required")
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	if now == nil {
		now = time.Now
	}
	return &Tokens{secret: []byte(secret), ttl: ttl, now: now}, nil
}

// Issue signs a token for principal.
func (t *Tokens) Issue(principal application.Principal) (string, error) {
	if principal.UserID == "" {
		return "", errors.New("auth: user id is required")
	}
	issuedAt := t.now()
	claims := Claims{
		Admin: principal.IsAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   principal.UserID,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(issuedAt.Add(t.ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("auth: sign token: %w", err)
	}
	return signed, nil
}

// Verify parses token and returns the principal it identifies.
func (t *Tokens) Verify(token string) (application.Principal, error) {
	if strings.TrimSpace(token) == "" {
		return application.Principal{}, ErrMissingToken
	}

	var claims Claims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return t.secret, nil
	},
		jwt.WithTimeFunc(t.now),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return application.Principal{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !parsed.Valid || claims.Subject == "" {
		return application.Principal{}, ErrInvalidToken
	}
	return application.Principal{UserID: claims.Subject, IsAdmin: claims.Admin}, nil
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
