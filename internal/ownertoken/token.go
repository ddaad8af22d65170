// Package ownertoken verifies bearer tokens presented by instructors.
// Tokens are HS256 JWTs whose subject is the instructor (booking owner) id.
package ownertoken

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

const (
	defaultIssuer   = "lessonhub-auth"
	defaultAudience = "lessonhub-api"
	defaultLeeway   = 30 * time.Second
	minSecretLength = 32
)

var (
	ErrMissingToken = errors.New("bearer token missing")
	ErrInvalidToken = errors.New("invalid bearer token")
)

// Config configures token verification.
type Config struct {
	Secret   string
	Issuer   string
	Audience string
	Leeway   time.Duration
}

// Claims are the claims carried by an instructor token.
type Claims struct {
	Role string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// Verifier validates instructor tokens.
type Verifier struct {
	secret   []byte
	issuer   string
	audience string
	parser   *jwt.Parser
}

// NewVerifier creates a verifier. The shared secret must be at least 32 bytes.
func NewVerifier(cfg Config) (*Verifier, error) {
	secret := strings.TrimSpace(cfg.Secret)
	if len(secret) < minSecretLength {
		return nil, fmt.Errorf("owner token secret must be at least %d bytes", minSecretLength)
	}
	issuer := strings.TrimSpace(cfg.Issuer)
	if issuer == "" {
		issuer = defaultIssuer
	}
	audience := strings.TrimSpace(cfg.Audience)
	if audience == "" {
		audience = defaultAudience
	}
	leeway := cfg.Leeway
	if leeway <= 0 {
		leeway = defaultLeeway
	}
	return &Verifier{
		secret:   []byte(secret),
		issuer:   issuer,
		audience: audience,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithIssuer(issuer),
			jwt.WithAudience(audience),
			jwt.WithLeeway(leeway),
			jwt.WithExpirationRequired(),
		),
	}, nil
}

// VerifySubject validates token and returns the owner id.
func (v *Verifier) VerifySubject(token string) (string, error) {
	claims := &Claims{}
	parsed, err := v.parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	})
	if err != nil || !parsed.Valid {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	subject := strings.TrimSpace(claims.Subject)
	if subject == "" {
		return "", fmt.Errorf("%w: subject missing", ErrInvalidToken)
	}
	return subject, nil
}

// Issue signs a token for ownerID valid for ttl. Used by tooling and tests.
func (v *Verifier) Issue(ownerID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Role: "instructor",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   ownerID,
			Issuer:    v.issuer,
			Audience:  jwt.ClaimStrings{v.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now.Add(-time.Second)),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

// BearerToken extracts the token from the Authorization header.
func BearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return "", ErrMissingToken
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		return "", ErrMissingToken
	}
	return token, nil
}
