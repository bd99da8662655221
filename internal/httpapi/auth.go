package httpapi

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// TokenLifetime is how long an issued token stays valid
	TokenLifetime = 24 * time.Hour
	// TokenIssuer is the iss claim of every issued token
	TokenIssuer = "rhizome"
)

var (
	// ErrMissingToken is returned when a request carries no token
	ErrMissingToken = errors.New("missing token")
	// ErrInvalidToken wraps every token parsing or validation failure
	ErrInvalidToken = errors.New("invalid token")
)

// Claims are the JWT claims of a rhizome token. The client ID travels as the
// subject.
type Claims struct {
	Admin bool `json:"adm,omitempty"`
	jwt.RegisteredClaims
}

// Identity is the caller of an API request
type Identity struct {
	ClientID string

	// Admin unlocks the admin endpoints
	Admin bool

	// Anonymous is set for requests let through by no-auth mode
	Anonymous bool

	ExpiresAt time.Time
}

// Tokens issues and verifies HS256 tokens
type Tokens struct {
	key      []byte
	lifetime time.Duration
	parser   *jwt.Parser
}

// NewTokens creates an issuer signing with secretKey
func NewTokens(secretKey string) *Tokens {
	return &Tokens{
		key:      []byte(secretKey),
		lifetime: TokenLifetime,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithIssuer(TokenIssuer),
			jwt.WithExpirationRequired(),
		),
	}
}

// Issue signs a token for clientID
func (t *Tokens) Issue(clientID string, admin bool) (string, time.Time, error) {
	if clientID == "" {
		return "", time.Time{}, errors.New("client ID cannot be empty")
	}

	now := time.Now()
	expiresAt := now.Add(t.lifetime)
	claims := Claims{
		Admin: admin,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    TokenIssuer,
			Subject:   clientID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.key)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// Verify checks raw and returns the identity it was issued to
func (t *Tokens) Verify(raw string) (Identity, error) {
	if raw == "" {
		return Identity{}, ErrMissingToken
	}

	var claims Claims
	if _, err := t.parser.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return t.key, nil
	}); err != nil {
		return Identity{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return Identity{}, fmt.Errorf("%w: no subject", ErrInvalidToken)
	}

	return Identity{
		ClientID:  claims.Subject,
		Admin:     claims.Admin,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}
