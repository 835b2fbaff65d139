package admin

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/pbartlett/gatehouse/internal/util"
)

const (
	// DefaultTokenTTL bounds how long a privileged token stays valid
	// before the operator has to log in again.
	DefaultTokenTTL = 24 * time.Hour

	tokenLeeway = 30 * time.Second
	tokenIssuer = "gatehouse"
)

// TokenAuthority mints and verifies privileged admin tokens as HS256 JWTs.
// Only the current secret verifies, so rotating the secret invalidates every
// outstanding token at once. The secret is fetched from the provider on each
// operation and wiped afterwards.
type TokenAuthority struct {
	secrets *SecretProvider
	ttl     time.Duration
	now     func() time.Time
}

// NewTokenAuthority wires a token authority to its secret source. ttl <= 0
// selects DefaultTokenTTL.
func NewTokenAuthority(secrets *SecretProvider, ttl time.Duration) *TokenAuthority {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &TokenAuthority{secrets: secrets, ttl: ttl, now: time.Now}
}

// Issue signs a token naming the operator and reports when it expires.
func (a *TokenAuthority) Issue(username string) (string, time.Time, error) {
	if username == "" {
		return "", time.Time{}, fmt.Errorf("username must not be empty")
	}
	secret, err := a.secrets.Secret()
	if err != nil {
		return "", time.Time{}, err
	}
	defer util.WipeBytes(secret)

	now := a.now()
	expiresAt := now.Add(a.ttl)
	claims := jwt.RegisteredClaims{
		Subject:   username,
		Issuer:    tokenIssuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("signing admin token: %w", err)
	}
	return signed, expiresAt, nil
}

// Verify checks signature and lifetime and returns the operator username.
// Tokens signed with any other algorithm, including none, are rejected.
func (a *TokenAuthority) Verify(token string) (string, error) {
	secret, err := a.secrets.Secret()
	if err != nil {
		return "", err
	}
	defer util.WipeBytes(secret)

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(tokenLeeway),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.now),
	)
	claims := &jwt.RegisteredClaims{}
	if _, err := parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return secret, nil
	}); err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrTokenExpired
		}
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return claims.Subject, nil
}
