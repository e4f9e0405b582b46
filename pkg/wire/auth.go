package wire

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// shardClaims is the registered-claims-only token shape shared between
// clients and shards; no custom claims are needed since authorization is
// all-or-nothing at the shard boundary.
type shardClaims struct {
	jwt.RegisteredClaims
}

// IssueToken mints an HS256 bearer token signed with secret, valid for ttl.
// Used by tests and operator tooling; production clients are typically
// handed a pre-issued token out of band.
func IssueToken(secret []byte, subject string, ttl time.Duration) (string, error) {
	claims := shardClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("wire: sign token: %w", err)
	}
	return signed, nil
}

// ValidateToken verifies token against secret, returning ErrUnauthorized
// wrapped around any parse, signature, or expiry failure.
func ValidateToken(secret []byte, token string) error {
	if token == "" {
		return fmt.Errorf("%w: empty token", ErrUnauthorized)
	}

	claims := &shardClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	return nil
}
