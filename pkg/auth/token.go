// Package auth verifies access tokens issued by the identity collaborator.
// Token issuance lives in that service; this package only validates
// signatures and extracts the bidder identity.
package auth

import (
	"crypto/rsa"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid or expired token")
)

// Claims carried by auction access tokens. Subject is the bidder ID.
type Claims struct {
	jwt.RegisteredClaims
}

// Verifier validates RS256 tokens against the issuer's public key.
type Verifier struct {
	publicKey *rsa.PublicKey
	issuer    string
}

// NewVerifier creates a Verifier from a PEM-encoded RSA public key.
func NewVerifier(publicKeyPEM []byte, issuer string) (*Verifier, error) {
	key, err := jwt.ParseRSAPublicKeyFromPEM(publicKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}
	return &Verifier{publicKey: key, issuer: issuer}, nil
}

// ValidateToken parses and verifies a token string.
func (v *Verifier) ValidateToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims,
		func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodRSA); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
			}
			return v.publicKey, nil
		},
		jwt.WithIssuer(v.issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
