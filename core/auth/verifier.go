package auth

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"

	"github.com/golang-jwt/jwt/v4"
)

// GovernanceClaims are carried by admin tokens minted by the governance
// service. Roles mirror the chain's derived roles so API-side checks and
// block-validation checks read the same names.
type GovernanceClaims struct {
	Sub     string   `json:"sub"`
	ChainID string   `json:"chainID"`
	Roles   []string `json:"roles"`
	Reason  string   `json:"reason,omitempty"`
	jwt.RegisteredClaims
}

// HasRole reports whether the token grants one of the wanted roles.
func (c *GovernanceClaims) HasRole(wanted ...string) bool {
	for _, w := range wanted {
		for _, r := range c.Roles {
			if r == w {
				return true
			}
		}
	}
	return false
}

// KeyProvider resolves the verification key for a token's key id.
type KeyProvider interface {
	GetPublicKey(kid string) (*rsa.PublicKey, error)
}

// StaticKeyProvider serves a single key regardless of kid.
type StaticKeyProvider struct {
	PublicKey *rsa.PublicKey
}

func (p *StaticKeyProvider) GetPublicKey(string) (*rsa.PublicKey, error) {
	if p.PublicKey == nil {
		return nil, errors.New("no governance public key configured")
	}
	return p.PublicKey, nil
}

// Verifier validates RS256 governance tokens.
type Verifier struct {
	KeyProvider KeyProvider
	ChainID     string
}

// VerifyToken parses and validates a token string, returning its claims.
func (v *Verifier) VerifyToken(tokenString string) (*GovernanceClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &GovernanceClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		kid, _ := token.Header["kid"].(string)
		return v.KeyProvider.GetPublicKey(kid)
	})
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*GovernanceClaims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid governance token or claims")
	}
	if v.ChainID != "" && claims.ChainID != v.ChainID {
		return nil, fmt.Errorf("token chainID %q does not match %q", claims.ChainID, v.ChainID)
	}
	return claims, nil
}

// LoadRSAPublicKeyFromFile reads a PEM-encoded RSA public key.
func LoadRSAPublicKeyFromFile(path string) (*rsa.PublicKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	blockPEM, _ := pem.Decode(data)
	if blockPEM == nil {
		return nil, errors.New("no PEM block found")
	}
	parsed, err := x509.ParsePKIXPublicKey(blockPEM.Bytes)
	if err != nil {
		return nil, err
	}
	key, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return nil, errors.New("not an RSA public key")
	}
	return key, nil
}
