// Package crypto is the node's signing service: a fixed sign/verify/import
// contract over Ed25519. The chain core consumes it at the boundary and never
// reimplements it.
package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

const (
	privKeyFile = "node_ed25519.priv"
	pubKeyFile  = "node_ed25519.pub"
)

// GenerateAndSaveKeypair generates an Ed25519 keypair under dir, or loads the
// existing one if present.
func GenerateAndSaveKeypair(dir string) (ed25519.PublicKey, ed25519.PrivateKey, error) {
	privPath := filepath.Join(dir, privKeyFile)
	pubPath := filepath.Join(dir, pubKeyFile)
	if _, err := os.Stat(privPath); err == nil {
		return LoadKeypair(dir)
	}
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, err
	}
	if err := os.WriteFile(privPath, []byte(hex.EncodeToString(priv)), 0600); err != nil {
		return nil, nil, err
	}
	if err := os.WriteFile(pubPath, []byte(hex.EncodeToString(pub)), 0644); err != nil {
		return nil, nil, err
	}
	return pub, priv, nil
}

// LoadKeypair loads the Ed25519 keypair from dir.
func LoadKeypair(dir string) (ed25519.PublicKey, ed25519.PrivateKey, error) {
	privHex, err := os.ReadFile(filepath.Join(dir, privKeyFile))
	if err != nil {
		return nil, nil, err
	}
	pubHex, err := os.ReadFile(filepath.Join(dir, pubKeyFile))
	if err != nil {
		return nil, nil, err
	}
	priv, err := hex.DecodeString(string(privHex))
	if err != nil {
		return nil, nil, fmt.Errorf("corrupt private key file: %w", err)
	}
	pub, err := hex.DecodeString(string(pubHex))
	if err != nil {
		return nil, nil, fmt.Errorf("corrupt public key file: %w", err)
	}
	return ed25519.PublicKey(pub), ed25519.PrivateKey(priv), nil
}

// Sign signs message with the private key, returning a base64 signature.
func Sign(priv ed25519.PrivateKey, message []byte) string {
	return base64.StdEncoding.EncodeToString(ed25519.Sign(priv, message))
}

// Verify checks a base64 signature over message with the public key.
func Verify(pub ed25519.PublicKey, message []byte, signatureB64 string) bool {
	sig, err := base64.StdEncoding.DecodeString(signatureB64)
	if err != nil {
		return false
	}
	return ed25519.Verify(pub, message, sig)
}

// ImportPublicKey decodes a hex-encoded Ed25519 public key.
func ImportPublicKey(encoded string) (ed25519.PublicKey, error) {
	raw, err := hex.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("invalid public key encoding: %w", err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, errors.New("invalid public key length")
	}
	return ed25519.PublicKey(raw), nil
}
