// Package keywrap generates group session keys and wraps them per member
// with RSA-OAEP. Wrapping normally happens on the client that initiates a
// group creation or key rotation; the server only validates formats and
// stores the resulting opaque blobs. Unwrap is a client-side operation and
// exists here for completeness and tests - no server code path ever loads a
// private key.
package keywrap

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
)

// SessionKeySize is the size of a group session key (AES-256).
const SessionKeySize = 32

var (
	ErrInvalidSessionKey = errors.New("session key must be 32 bytes")
	ErrInvalidKeyFormat  = errors.New("invalid public key format")
	ErrEncryptionFailure = errors.New("failed to encrypt session key")
	ErrDecryptionFailure = errors.New("failed to decrypt session key")
)

// GenerateSessionKey returns a fresh 256-bit session key from the system
// CSPRNG. Entropy exhaustion surfaces as an error, not a panic.
func GenerateSessionKey() ([]byte, error) {
	key := make([]byte, SessionKeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("reading entropy: %w", err)
	}
	return key, nil
}

// Wrap encrypts a session key for one recipient using RSA-OAEP with SHA-256.
// OAEP padding is randomized: wrapping the same key twice yields different
// ciphertexts.
func Wrap(sessionKey, publicKeyPEM []byte) ([]byte, error) {
	if len(sessionKey) != SessionKeySize {
		return nil, ErrInvalidSessionKey
	}

	pub, err := ParsePublicKey(publicKeyPEM)
	if err != nil {
		return nil, err
	}

	wrapped, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, pub, sessionKey, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncryptionFailure, err)
	}
	return wrapped, nil
}

// Unwrap recovers a session key with the recipient's private key.
// CLIENT-SIDE ONLY.
func Unwrap(wrapped []byte, priv *rsa.PrivateKey) ([]byte, error) {
	key, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, priv, wrapped, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryptionFailure, err)
	}
	return key, nil
}

// ParsePublicKey decodes a PEM-encoded PKIX RSA public key.
func ParsePublicKey(publicKeyPEM []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(publicKeyPEM)
	if block == nil {
		return nil, ErrInvalidKeyFormat
	}

	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKeyFormat, err)
	}

	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, ErrInvalidKeyFormat
	}
	return rsaPub, nil
}

// MarshalPublicKey encodes an RSA public key as PKIX PEM. Used by clients
// when registering their key and by tests.
func MarshalPublicKey(pub *rsa.PublicKey) ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, err
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}), nil
}
