package crypto

import (
	"crypto"
	"errors"
)

// KeyType represents the type of cryptographic key
type KeyType string

const (
	KeyTypeEd25519 KeyType = "Ed25519"
	KeyTypeX25519  KeyType = "X25519"
	KeyTypeBox     KeyType = "Curve25519-Box"
)

// KeyPair represents a cryptographic key pair
type KeyPair interface {
	// PublicKey returns the public key
	PublicKey() crypto.PublicKey

	// PrivateKey returns the private key
	PrivateKey() crypto.PrivateKey

	// Type returns the key type
	Type() KeyType

	// Sign signs the given message
	Sign(message []byte) ([]byte, error)

	// Verify verifies the signature
	Verify(message, signature []byte) error

	// ID returns a unique identifier for this key pair
	ID() string
}

// Common errors
var (
	ErrInvalidSignature   = errors.New("invalid signature")
	ErrInvalidKeyType     = errors.New("invalid key type")
	ErrInvalidPublicKey   = errors.New("invalid public key")
	ErrInvalidSeed        = errors.New("invalid seed")
	ErrSignNotSupported   = errors.New("signing not supported for this key type")
	ErrVerifyNotSupported = errors.New("verification not supported for this key type")
)
