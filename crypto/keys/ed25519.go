// kunai - decentralized messaging and file transfer
// Copyright (C) 2025 scobru
//
// This file is part of kunai.
//
// kunai is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// kunai is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with kunai. If not, see <https://www.gnu.org/licenses/>.

package keys

import (
	"crypto"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"

	"filippo.io/edwards25519"

	kunaicrypto "github.com/scobru/shogun-kunai/crypto"
)

// Ed25519KeyPair implements the KeyPair interface for Ed25519 signing keys.
type Ed25519KeyPair struct {
	privateKey ed25519.PrivateKey
	publicKey  ed25519.PublicKey
	id         string
}

// GenerateEd25519KeyPair generates a new random Ed25519 key pair.
func GenerateEd25519KeyPair() (*Ed25519KeyPair, error) {
	publicKey, privateKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	return newEd25519KeyPair(privateKey, publicKey), nil
}

// NewEd25519KeyPairFromSeed derives the key pair deterministically from a
// 32-byte seed. The same seed always yields the same key pair.
func NewEd25519KeyPairFromSeed(seed []byte) (*Ed25519KeyPair, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, kunaicrypto.ErrInvalidSeed
	}
	privateKey := ed25519.NewKeyFromSeed(seed)
	publicKey := privateKey.Public().(ed25519.PublicKey)
	return newEd25519KeyPair(privateKey, publicKey), nil
}

func newEd25519KeyPair(priv ed25519.PrivateKey, pub ed25519.PublicKey) *Ed25519KeyPair {
	hash := sha256.Sum256(pub)
	return &Ed25519KeyPair{
		privateKey: priv,
		publicKey:  pub,
		id:         hex.EncodeToString(hash[:8]),
	}
}

// PublicKey returns the public key
func (kp *Ed25519KeyPair) PublicKey() crypto.PublicKey {
	return kp.publicKey
}

// PublicKeyBytes returns the raw 32-byte public key.
func (kp *Ed25519KeyPair) PublicKeyBytes() []byte {
	return kp.publicKey
}

// PrivateKey returns the private key
func (kp *Ed25519KeyPair) PrivateKey() crypto.PrivateKey {
	return kp.privateKey
}

// Type returns the key type
func (kp *Ed25519KeyPair) Type() kunaicrypto.KeyType {
	return kunaicrypto.KeyTypeEd25519
}

// Sign signs the given message
func (kp *Ed25519KeyPair) Sign(message []byte) ([]byte, error) {
	return ed25519.Sign(kp.privateKey, message), nil
}

// Verify verifies the signature
func (kp *Ed25519KeyPair) Verify(message, signature []byte) error {
	if !ed25519.Verify(kp.publicKey, message, signature) {
		return kunaicrypto.ErrInvalidSignature
	}
	return nil
}

// ID returns a unique identifier for this key pair
func (kp *Ed25519KeyPair) ID() string {
	return kp.id
}

// VerifyWithPublicKey verifies a signature against an arbitrary public key.
func VerifyWithPublicKey(pub ed25519.PublicKey, message, signature []byte) error {
	if len(pub) != ed25519.PublicKeySize {
		return kunaicrypto.ErrInvalidPublicKey
	}
	if !ed25519.Verify(pub, message, signature) {
		return kunaicrypto.ErrInvalidSignature
	}
	return nil
}

// ValidateEd25519PublicKey rejects keys that are not canonical encodings of
// a point on the edwards25519 curve. Peer tables must never store a key
// that fails this check.
func ValidateEd25519PublicKey(pub []byte) error {
	if len(pub) != ed25519.PublicKeySize {
		return kunaicrypto.ErrInvalidPublicKey
	}
	if _, err := (&edwards25519.Point{}).SetBytes(pub); err != nil {
		return kunaicrypto.ErrInvalidPublicKey
	}
	return nil
}
