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
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"github.com/cloudflare/circl/dh/x25519"

	kunaicrypto "github.com/scobru/shogun-kunai/crypto"
)

// ErrLowOrderPoint is returned when ECDH lands on a low-order point.
var ErrLowOrderPoint = errors.New("x25519: low-order point")

// X25519KeyPair holds an X25519 key pair used for ECDH key agreement.
type X25519KeyPair struct {
	privateKey x25519.Key
	publicKey  x25519.Key
	id         string
}

// GenerateX25519KeyPair generates a new X25519 key pair.
func GenerateX25519KeyPair() (*X25519KeyPair, error) {
	var priv, pub x25519.Key
	if _, err := io.ReadFull(rand.Reader, priv[:]); err != nil {
		return nil, fmt.Errorf("failed to generate ECDH key: %w", err)
	}
	x25519.KeyGen(&pub, &priv)

	hash := sha256.Sum256(pub[:])
	return &X25519KeyPair{
		privateKey: priv,
		publicKey:  pub,
		id:         hex.EncodeToString(hash[:8]),
	}, nil
}

// PublicKey returns the public key
func (kp *X25519KeyPair) PublicKey() crypto.PublicKey {
	return kp.publicKey
}

// PublicKeyBytes returns the raw 32-byte public key.
func (kp *X25519KeyPair) PublicKeyBytes() []byte {
	out := make([]byte, x25519.Size)
	copy(out, kp.publicKey[:])
	return out
}

// PrivateKey returns the private key
func (kp *X25519KeyPair) PrivateKey() crypto.PrivateKey {
	return kp.privateKey
}

// Type returns the key type
func (kp *X25519KeyPair) Type() kunaicrypto.KeyType {
	return kunaicrypto.KeyTypeX25519
}

// Sign returns an error; X25519 keys are for key agreement only.
func (kp *X25519KeyPair) Sign(message []byte) ([]byte, error) {
	return nil, kunaicrypto.ErrSignNotSupported
}

// Verify returns an error; X25519 keys are for key agreement only.
func (kp *X25519KeyPair) Verify(message, signature []byte) error {
	return kunaicrypto.ErrVerifyNotSupported
}

// ID returns a unique identifier for this key pair
func (kp *X25519KeyPair) ID() string {
	return kp.id
}

// DeriveSharedSecret computes a 32-byte symmetric key from an X25519 ECDH
// exchange with the peer's public key bytes. The result is SHA-256 of the
// raw shared point, so both sides derive the same key.
func (kp *X25519KeyPair) DeriveSharedSecret(peerPubBytes []byte) ([]byte, error) {
	if len(peerPubBytes) != x25519.Size {
		return nil, kunaicrypto.ErrInvalidPublicKey
	}
	var peerPub, shared x25519.Key
	copy(peerPub[:], peerPubBytes)

	if ok := x25519.Shared(&shared, &kp.privateKey, &peerPub); !ok {
		return nil, ErrLowOrderPoint
	}
	sum := sha256.Sum256(shared[:])
	return sum[:], nil
}
