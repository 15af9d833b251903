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

	"golang.org/x/crypto/nacl/box"

	kunaicrypto "github.com/scobru/shogun-kunai/crypto"
)

// BoxNonceSize is the NaCl box nonce size in bytes.
const BoxNonceSize = 24

// BoxKeySize is the Curve25519 key size in bytes.
const BoxKeySize = 32

// ErrBoxOpen is returned when a sealed box cannot be authenticated.
var ErrBoxOpen = errors.New("box open failed")

// BoxKeyPair holds an ephemeral NaCl box key pair. Box keys live for one
// process lifetime only and are never persisted.
type BoxKeyPair struct {
	publicKey  *[BoxKeySize]byte
	privateKey *[BoxKeySize]byte
	id         string
}

// GenerateBoxKeyPair generates a new ephemeral box key pair.
func GenerateBoxKeyPair() (*BoxKeyPair, error) {
	pub, priv, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate box key: %w", err)
	}
	hash := sha256.Sum256(pub[:])
	return &BoxKeyPair{
		publicKey:  pub,
		privateKey: priv,
		id:         hex.EncodeToString(hash[:8]),
	}, nil
}

// PublicKey returns the public key
func (kp *BoxKeyPair) PublicKey() crypto.PublicKey {
	return kp.publicKey
}

// PublicKeyBytes returns the raw 32-byte public key.
func (kp *BoxKeyPair) PublicKeyBytes() []byte {
	return kp.publicKey[:]
}

// PrivateKey returns the private key
func (kp *BoxKeyPair) PrivateKey() crypto.PrivateKey {
	return kp.privateKey
}

// Type returns the key type
func (kp *BoxKeyPair) Type() kunaicrypto.KeyType {
	return kunaicrypto.KeyTypeBox
}

// Sign returns an error; box keys are for key agreement only.
func (kp *BoxKeyPair) Sign(message []byte) ([]byte, error) {
	return nil, kunaicrypto.ErrSignNotSupported
}

// Verify returns an error; box keys are for key agreement only.
func (kp *BoxKeyPair) Verify(message, signature []byte) error {
	return kunaicrypto.ErrVerifyNotSupported
}

// ID returns a unique identifier for this key pair
func (kp *BoxKeyPair) ID() string {
	return kp.id
}

// Seal encrypts plaintext for the recipient's box public key. It returns
// the random 24-byte nonce and the ciphertext.
func (kp *BoxKeyPair) Seal(recipientPub []byte, plaintext []byte) (nonce, ciphertext []byte, err error) {
	peer, err := toBoxKey(recipientPub)
	if err != nil {
		return nil, nil, err
	}
	var n [BoxNonceSize]byte
	if _, err := io.ReadFull(rand.Reader, n[:]); err != nil {
		return nil, nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	ct := box.Seal(nil, plaintext, &n, peer, kp.privateKey)
	return n[:], ct, nil
}

// Open decrypts a sealed box from the sender's box public key.
func (kp *BoxKeyPair) Open(senderPub, nonce, ciphertext []byte) ([]byte, error) {
	peer, err := toBoxKey(senderPub)
	if err != nil {
		return nil, err
	}
	if len(nonce) != BoxNonceSize {
		return nil, ErrBoxOpen
	}
	var n [BoxNonceSize]byte
	copy(n[:], nonce)
	plain, ok := box.Open(nil, ciphertext, &n, peer, kp.privateKey)
	if !ok {
		return nil, ErrBoxOpen
	}
	return plain, nil
}

func toBoxKey(pub []byte) (*[BoxKeySize]byte, error) {
	if len(pub) != BoxKeySize {
		return nil, kunaicrypto.ErrInvalidPublicKey
	}
	var k [BoxKeySize]byte
	copy(k[:], pub)
	return &k, nil
}
