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

// Package identity derives peer identities. An identity is the triple of a
// versioned seed, the Ed25519 signing key pair deterministically derived
// from it, and an ephemeral NaCl box key pair generated per process.
// Addresses are stable as long as the seed is reused; box keys are not.
package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"

	"github.com/scobru/shogun-kunai/crypto/keys"
)

// Identity is a peer identity bound to one process lifetime.
type Identity struct {
	seed    []byte
	Signing *keys.Ed25519KeyPair
	Box     *keys.BoxKeyPair
	address string
}

// New creates an identity from a fresh random seed.
func New() (*Identity, error) {
	seed := make([]byte, SeedSize)
	if _, err := rand.Read(seed); err != nil {
		return nil, fmt.Errorf("failed to generate seed: %w", err)
	}
	return FromSeedBytes(seed)
}

// FromSeed creates an identity from an encoded seed string.
func FromSeed(encoded string) (*Identity, error) {
	seed, err := DecodeSeed(encoded)
	if err != nil {
		return nil, err
	}
	return FromSeedBytes(seed)
}

// FromSeedBytes creates an identity from 32 raw seed bytes. The signing key
// pair is derived deterministically; the box key pair is always fresh.
func FromSeedBytes(seed []byte) (*Identity, error) {
	signing, err := keys.NewEd25519KeyPairFromSeed(seed)
	if err != nil {
		return nil, err
	}
	boxKeys, err := keys.GenerateBoxKeyPair()
	if err != nil {
		return nil, err
	}
	id := &Identity{
		seed:    append([]byte{}, seed...),
		Signing: signing,
		Box:     boxKeys,
	}
	id.address = AddressFromPublicKey(signing.PublicKeyBytes())
	return id, nil
}

// Address returns the peer address derived from the signing public key.
func (id *Identity) Address() string {
	return id.address
}

// SeedString returns the encoded seed for reuse across sessions.
func (id *Identity) SeedString() string {
	s, _ := EncodeSeed(id.seed)
	return s
}

// SigningPublicKey returns the Ed25519 public key.
func (id *Identity) SigningPublicKey() ed25519.PublicKey {
	return id.Signing.PublicKeyBytes()
}

// BoxPublicKey returns the session's ephemeral box public key.
func (id *Identity) BoxPublicKey() []byte {
	return id.Box.PublicKeyBytes()
}
