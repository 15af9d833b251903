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

package identity

import (
	"crypto/ed25519"
	"crypto/sha256"
	"crypto/sha512"
	"errors"

	"github.com/mr-tron/base58"
	"golang.org/x/crypto/ripemd160" //nolint:staticcheck // address format requires RIPEMD-160
)

// SeedSize is the length of the random portion of a seed.
const SeedSize = 32

// seedVersion is the two-byte prefix of an encoded seed.
var seedVersion = []byte{0x49, 0x0a}

// addressVersion is the one-byte prefix of an encoded address.
const addressVersion = 0x55

var (
	// ErrChecksum is returned when a base58check string fails verification.
	ErrChecksum = errors.New("base58check: checksum mismatch")
	// ErrBadSeed is returned when a seed string has the wrong shape.
	ErrBadSeed = errors.New("malformed seed")
)

// EncodeBase58Check appends a 4-byte double-SHA256 checksum to payload and
// base58-encodes the result.
func EncodeBase58Check(payload []byte) string {
	return base58.Encode(append(append([]byte{}, payload...), checksum(payload)...))
}

// DecodeBase58Check decodes a base58check string and verifies its checksum,
// returning the payload without the checksum.
func DecodeBase58Check(s string) ([]byte, error) {
	raw, err := base58.Decode(s)
	if err != nil {
		return nil, err
	}
	if len(raw) < 5 {
		return nil, ErrChecksum
	}
	payload, check := raw[:len(raw)-4], raw[len(raw)-4:]
	want := checksum(payload)
	for i := range check {
		if check[i] != want[i] {
			return nil, ErrChecksum
		}
	}
	return payload, nil
}

func checksum(payload []byte) []byte {
	first := sha256.Sum256(payload)
	second := sha256.Sum256(first[:])
	return second[:4]
}

// EncodeSeed encodes 32 random seed bytes with the version prefix.
func EncodeSeed(seed []byte) (string, error) {
	if len(seed) != SeedSize {
		return "", ErrBadSeed
	}
	return EncodeBase58Check(append(append([]byte{}, seedVersion...), seed...)), nil
}

// DecodeSeed decodes a seed string, strips the version prefix, and returns
// the 32 seed bytes.
func DecodeSeed(s string) ([]byte, error) {
	payload, err := DecodeBase58Check(s)
	if err != nil {
		return nil, err
	}
	if len(payload) != len(seedVersion)+SeedSize {
		return nil, ErrBadSeed
	}
	if payload[0] != seedVersion[0] || payload[1] != seedVersion[1] {
		return nil, ErrBadSeed
	}
	return payload[len(seedVersion):], nil
}

// AddressFromPublicKey derives the compact peer address from a signing
// public key: base58check(0x55 || RIPEMD160(SHA512(pubkey))).
func AddressFromPublicKey(pub ed25519.PublicKey) string {
	outer := sha512.Sum512(pub)
	h := ripemd160.New()
	h.Write(outer[:])
	digest := h.Sum(nil)
	return EncodeBase58Check(append([]byte{addressVersion}, digest...))
}
