package channel

import (
	"crypto/ed25519"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mr-tron/base58"

	"github.com/scobru/shogun-kunai/crypto/keys"
)

// Packet types carried in the payload's y field.
const (
	TypeMessage  = "m"
	TypeRequest  = "r"
	TypeResponse = "rr"
	TypePing     = "p"
	TypeLeave    = "x"
)

var (
	errNotBoxEnvelope = errors.New("not a box envelope")
	errBadEnvelope    = errors.New("malformed envelope")
)

// Payload is the application packet carried inside a signed envelope.
// Field names are the wire protocol and must not change.
type Payload struct {
	T  int64           `json:"t"`            // send time, ms
	I  string          `json:"i"`            // channel identifier
	PK string          `json:"pk"`           // sender signing pub, base58
	EK string          `json:"ek"`           // sender box pub, base58
	N  string          `json:"n"`            // per-packet nonce, 8-byte hex
	Y  string          `json:"y"`            // packet type
	V  json.RawMessage `json:"v,omitempty"`  // message value
	C  string          `json:"c,omitempty"`  // request: call name
	A  json.RawMessage `json:"a,omitempty"`  // request: args
	RN string          `json:"rn,omitempty"` // request/response nonce
	RR json.RawMessage `json:"rr,omitempty"` // response result
}

// Envelope is the signed wire form: a hex signature over the
// byte-identical payload string.
type Envelope struct {
	S string `json:"s"`
	P string `json:"p"`
}

// boxEnvelope is the outer wrapper of a directed send.
type boxEnvelope struct {
	N  string `json:"n"`  // hex 24-byte nonce
	EK string `json:"ek"` // base58 sender box pub
	E  string `json:"e"`  // hex ciphertext
}

// messageRecord is the graph-store value under messages/<hash16>.
type messageRecord struct {
	M string `json:"m"` // base64 outer envelope bytes
	T int64  `json:"t"` // write time, ms
	K string `json:"k"` // hex16 packet hash
}

// PacketHash returns the 16-byte dedup hash of the outer packet bytes,
// hex-encoded: the leading half-truncation of SHA-512.
func PacketHash(outer []byte) string {
	sum := sha512.Sum512(outer)
	return hex.EncodeToString(sum[:16])
}

// sealEnvelope serializes and signs a payload. The payload string is
// marshaled exactly once; signing and verification always cover the same
// bytes.
func sealEnvelope(p *Payload, signing *keys.Ed25519KeyPair) ([]byte, error) {
	payloadBytes, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	sig, err := signing.Sign(payloadBytes)
	if err != nil {
		return nil, fmt.Errorf("sign payload: %w", err)
	}
	env := Envelope{
		S: hex.EncodeToString(sig),
		P: string(payloadBytes),
	}
	return json.Marshal(&env)
}

// openEnvelope parses a signed envelope, verifies the signature against
// the embedded pk, and returns the payload. The signature is checked over
// the payload string exactly as received.
func openEnvelope(data []byte) (*Payload, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, errBadEnvelope
	}
	if env.S == "" || env.P == "" {
		return nil, errBadEnvelope
	}

	var p Payload
	if err := json.Unmarshal([]byte(env.P), &p); err != nil {
		return nil, errBadEnvelope
	}

	pk, err := base58.Decode(p.PK)
	if err != nil {
		return nil, errBadEnvelope
	}
	if err := keys.ValidateEd25519PublicKey(pk); err != nil {
		return nil, err
	}
	sig, err := hex.DecodeString(env.S)
	if err != nil {
		return nil, errBadEnvelope
	}
	if err := keys.VerifyWithPublicKey(ed25519.PublicKey(pk), []byte(env.P), sig); err != nil {
		return nil, err
	}
	return &p, nil
}

// sealBox wraps signed envelope bytes in a box envelope for the
// recipient's box key.
func sealBox(inner []byte, recipientBoxPub []byte, box *keys.BoxKeyPair) ([]byte, error) {
	nonce, ct, err := box.Seal(recipientBoxPub, inner)
	if err != nil {
		return nil, err
	}
	return json.Marshal(&boxEnvelope{
		N:  hex.EncodeToString(nonce),
		EK: base58.Encode(box.PublicKeyBytes()),
		E:  hex.EncodeToString(ct),
	})
}

// openBox detects and unwraps a box envelope. errNotBoxEnvelope means the
// bytes are not a box envelope at all and should be treated as a plain
// signed envelope; any other error means the box was addressed elsewhere
// or tampered with.
func openBox(outer []byte, box *keys.BoxKeyPair) ([]byte, error) {
	var be boxEnvelope
	if err := json.Unmarshal(outer, &be); err != nil {
		return nil, errNotBoxEnvelope
	}
	if be.N == "" || be.EK == "" || be.E == "" {
		return nil, errNotBoxEnvelope
	}
	nonce, err := hex.DecodeString(be.N)
	if err != nil {
		return nil, errBadEnvelope
	}
	senderPub, err := base58.Decode(be.EK)
	if err != nil {
		return nil, errBadEnvelope
	}
	ct, err := hex.DecodeString(be.E)
	if err != nil {
		return nil, errBadEnvelope
	}
	return box.Open(senderPub, nonce, ct)
}
