package channel

import (
	"encoding/json"
	"testing"

	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scobru/shogun-kunai/crypto/keys"
)

func testPayload(t *testing.T, signing *keys.Ed25519KeyPair) *Payload {
	t.Helper()
	boxKeys, err := keys.GenerateBoxKeyPair()
	require.NoError(t, err)
	return &Payload{
		T:  1700000000000,
		I:  "room",
		PK: base58.Encode(signing.PublicKeyBytes()),
		EK: base58.Encode(boxKeys.PublicKeyBytes()),
		N:  "0011223344556677",
		Y:  TypeMessage,
		V:  json.RawMessage(`{"hello":"world"}`),
	}
}

func TestEnvelopeSignVerifyRoundTrip(t *testing.T) {
	signing, err := genSigningKey()
	require.NoError(t, err)

	p := testPayload(t, signing)
	data, err := sealEnvelope(p, signing)
	require.NoError(t, err)

	got, err := openEnvelope(data)
	require.NoError(t, err)
	assert.Equal(t, p.I, got.I)
	assert.Equal(t, p.PK, got.PK)
	assert.JSONEq(t, string(p.V), string(got.V))
}

func TestEnvelopeRejectsTamperedPayload(t *testing.T) {
	signing, err := genSigningKey()
	require.NoError(t, err)

	data, err := sealEnvelope(testPayload(t, signing), signing)
	require.NoError(t, err)

	var env Envelope
	require.NoError(t, json.Unmarshal(data, &env))
	env.P = env.P[:len(env.P)-1] + " " // corrupt the signed string
	tampered, err := json.Marshal(&env)
	require.NoError(t, err)

	_, err = openEnvelope(tampered)
	assert.Error(t, err)
}

func TestEnvelopeRejectsGarbage(t *testing.T) {
	_, err := openEnvelope([]byte("not json"))
	assert.Error(t, err)

	_, err = openEnvelope([]byte(`{"s":"","p":""}`))
	assert.Error(t, err)
}

func TestBoxEnvelopeRoundTrip(t *testing.T) {
	signing, err := genSigningKey()
	require.NoError(t, err)
	sender, err := keys.GenerateBoxKeyPair()
	require.NoError(t, err)
	recipient, err := keys.GenerateBoxKeyPair()
	require.NoError(t, err)

	inner, err := sealEnvelope(testPayload(t, signing), signing)
	require.NoError(t, err)

	outer, err := sealBox(inner, recipient.PublicKeyBytes(), sender)
	require.NoError(t, err)

	got, err := openBox(outer, recipient)
	require.NoError(t, err)
	assert.Equal(t, inner, got)
}

func TestBoxEnvelopeWrongRecipient(t *testing.T) {
	signing, err := genSigningKey()
	require.NoError(t, err)
	sender, err := keys.GenerateBoxKeyPair()
	require.NoError(t, err)
	recipient, err := keys.GenerateBoxKeyPair()
	require.NoError(t, err)
	other, err := keys.GenerateBoxKeyPair()
	require.NoError(t, err)

	inner, err := sealEnvelope(testPayload(t, signing), signing)
	require.NoError(t, err)
	outer, err := sealBox(inner, recipient.PublicKeyBytes(), sender)
	require.NoError(t, err)

	_, err = openBox(outer, other)
	require.Error(t, err)
	assert.NotErrorIs(t, err, errNotBoxEnvelope)
}

func TestOpenBoxPassesThroughPlainEnvelope(t *testing.T) {
	recipient, err := keys.GenerateBoxKeyPair()
	require.NoError(t, err)

	_, err = openBox([]byte(`{"s":"aa","p":"{}"}`), recipient)
	assert.ErrorIs(t, err, errNotBoxEnvelope)
}

func TestPacketHashStable(t *testing.T) {
	a := PacketHash([]byte("packet"))
	b := PacketHash([]byte("packet"))
	c := PacketHash([]byte("other"))

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 32) // 16 bytes, hex-encoded
}

// genSigningKey is a test shorthand.
func genSigningKey() (*keys.Ed25519KeyPair, error) {
	return keys.GenerateEd25519KeyPair()
}
