package keys

import (
	"bytes"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kunaicrypto "github.com/scobru/shogun-kunai/crypto"
)

func TestEd25519SignVerify(t *testing.T) {
	kp, err := GenerateEd25519KeyPair()
	require.NoError(t, err)

	message := []byte("test message")
	sig, err := kp.Sign(message)
	require.NoError(t, err)

	require.NoError(t, kp.Verify(message, sig))
	assert.ErrorIs(t, kp.Verify([]byte("other message"), sig), kunaicrypto.ErrInvalidSignature)
}

func TestEd25519FromSeedDeterministic(t *testing.T) {
	seed := make([]byte, 32)
	_, err := rand.Read(seed)
	require.NoError(t, err)

	a, err := NewEd25519KeyPairFromSeed(seed)
	require.NoError(t, err)
	b, err := NewEd25519KeyPairFromSeed(seed)
	require.NoError(t, err)

	assert.True(t, bytes.Equal(a.PublicKeyBytes(), b.PublicKeyBytes()))
	assert.Equal(t, a.ID(), b.ID())

	_, err = NewEd25519KeyPairFromSeed(seed[:16])
	assert.ErrorIs(t, err, kunaicrypto.ErrInvalidSeed)
}

func TestValidateEd25519PublicKey(t *testing.T) {
	kp, err := GenerateEd25519KeyPair()
	require.NoError(t, err)
	require.NoError(t, ValidateEd25519PublicKey(kp.PublicKeyBytes()))

	assert.Error(t, ValidateEd25519PublicKey([]byte("short")))

	// All-0xFF is not a canonical point encoding.
	bad := bytes.Repeat([]byte{0xFF}, 32)
	assert.Error(t, ValidateEd25519PublicKey(bad))
}

func TestBoxSealOpen(t *testing.T) {
	alice, err := GenerateBoxKeyPair()
	require.NoError(t, err)
	bob, err := GenerateBoxKeyPair()
	require.NoError(t, err)

	plaintext := []byte(`{"hello":"world"}`)
	nonce, ct, err := alice.Seal(bob.PublicKeyBytes(), plaintext)
	require.NoError(t, err)
	require.Len(t, nonce, BoxNonceSize)

	got, err := bob.Open(alice.PublicKeyBytes(), nonce, ct)
	require.NoError(t, err)
	assert.Equal(t, plaintext, got)
}

func TestBoxOpenWrongRecipient(t *testing.T) {
	alice, err := GenerateBoxKeyPair()
	require.NoError(t, err)
	bob, err := GenerateBoxKeyPair()
	require.NoError(t, err)
	eve, err := GenerateBoxKeyPair()
	require.NoError(t, err)

	nonce, ct, err := alice.Seal(bob.PublicKeyBytes(), []byte("secret"))
	require.NoError(t, err)

	_, err = eve.Open(alice.PublicKeyBytes(), nonce, ct)
	assert.ErrorIs(t, err, ErrBoxOpen)
}

func TestX25519SharedSecretAgreement(t *testing.T) {
	alice, err := GenerateX25519KeyPair()
	require.NoError(t, err)
	bob, err := GenerateX25519KeyPair()
	require.NoError(t, err)

	ab, err := alice.DeriveSharedSecret(bob.PublicKeyBytes())
	require.NoError(t, err)
	ba, err := bob.DeriveSharedSecret(alice.PublicKeyBytes())
	require.NoError(t, err)

	assert.Equal(t, ab, ba)
	assert.Len(t, ab, 32)
}

func TestX25519RejectsBadPeerKey(t *testing.T) {
	alice, err := GenerateX25519KeyPair()
	require.NoError(t, err)

	_, err = alice.DeriveSharedSecret([]byte("short"))
	assert.ErrorIs(t, err, kunaicrypto.ErrInvalidPublicKey)

	// The all-zero key is a low-order point.
	_, err = alice.DeriveSharedSecret(make([]byte, 32))
	assert.ErrorIs(t, err, ErrLowOrderPoint)
}

func TestKeyAgreementKeysRefuseSigning(t *testing.T) {
	bk, err := GenerateBoxKeyPair()
	require.NoError(t, err)
	_, err = bk.Sign([]byte("msg"))
	assert.ErrorIs(t, err, kunaicrypto.ErrSignNotSupported)
	assert.ErrorIs(t, bk.Verify(nil, nil), kunaicrypto.ErrVerifyNotSupported)

	xk, err := GenerateX25519KeyPair()
	require.NoError(t, err)
	_, err = xk.Sign([]byte("msg"))
	assert.ErrorIs(t, err, kunaicrypto.ErrSignNotSupported)
}
