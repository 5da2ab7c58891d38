package keywrap

import (
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKeypair(t *testing.T) (*rsa.PrivateKey, []byte) {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	pubPEM, err := MarshalPublicKey(&priv.PublicKey)
	require.NoError(t, err)
	return priv, pubPEM
}

func TestGenerateSessionKey(t *testing.T) {
	key, err := GenerateSessionKey()
	require.NoError(t, err)
	assert.Len(t, key, SessionKeySize)

	other, err := GenerateSessionKey()
	require.NoError(t, err)
	assert.False(t, bytes.Equal(key, other), "two generated keys should differ")
}

func TestWrapUnwrapRoundTrip(t *testing.T) {
	priv, pubPEM := testKeypair(t)

	key, err := GenerateSessionKey()
	require.NoError(t, err)

	wrapped, err := Wrap(key, pubPEM)
	require.NoError(t, err)
	assert.NotEqual(t, key, wrapped)

	got, err := Unwrap(wrapped, priv)
	require.NoError(t, err)
	assert.Equal(t, key, got, "round trip must return the original key byte-for-byte")
}

func TestWrapIsRandomized(t *testing.T) {
	_, pubPEM := testKeypair(t)

	key, err := GenerateSessionKey()
	require.NoError(t, err)

	first, err := Wrap(key, pubPEM)
	require.NoError(t, err)
	second, err := Wrap(key, pubPEM)
	require.NoError(t, err)

	// OAEP padding is random, identical inputs must not produce identical
	// ciphertexts.
	assert.False(t, bytes.Equal(first, second))
}

func TestWrapRejectsBadSessionKey(t *testing.T) {
	_, pubPEM := testKeypair(t)

	_, err := Wrap([]byte("too short"), pubPEM)
	assert.ErrorIs(t, err, ErrInvalidSessionKey)
}

func TestWrapRejectsMalformedPublicKey(t *testing.T) {
	key, err := GenerateSessionKey()
	require.NoError(t, err)

	cases := map[string][]byte{
		"not pem":     []byte("definitely not a key"),
		"empty":       {},
		"garbage pem": []byte("-----BEGIN PUBLIC KEY-----\naGVsbG8=\n-----END PUBLIC KEY-----\n"),
	}

	for name, pubPEM := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Wrap(key, pubPEM)
			assert.ErrorIs(t, err, ErrInvalidKeyFormat)
		})
	}
}

func TestUnwrapWithWrongKeyFails(t *testing.T) {
	_, pubPEM := testKeypair(t)
	otherPriv, _ := testKeypair(t)

	key, err := GenerateSessionKey()
	require.NoError(t, err)

	wrapped, err := Wrap(key, pubPEM)
	require.NoError(t, err)

	_, err = Unwrap(wrapped, otherPriv)
	assert.ErrorIs(t, err, ErrDecryptionFailure)
}
