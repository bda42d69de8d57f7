package keys

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewSignerAlgorithms(t *testing.T) {
	for _, algo := range []string{ECDSAP256, ECDSAP384, ECDSAP521, RSA2048} {
		signer, err := NewSigner(algo)
		require.NoError(t, err, algo)
		require.NotNil(t, signer.Public(), algo)
	}
}

func TestNewSignerUnknownAlgorithm(t *testing.T) {
	_, err := NewSigner("bogus")
	require.Error(t, err)
}

func TestJWKThumbprintStable(t *testing.T) {
	signer, err := NewSigner(ECDSAP256)
	require.NoError(t, err)

	first, err := JWKThumbprint(signer)
	require.NoError(t, err)
	second, err := JWKThumbprint(signer)
	require.NoError(t, err)

	require.Equal(t, first, second)
	require.NotEmpty(t, first)
}

func TestKeyAuthFormat(t *testing.T) {
	signer, err := NewSigner(ECDSAP256)
	require.NoError(t, err)

	keyAuth, err := KeyAuth(signer, "token123")
	require.NoError(t, err)
	require.Contains(t, keyAuth, "token123.")
}

func TestDNS01DigestDeterministic(t *testing.T) {
	a := DNS01Digest("key-auth-value")
	b := DNS01Digest("key-auth-value")
	require.Equal(t, a, b)
	require.NotEqual(t, a, DNS01Digest("different-value"))
}

func TestSignerToPEMRoundtrip(t *testing.T) {
	signer, err := NewSigner(ECDSAP256)
	require.NoError(t, err)

	pemText, err := SignerToPEM(signer)
	require.NoError(t, err)
	require.Contains(t, pemText, "EC PRIVATE KEY")
}

func TestMarshalUnmarshalSignerRoundtrip(t *testing.T) {
	signer, err := NewSigner(RSA2048)
	require.NoError(t, err)

	der, keyType, err := MarshalSigner(signer)
	require.NoError(t, err)
	require.Equal(t, "rsa", keyType)

	restored, err := UnmarshalSigner(der, keyType)
	require.NoError(t, err)
	require.Equal(t, signer.Public(), restored.Public())
}

func TestSigAlgForKeyUnsupportedSigner(t *testing.T) {
	_, err := SigAlgForKey(nil)
	require.Error(t, err)
}
