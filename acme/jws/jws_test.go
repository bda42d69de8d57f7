package jws

import (
	"encoding/base64"
	"encoding/json"
	"testing"

	jose "github.com/go-jose/go-jose/v4"
	"github.com/stretchr/testify/require"

	"github.com/acmego/acmeclient/acme/keys"
)

func TestSignEmbeddedCarriesNonceAndJWK(t *testing.T) {
	signer, err := keys.NewSigner(keys.ECDSAP256)
	require.NoError(t, err)

	result, err := SignEmbedded("https://example.test/new-account", []byte(`{}`), signer, "nonce-1")
	require.NoError(t, err)
	require.Equal(t, "https://example.test/new-account", result.URL)

	headers := result.JWS.Signatures[0].Protected
	require.Equal(t, "nonce-1", headers.Nonce)
	require.NotNil(t, headers.JSONWebKey)
	require.Empty(t, headers.KeyID)
}

func TestSignEmbeddedNoNonceOmitsNonce(t *testing.T) {
	signer, err := keys.NewSigner(keys.ECDSAP256)
	require.NoError(t, err)

	result, err := SignEmbeddedNoNonce("https://example.test/key-change", []byte(`{}`), signer)
	require.NoError(t, err)

	headers := result.JWS.Signatures[0].Protected
	require.Empty(t, headers.Nonce)
	require.NotNil(t, headers.JSONWebKey)
}

func TestSignKeyIDCarriesKidNotJWK(t *testing.T) {
	signer, err := keys.NewSigner(keys.ECDSAP256)
	require.NoError(t, err)

	result, err := SignKeyID("https://example.test/order/1", []byte(`{}`), signer, "https://example.test/acct/1", "nonce-2")
	require.NoError(t, err)

	headers := result.JWS.Signatures[0].Protected
	require.Equal(t, "https://example.test/acct/1", headers.KeyID)
	require.Equal(t, "nonce-2", headers.Nonce)
	require.Nil(t, headers.JSONWebKey)
}

func TestSignKeyIDRejectsEmptyKid(t *testing.T) {
	signer, err := keys.NewSigner(keys.ECDSAP256)
	require.NoError(t, err)

	_, err = SignKeyID("https://example.test/order/1", []byte(`{}`), signer, "", "nonce")
	require.Error(t, err)
}

func TestSignEABUsesHMACAndAccountJWKPayload(t *testing.T) {
	accountSigner, err := keys.NewSigner(keys.ECDSAP256)
	require.NoError(t, err)

	hmacKey := []byte("super-secret-eab-key-material-0123456789")
	result, err := SignEAB("https://example.test/new-account", accountSigner, "eab-kid-1", hmacKey)
	require.NoError(t, err)

	headers := result.JWS.Signatures[0].Protected
	require.Equal(t, "eab-kid-1", headers.KeyID)
	require.Equal(t, string(jose.HS256), headers.Algorithm)

	accountJWK, err := keys.JWKForSigner(accountSigner)
	require.NoError(t, err)
	expectedPayload, err := accountJWK.MarshalJSON()
	require.NoError(t, err)

	verified, err := result.JWS.Verify(hmacKey)
	require.NoError(t, err)
	require.JSONEq(t, string(expectedPayload), string(verified))

	// Cross-check the MAC independently of go-jose's verification path.
	var flat struct {
		Protected string `json:"protected"`
		Payload   string `json:"payload"`
		Signature string `json:"signature"`
	}
	require.NoError(t, json.Unmarshal(result.Serialized, &flat))
	sig, err := base64.RawURLEncoding.DecodeString(flat.Signature)
	require.NoError(t, err)
	require.True(t, verifyHMAC(hmacKey, []byte(flat.Protected+"."+flat.Payload), sig))
}
