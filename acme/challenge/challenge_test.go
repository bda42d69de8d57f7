package challenge

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/acmego/acmeclient/acme/keys"
)

func TestHTTP01TargetAndValue(t *testing.T) {
	prepared := HTTP01("key-auth-value", "example.com", "token123")
	require.Equal(t, "http://example.com/.well-known/acme-challenge/token123", prepared.Target)
	require.Equal(t, "key-auth-value", prepared.Value)
}

func TestDNS01OwnerNameAndDigest(t *testing.T) {
	prepared := DNS01("key-auth-value", "example.com")
	require.Equal(t, "_acme-challenge.example.com.", prepared.Target)
	require.Equal(t, keys.DNS01Digest("key-auth-value"), prepared.Value)
}

func TestDNS01OwnerNameAlreadyQualified(t *testing.T) {
	prepared := DNS01("key-auth-value", "example.com.")
	require.Equal(t, "_acme-challenge.example.com.", prepared.Target)
}

func TestTLSALPN01SNIAndDigest(t *testing.T) {
	sni, digest := TLSALPN01("key-auth-value", "example.com")
	require.Equal(t, "example.com.", sni)
	require.Equal(t, keys.TLSALPN01Digest("key-auth-value"), digest)
}
