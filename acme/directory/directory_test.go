package directory

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/acmego/acmeclient/acme/transport"
)

func newTestTransport(t *testing.T) *transport.Transport {
	t.Helper()
	tr, err := transport.New(transport.Config{})
	require.NoError(t, err)
	return tr
}

func TestFetchValidDirectory(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"newNonce": "https://ca.test/new-nonce",
			"newAccount": "https://ca.test/new-account",
			"newOrder": "https://ca.test/new-order",
			"revokeCert": "https://ca.test/revoke-cert",
			"keyChange": "https://ca.test/key-change",
			"meta": {"externalAccountRequired": true}
		}`))
	}))
	defer srv.Close()

	dir, err := Fetch(context.Background(), newTestTransport(t), srv.URL)
	require.NoError(t, err)
	require.Equal(t, "https://ca.test/new-nonce", dir.NewNonce)
	require.Equal(t, "https://ca.test/new-account", dir.NewAccount)
	require.True(t, dir.ExternalAccountRequired())
}

func TestFetchMissingRequiredEndpoint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"newNonce": "https://ca.test/new-nonce"}`))
	}))
	defer srv.Close()

	_, err := Fetch(context.Background(), newTestTransport(t), srv.URL)
	require.Error(t, err)
}

func TestFetchNonJSONBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("not json"))
	}))
	defer srv.Close()

	_, err := Fetch(context.Background(), newTestTransport(t), srv.URL)
	require.Error(t, err)
}
