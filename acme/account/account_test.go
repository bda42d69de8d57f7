package account

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/acmego/acmeclient/acme/directory"
	"github.com/acmego/acmeclient/acme/keys"
	"github.com/acmego/acmeclient/acme/nonce"
	"github.com/acmego/acmeclient/acme/ratelimit"
	"github.com/acmego/acmeclient/acme/resources"
	"github.com/acmego/acmeclient/acme/transport"
)

// fakeCA is a minimal ACME server exercising newNonce and newAccount, enough
// to drive a Manager through registration without a real CA.
type fakeCA struct {
	mu        sync.Mutex
	nonceSeq  int
	accountID string
}

func newFakeCA(t *testing.T) (*httptest.Server, *directory.Directory) {
	t.Helper()
	ca := &fakeCA{}
	mux := http.NewServeMux()

	mux.HandleFunc("/new-nonce", func(w http.ResponseWriter, r *http.Request) {
		ca.mu.Lock()
		ca.nonceSeq++
		w.Header().Set("Replay-Nonce", nonceValue(ca.nonceSeq))
		ca.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	})

	mux.HandleFunc("/new-account", func(w http.ResponseWriter, r *http.Request) {
		ca.mu.Lock()
		ca.nonceSeq++
		w.Header().Set("Replay-Nonce", nonceValue(ca.nonceSeq))
		ca.mu.Unlock()

		w.Header().Set("Location", "https://ca.test/account/1")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status":  "valid",
			"contact": []string{"mailto:ops@example.com"},
			"orders":  "https://ca.test/account/1/orders",
		})
	})

	srv := httptest.NewServer(mux)

	dir := &directory.Directory{
		NewNonce:   srv.URL + "/new-nonce",
		NewAccount: srv.URL + "/new-account",
		NewOrder:   srv.URL + "/new-order",
		RevokeCert: srv.URL + "/revoke-cert",
	}
	return srv, dir
}

func nonceValue(seq int) string {
	return "nonce-" + string(rune('a'+seq))
}

func newManager(t *testing.T, dir *directory.Directory, acct *resources.Account) *Manager {
	t.Helper()
	tr, err := transport.New(transport.Config{})
	require.NoError(t, err)

	limiter := ratelimit.New(ratelimit.Config{})

	bootstrap := New(tr, nil, limiter, dir, acct)
	nonceConf := nonce.Config{Fetch: bootstrap.NonceFetcher()}
	nonces := nonce.New(nonceConf)

	return New(tr, nonces, limiter, dir, acct)
}

func TestEnsureRegisteredIsIdempotent(t *testing.T) {
	srv, dir := newFakeCA(t)
	defer srv.Close()

	signer, err := keys.NewSigner(keys.ECDSAP256)
	require.NoError(t, err)
	acct := resources.NewAccount([]string{"ops@example.com"}, signer)

	mgr := newManager(t, dir, acct)

	kid, err := mgr.EnsureRegistered(context.Background())
	require.NoError(t, err)
	require.Equal(t, "https://ca.test/account/1", kid)
	require.True(t, acct.Registered())

	kid2, err := mgr.EnsureRegistered(context.Background())
	require.NoError(t, err)
	require.Equal(t, kid, kid2)
}

func TestEnsureRegisteredRequiresEABWhenMandated(t *testing.T) {
	srv, dir := newFakeCA(t)
	defer srv.Close()
	dir.Meta.ExternalAccountRequired = true

	signer, err := keys.NewSigner(keys.ECDSAP256)
	require.NoError(t, err)
	acct := resources.NewAccount([]string{"ops@example.com"}, signer)

	mgr := newManager(t, dir, acct)

	_, err = mgr.EnsureRegistered(context.Background())
	require.Error(t, err)
}

func TestKeyAuthorizationUsesAccountSigner(t *testing.T) {
	signer, err := keys.NewSigner(keys.ECDSAP256)
	require.NoError(t, err)
	acct := resources.NewAccount(nil, signer)
	dir := &directory.Directory{}

	mgr := New(nil, nil, nil, dir, acct)
	ka, err := mgr.KeyAuthorization("token-123")
	require.NoError(t, err)

	want, err := keys.KeyAuth(signer, "token-123")
	require.NoError(t, err)
	require.Equal(t, want, ka)
}

func TestSignedPostRejectsUnregisteredAccount(t *testing.T) {
	signer, err := keys.NewSigner(keys.ECDSAP256)
	require.NoError(t, err)
	acct := resources.NewAccount(nil, signer)
	dir := &directory.Directory{}

	mgr := New(nil, nil, nil, dir, acct)
	_, err = mgr.SignedPost(context.Background(), "https://ca.test/order/1", []byte("{}"))
	require.Error(t, err)
}
