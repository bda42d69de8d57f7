// Package account implements the ACME account manager (C7): idempotent
// registration (including External Account Binding), POST-as-GET resource
// fetches, key authorizations, and account-key rollover/deactivation.
package account

import (
	"context"
	"crypto"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/acmego/acmeclient/acme/directory"
	"github.com/acmego/acmeclient/acme/jws"
	"github.com/acmego/acmeclient/acme/keys"
	"github.com/acmego/acmeclient/acme/nonce"
	"github.com/acmego/acmeclient/acme/problems"
	"github.com/acmego/acmeclient/acme/ratelimit"
	"github.com/acmego/acmeclient/acme/resources"
	"github.com/acmego/acmeclient/acme/transport"
)

// namespaceSuffix distinguishes a Manager's nonce pool namespace. Nonces
// aren't account-scoped in ACME itself, but keying the pool off the
// directory's newNonce URL keeps it isolated per-server while letting
// several accounts against the same server share one pool.
const namespaceSuffix = "#account"

// Manager ties together the transport, nonce pool, directory, and rate
// limiter needed to make authenticated requests on behalf of one Account.
type Manager struct {
	transport *transport.Transport
	nonces    *nonce.Manager
	limiter   *ratelimit.Limiter
	dir       *directory.Directory
	account   *resources.Account
	namespace string
}

// New builds a Manager for account against the given directory, sharing the
// provided nonce pool and rate limiter with the rest of the client.
func New(t *transport.Transport, nonces *nonce.Manager, limiter *ratelimit.Limiter, dir *directory.Directory, acct *resources.Account) *Manager {
	return &Manager{
		transport: t,
		nonces:    nonces,
		limiter:   limiter,
		dir:       dir,
		account:   acct,
		namespace: dir.NewNonce + namespaceSuffix,
	}
}

// Account returns the managed account.
func (m *Manager) Account() *resources.Account { return m.account }

// Namespace returns the nonce pool namespace this Manager signs requests
// under.
func (m *Manager) Namespace() string { return m.namespace }

// NonceFetcher returns the FetchFunc to register with a nonce.Manager for
// this Manager's namespace: a single HEAD newNonce wrapped by the rate
// limiter.
func (m *Manager) NonceFetcher() nonce.FetchFunc {
	return func(ctx context.Context) (string, error) {
		var nonceValue string
		_, err := m.limiter.Do(ctx, "newNonce", func() (ratelimit.Result, error) {
			resp, err := m.transport.Head(ctx, m.dir.NewNonce)
			// A bodiless 429/503 arrives as a *transport.ServerError alongside
			// the response; hand its status to the limiter so it is retried.
			if err != nil && !(resp != nil && (resp.StatusCode == 429 || resp.StatusCode == 503)) {
				return ratelimit.Result{}, err
			}
			secs, ok := resp.RetryAfterSeconds()
			nonceValue = resp.Nonce()
			return ratelimit.Result{StatusCode: resp.StatusCode, RetryAfterSeconds: secs, RetryAfterOK: ok}, nil
		})
		if err != nil {
			return "", err
		}
		if nonceValue == "" {
			return "", fmt.Errorf("account: newNonce response carried no Replay-Nonce header")
		}
		return nonceValue, nil
	}
}

// rawAccountRequest is the newAccount/account-update POST body.
type rawAccountRequest struct {
	Contact                []string        `json:"contact,omitempty"`
	TermsOfServiceAgreed   bool            `json:"termsOfServiceAgreed,omitempty"`
	ExternalAccountBinding json.RawMessage `json:"externalAccountBinding,omitempty"`
}

type rawAccountResponse struct {
	Status  string   `json:"status"`
	Contact []string `json:"contact"`
	Orders  string   `json:"orders"`
}

// Result is the transport-agnostic view of a signed request's outcome that
// account and order code share.
type Result struct {
	Raw               []byte
	Location          string
	StatusCode        int
	IsProblem         bool
	Problem           *problems.Problem
	RetryAfterSeconds int
	RetryAfterOK      bool
}

// EnsureRegistered returns the account's KeyID, registering it with the
// server if it is not already known. Registration is idempotent: if KeyID
// is already set, it is returned without a network round trip.
func (m *Manager) EnsureRegistered(ctx context.Context) (string, error) {
	if m.account.Registered() {
		return m.account.KeyID, nil
	}

	if m.dir.ExternalAccountRequired() && m.account.EAB == nil {
		return "", problems.ExternalAccountRequired
	}

	req := rawAccountRequest{
		Contact:              m.account.Contact,
		TermsOfServiceAgreed: m.account.TOSAgreed,
	}

	if m.account.EAB != nil {
		eabResult, err := jws.SignEAB(m.dir.NewAccount, m.account.Signer, m.account.EAB.Kid, m.account.EAB.HMACKey)
		if err != nil {
			return "", err
		}
		req.ExternalAccountBinding = json.RawMessage(eabResult.Serialized)
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return "", err
	}

	resp, err := m.post(ctx, m.dir.NewAccount, func(nonceValue string) (*jws.SignResult, error) {
		return jws.SignEmbedded(m.dir.NewAccount, payload, m.account.Signer, nonceValue)
	})
	if err != nil {
		return "", err
	}
	if resp.IsProblem {
		return "", resp.Problem
	}

	if resp.Location == "" {
		return "", fmt.Errorf("account: newAccount response carried no Location header")
	}

	var parsed rawAccountResponse
	if len(resp.Raw) > 0 {
		if err := json.Unmarshal(resp.Raw, &parsed); err != nil {
			return "", fmt.Errorf("account: decoding newAccount response: %w", err)
		}
	}

	m.account.KeyID = resp.Location
	if len(parsed.Contact) > 0 {
		m.account.Contact = parsed.Contact
	}
	return m.account.KeyID, nil
}

// SignedPost signs payload with the account's established kid and posts it
// to url, retrying on badNonce. Exported so the order engine (C8) can reuse
// this Manager's signing/nonce/rate-limit plumbing for order/authorization/
// challenge requests, which are signed the same way as account requests.
func (m *Manager) SignedPost(ctx context.Context, url string, payload []byte) (*Result, error) {
	if !m.account.Registered() {
		return nil, problems.ErrAccountNotRegistered
	}
	return m.post(ctx, url, func(nonceValue string) (*jws.SignResult, error) {
		return jws.SignKeyID(url, payload, m.account.Signer, m.account.KeyID, nonceValue)
	})
}

// Fetch performs a POST-as-GET (an empty-payload signed POST, per
// RFC 8555 §6.3) against url, returning the raw response bytes for the
// caller to unmarshal into a concrete resource type.
func (m *Manager) Fetch(ctx context.Context, url string) (*Result, error) {
	return m.SignedPost(ctx, url, []byte{})
}

// post runs postOnce through the rate limiter, so a 429/503 answer is
// retried (each retry with a fresh nonce and signature) per the limiter's
// backoff policy.
func (m *Manager) post(ctx context.Context, url string, sign func(nonceValue string) (*jws.SignResult, error)) (*Result, error) {
	var out *Result
	_, err := m.limiter.Do(ctx, "signedPost", func() (ratelimit.Result, error) {
		var err error
		out, err = m.postOnce(ctx, url, sign)
		if err != nil {
			return ratelimit.Result{}, err
		}
		return ratelimit.Result{StatusCode: out.StatusCode, RetryAfterSeconds: out.RetryAfterSeconds, RetryAfterOK: out.RetryAfterOK}, nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (m *Manager) postOnce(ctx context.Context, url string, sign func(nonceValue string) (*jws.SignResult, error)) (*Result, error) {
	const maxAttempts = 3

	var last *transport.Response
	_, err := m.nonces.WithNonceRetry(ctx, m.namespace, maxAttempts, func(nonceValue string) (*nonce.Response, error) {
		signed, err := sign(nonceValue)
		if err != nil {
			return nil, err
		}
		httpResp, err := m.transport.Post(ctx, url, signed.Serialized, http.Header{})
		if err != nil {
			return nil, err
		}
		last = httpResp
		return &nonce.Response{
			Header:      httpResp.Header,
			IsProblem:   httpResp.Kind == transport.BodyProblem,
			ProblemType: httpResp.Problem.Type,
		}, nil
	})
	if err != nil {
		return nil, err
	}

	retryAfter, retryAfterOK := last.RetryAfterSeconds()
	out := &Result{
		Raw:               last.Raw,
		Location:          last.Location(),
		StatusCode:        last.StatusCode,
		RetryAfterSeconds: retryAfter,
		RetryAfterOK:      retryAfterOK,
	}
	if last.Kind == transport.BodyProblem {
		out.IsProblem = true
		out.Problem = problems.MapProblem(last.Problem, retryAfter)
	}
	return out, nil
}

// KeyAuthorization computes the key authorization for a challenge token
// using this account's signer, per the Signer's JWK-thumbprint formula.
func (m *Manager) KeyAuthorization(token string) (string, error) {
	return keys.KeyAuth(m.account.Signer, token)
}

// rolloverPayload is the inner JWS payload for account-key rollover, per
// RFC 8555 §7.3.5.
type rolloverPayload struct {
	Account string          `json:"account"`
	OldKey  json.RawMessage `json:"oldKey"`
}

// Rollover replaces the account's signing key with newSigner. The inner JWS
// (embedding the new key, payload {account, oldKey}) is signed by
// newSigner; the outer JWS (addressed by kid, payload = inner JWS) is
// signed by the current key. Both travel to the directory's keyChange
// endpoint. On success the Manager's account Signer is updated in place.
func (m *Manager) Rollover(ctx context.Context, newSigner crypto.Signer) error {
	if m.dir.KeyChange == "" {
		return fmt.Errorf("account: directory has no keyChange endpoint")
	}
	if !m.account.Registered() {
		return problems.ErrAccountNotRegistered
	}

	oldKeyJWK, err := keys.JWKForSigner(m.account.Signer)
	if err != nil {
		return err
	}
	oldKeyJSON, err := json.Marshal(&oldKeyJWK)
	if err != nil {
		return err
	}

	innerPayload, err := json.Marshal(rolloverPayload{
		Account: m.account.KeyID,
		OldKey:  oldKeyJSON,
	})
	if err != nil {
		return err
	}

	inner, err := jws.SignEmbeddedNoNonce(m.dir.KeyChange, innerPayload, newSigner)
	if err != nil {
		return err
	}

	resp, err := m.SignedPost(ctx, m.dir.KeyChange, inner.Serialized)
	if err != nil {
		return err
	}
	if resp.IsProblem {
		return resp.Problem
	}

	m.account.Signer = newSigner
	return nil
}

// Deactivate marks the account deactivated by POSTing {status: "deactivated"}
// to the account URL.
func (m *Manager) Deactivate(ctx context.Context) error {
	payload, err := json.Marshal(map[string]string{"status": "deactivated"})
	if err != nil {
		return err
	}
	resp, err := m.SignedPost(ctx, m.account.KeyID, payload)
	if err != nil {
		return err
	}
	if resp.IsProblem {
		return resp.Problem
	}
	return nil
}
