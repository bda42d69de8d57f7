// Package order implements the order/authorization/challenge state machine
// (C8): order creation, authorization walking with challenge-type dispatch,
// status polling honoring Retry-After, finalization, certificate download,
// and revocation.
package order

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/acmego/acmeclient/acme/account"
	"github.com/acmego/acmeclient/acme/problems"
	"github.com/acmego/acmeclient/acme/resources"
)

// Prepare publishes a challenge's response (writing the HTTP file, creating
// the DNS record, etc); it is opaque to the engine.
type Prepare func(ctx context.Context, authz *resources.Authorization, chal *resources.Challenge, keyAuthorization string) error

// WaitFor blocks until the caller has confirmed the published challenge
// response is visible (e.g. polled their own DNS/HTTP infra); it is opaque
// to the engine.
type WaitFor func(ctx context.Context, authz *resources.Authorization, chal *resources.Challenge) error

// Engine drives the order lifecycle for one account.
type Engine struct {
	acct *account.Manager
}

// New builds an Engine that signs and sends all order-related requests
// through acct.
func New(acct *account.Manager) *Engine {
	return &Engine{acct: acct}
}

type createOrderRequest struct {
	Identifiers []resources.Identifier `json:"identifiers"`
}

// CreateOrder POSTs to the directory's newOrder endpoint with the given
// identifiers and returns the created Order, with URL populated from the
// response's Location header.
func (e *Engine) CreateOrder(ctx context.Context, newOrderURL string, identifiers []resources.Identifier) (*resources.Order, error) {
	payload, err := json.Marshal(createOrderRequest{Identifiers: identifiers})
	if err != nil {
		return nil, err
	}

	resp, err := e.acct.SignedPost(ctx, newOrderURL, payload)
	if err != nil {
		return nil, err
	}
	if resp.IsProblem {
		return nil, resp.Problem
	}

	var ord resources.Order
	if err := json.Unmarshal(resp.Raw, &ord); err != nil {
		return nil, fmt.Errorf("order: decoding newOrder response: %w", err)
	}
	ord.URL = resp.Location
	if ord.URL == "" {
		return nil, fmt.Errorf("order: newOrder response carried no Location header")
	}
	return &ord, nil
}

// fetchAuthorization POST-as-GETs the authorization at url.
func (e *Engine) fetchAuthorization(ctx context.Context, url string) (*resources.Authorization, error) {
	resp, err := e.acct.Fetch(ctx, url)
	if err != nil {
		return nil, err
	}
	if resp.IsProblem {
		return nil, resp.Problem
	}
	var authz resources.Authorization
	if err := json.Unmarshal(resp.Raw, &authz); err != nil {
		return nil, fmt.Errorf("order: decoding authorization %q: %w", url, err)
	}
	authz.URL = url
	return &authz, nil
}

// authorizationError maps an embedded challenge error into a typed
// *problems.Problem, and a terminal non-valid authorization status into a
// plain error naming that status. It returns nil for any other status.
func authorizationError(authz *resources.Authorization, chal *resources.Challenge) error {
	if chal != nil && chal.Error != nil {
		return problems.MapProblem(*chal.Error, 0)
	}
	switch authz.Status {
	case resources.AuthzInvalid:
		return fmt.Errorf("order: authorization %q is invalid", authz.URL)
	case resources.AuthzDeactivated:
		return fmt.Errorf("order: authorization %q is deactivated", authz.URL)
	case resources.AuthzExpired:
		return fmt.Errorf("order: authorization %q is expired", authz.URL)
	case resources.AuthzRevoked:
		return fmt.Errorf("order: authorization %q is revoked", authz.URL)
	default:
		return nil
	}
}

// SolveChallenge walks every authorization referenced by ord, fulfilling the
// challenge of type challType via prepare/waitFor, then polls ord until its
// authorizations are all valid (or times out).
//
// For each authorization: a valid authorization is skipped; a terminal
// invalid/deactivated/expired/revoked authorization or an embedded challenge
// error raises the corresponding error; a challenge already processing is
// left alone (no re-notification); otherwise the engine computes the key
// authorization, invokes prepare then waitFor, and notifies the server with
// an empty JSON object — never the key authorization itself.
func (e *Engine) SolveChallenge(ctx context.Context, ord *resources.Order, challType string, prepare Prepare, waitFor WaitFor) error {
	for _, authzURL := range ord.Authorizations {
		authz, err := e.fetchAuthorization(ctx, authzURL)
		if err != nil {
			return err
		}

		if authz.Status == resources.AuthzValid {
			continue
		}
		for i := range authz.Challenges {
			if authz.Challenges[i].Error != nil {
				return authorizationError(authz, &authz.Challenges[i])
			}
		}
		if err := authorizationError(authz, nil); err != nil {
			return err
		}

		chal := authz.ChallengeByType(challType)
		if chal == nil {
			return problems.ErrChallengeNotFound
		}

		if chal.Status == resources.ChallengeValid {
			continue
		}
		if chal.Status == resources.ChallengeInvalid {
			return fmt.Errorf("order: %s challenge for %q is invalid", challType, authz.Identifier.Value)
		}
		if chal.Status == resources.ChallengeProcessing {
			continue
		}

		keyAuth, err := e.acct.KeyAuthorization(chal.Token)
		if err != nil {
			return err
		}

		if err := prepare(ctx, authz, chal, keyAuth); err != nil {
			return fmt.Errorf("order: preparing %s challenge for %q: %w", challType, authz.Identifier.Value, err)
		}
		if err := waitFor(ctx, authz, chal); err != nil {
			return fmt.Errorf("order: waiting on %s challenge for %q: %w", challType, authz.Identifier.Value, err)
		}

		if err := e.notifyChallenge(ctx, chal.URL); err != nil {
			return err
		}
	}

	_, err := e.WaitOrder(ctx, ord, []string{resources.StatusReady, resources.StatusValid}, 60, 5*time.Second)
	return err
}

// notifyChallenge POSTs an empty JSON object to a challenge URL, telling the
// server the client believes the challenge is ready to be validated.
func (e *Engine) notifyChallenge(ctx context.Context, challengeURL string) error {
	resp, err := e.acct.SignedPost(ctx, challengeURL, []byte("{}"))
	if err != nil {
		return err
	}
	if resp.IsProblem {
		return resp.Problem
	}
	return nil
}

// WaitOrder POST-as-GETs ord's URL at the given interval (or the server's
// Retry-After, if present) until its status is one of targetStatuses or
// maxAttempts is exhausted.
func (e *Engine) WaitOrder(ctx context.Context, ord *resources.Order, targetStatuses []string, maxAttempts int, interval time.Duration) (*resources.Order, error) {
	if maxAttempts <= 0 {
		maxAttempts = 60
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}

	for attempt := 0; attempt < maxAttempts; attempt++ {
		resp, err := e.acct.Fetch(ctx, ord.URL)
		if err != nil {
			return nil, err
		}
		if resp.IsProblem {
			return nil, resp.Problem
		}

		var updated resources.Order
		if err := json.Unmarshal(resp.Raw, &updated); err != nil {
			return nil, fmt.Errorf("order: decoding order %q: %w", ord.URL, err)
		}
		updated.URL = ord.URL
		*ord = updated

		for _, target := range targetStatuses {
			if ord.Status == target {
				return ord, nil
			}
		}
		if ord.Status == resources.StatusInvalid {
			if ord.Error != nil {
				return ord, problems.MapProblem(*ord.Error, 0)
			}
			return ord, fmt.Errorf("order: %q became invalid", ord.URL)
		}

		wait := interval
		if resp.RetryAfterOK && resp.RetryAfterSeconds > 0 {
			wait = time.Duration(resp.RetryAfterSeconds) * time.Second
		}

		t := time.NewTimer(wait)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return ord, ctx.Err()
		}
	}

	return ord, problems.ErrOrderTimeout
}

type finalizeRequest struct {
	CSR string `json:"csr"`
}

// Finalize POSTs csrDER (raw DER bytes, base64url-encoded here) to ord's
// finalize URL. ord must be in the ready state.
func (e *Engine) Finalize(ctx context.Context, ord *resources.Order, csrDER []byte) (*resources.Order, error) {
	if ord.Status != resources.StatusReady {
		return nil, fmt.Errorf("order: cannot finalize order in status %q, must be %q", ord.Status, resources.StatusReady)
	}
	if ord.Finalize == "" {
		return nil, problems.ErrMissingFinalizeURL
	}

	payload, err := json.Marshal(finalizeRequest{CSR: base64.RawURLEncoding.EncodeToString(csrDER)})
	if err != nil {
		return nil, err
	}

	resp, err := e.acct.SignedPost(ctx, ord.Finalize, payload)
	if err != nil {
		return nil, err
	}
	if resp.IsProblem {
		return nil, resp.Problem
	}

	url := ord.URL
	var updated resources.Order
	if err := json.Unmarshal(resp.Raw, &updated); err != nil {
		return nil, fmt.Errorf("order: decoding finalize response: %w", err)
	}
	updated.URL = url
	return &updated, nil
}

// DownloadCertificate POST-as-GETs ord.Certificate, returning the PEM
// certificate chain (leaf followed by intermediates). ord must be valid.
func (e *Engine) DownloadCertificate(ctx context.Context, ord *resources.Order) ([]byte, error) {
	if ord.Status != resources.StatusValid {
		return nil, fmt.Errorf("order: cannot download certificate for order in status %q, must be %q", ord.Status, resources.StatusValid)
	}
	if ord.Certificate == "" {
		return nil, problems.ErrMissingCertificateURL
	}

	resp, err := e.acct.Fetch(ctx, ord.Certificate)
	if err != nil {
		return nil, err
	}
	if resp.IsProblem {
		return nil, resp.Problem
	}
	return resp.Raw, nil
}

type revokeRequest struct {
	Certificate string `json:"certificate"`
	Reason      *int   `json:"reason,omitempty"`
}

// RevokeCertificate POSTs certDER (revocation request) to the directory's
// revokeCert endpoint, optionally carrying a CRL reason code.
func (e *Engine) RevokeCertificate(ctx context.Context, revokeCertURL string, certDER []byte, reason *int) error {
	payload, err := json.Marshal(revokeRequest{
		Certificate: base64.RawURLEncoding.EncodeToString(certDER),
		Reason:      reason,
	})
	if err != nil {
		return err
	}

	resp, err := e.acct.SignedPost(ctx, revokeCertURL, payload)
	if err != nil {
		return err
	}
	if resp.IsProblem {
		return resp.Problem
	}
	return nil
}
