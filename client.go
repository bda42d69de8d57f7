// Package acmeclient provides a high-level ACME v2 (RFC 8555) client engine:
// directory discovery, account registration, order/authorization/challenge
// handling, and certificate finalization, issuance, and revocation, built on
// a concurrent nonce pool and a CA-rate-limit-aware transport.
package acmeclient

import (
	"context"
	"crypto"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/acmego/acmeclient/acme/account"
	"github.com/acmego/acmeclient/acme/challenge"
	"github.com/acmego/acmeclient/acme/directory"
	"github.com/acmego/acmeclient/acme/nonce"
	"github.com/acmego/acmeclient/acme/order"
	"github.com/acmego/acmeclient/acme/ratelimit"
	"github.com/acmego/acmeclient/acme/resources"
	"github.com/acmego/acmeclient/acme/transport"
)

// Config configures a Client.
type Config struct {
	// DirectoryURL is the ACME server's directory endpoint. Required.
	DirectoryURL string
	// CABundlePath is an optional path to PEM-encoded CA certificates
	// trusted for TLS connections to the server. Empty uses the system
	// trust store.
	CABundlePath string
	// HTTPTimeout bounds a single HTTP round trip.
	HTTPTimeout time.Duration
	// PrintRequests and PrintResponses enable verbose transport logging.
	PrintRequests  bool
	PrintResponses bool

	// Nonce tunes the nonce pool manager. Zero value takes the documented
	// defaults.
	Nonce nonce.Config
	// RateLimit tunes the shared backoff limiter. Zero value takes the
	// documented defaults.
	RateLimit ratelimit.Config
}

func (c *Config) normalize() error {
	c.DirectoryURL = strings.TrimSpace(c.DirectoryURL)
	if c.DirectoryURL == "" {
		return fmt.Errorf("acmeclient: DirectoryURL must not be empty")
	}
	if _, err := url.Parse(c.DirectoryURL); err != nil {
		return fmt.Errorf("acmeclient: DirectoryURL invalid: %w", err)
	}
	return nil
}

// Client is a ready-to-use ACME v2 client bound to one server directory. It
// holds no Account by itself; call NewAccount to obtain an *Account handle
// for signing operations, and EnsureRegistered on it to register it.
type Client struct {
	transport *transport.Transport
	limiter   *ratelimit.Limiter
	directory *directory.Directory
	conf      Config
}

// New discovers conf.DirectoryURL's directory and returns a ready Client.
func New(ctx context.Context, conf Config) (*Client, error) {
	if err := conf.normalize(); err != nil {
		return nil, err
	}

	t, err := transport.New(transport.Config{
		CABundlePath:   conf.CABundlePath,
		Timeout:        conf.HTTPTimeout,
		PrintRequests:  conf.PrintRequests,
		PrintResponses: conf.PrintResponses,
	})
	if err != nil {
		return nil, err
	}

	limiter := ratelimit.New(conf.RateLimit)

	dir, err := directory.Fetch(ctx, t, conf.DirectoryURL)
	if err != nil {
		return nil, err
	}

	return &Client{
		transport: t,
		limiter:   limiter,
		directory: dir,
		conf:      conf,
	}, nil
}

// Directory returns the client's cached directory.
func (c *Client) Directory() *directory.Directory { return c.directory }

// Account is a registered (or registerable) Account bound to this Client,
// wiring together the account manager (C7), order engine (C8), and the
// account's own private nonce pool namespace.
type Account struct {
	client  *Client
	nonces  *nonce.Manager
	manager *account.Manager
	engine  *order.Engine
}

// NewAccount builds an Account handle for acct (typically created with
// resources.NewAccount) against this Client's directory. It does not
// register the account with the server; call EnsureRegistered for that.
func (c *Client) NewAccount(acct *resources.Account) *Account {
	// NonceFetcher only closes over the transport/limiter/directory, so it
	// can be obtained before the pool it will refill exists.
	bootstrap := account.New(c.transport, nil, c.limiter, c.directory, acct)

	nonceConf := c.conf.Nonce
	nonceConf.Fetch = bootstrap.NonceFetcher()
	nonces := nonce.New(nonceConf)

	mgr := account.New(c.transport, nonces, c.limiter, c.directory, acct)

	return &Account{
		client:  c,
		nonces:  nonces,
		manager: mgr,
		engine:  order.New(mgr),
	}
}

// EnsureRegistered registers the account with the server if it isn't
// already, returning its server-assigned KeyID.
func (a *Account) EnsureRegistered(ctx context.Context) (string, error) {
	return a.manager.EnsureRegistered(ctx)
}

// Signer returns the account's signing key.
func (a *Account) Signer() crypto.Signer { return a.manager.Account().Signer }

// Rollover replaces the account's signing key with newSigner.
func (a *Account) Rollover(ctx context.Context, newSigner crypto.Signer) error {
	return a.manager.Rollover(ctx, newSigner)
}

// Deactivate deactivates the account with the server.
func (a *Account) Deactivate(ctx context.Context) error {
	return a.manager.Deactivate(ctx)
}

// Close releases the account's nonce pool, rejecting any in-flight waiters.
// Safe to call multiple times.
func (a *Account) Close() {
	a.nonces.Cleanup()
}

// CreateOrder requests a new order for identifiers (e.g.
// {Type: "dns", Value: "example.com"}).
func (a *Account) CreateOrder(ctx context.Context, identifiers []resources.Identifier) (*resources.Order, error) {
	return a.engine.CreateOrder(ctx, a.client.directory.NewOrder, identifiers)
}

// SolveChallenge walks ord's authorizations, fulfilling the challenge of
// type challType via prepare/waitFor, and waits for the order to become
// ready.
func (a *Account) SolveChallenge(ctx context.Context, ord *resources.Order, challType string, prepare order.Prepare, waitFor order.WaitFor) error {
	return a.engine.SolveChallenge(ctx, ord, challType, prepare, waitFor)
}

// WaitOrder polls ord until its status is one of targetStatuses or the
// attempt budget is exhausted.
func (a *Account) WaitOrder(ctx context.Context, ord *resources.Order, targetStatuses []string, maxAttempts int, interval time.Duration) (*resources.Order, error) {
	return a.engine.WaitOrder(ctx, ord, targetStatuses, maxAttempts, interval)
}

// Finalize submits csrDER to ord's finalize URL.
func (a *Account) Finalize(ctx context.Context, ord *resources.Order, csrDER []byte) (*resources.Order, error) {
	return a.engine.Finalize(ctx, ord, csrDER)
}

// DownloadCertificate fetches the PEM certificate chain for a valid order.
func (a *Account) DownloadCertificate(ctx context.Context, ord *resources.Order) ([]byte, error) {
	return a.engine.DownloadCertificate(ctx, ord)
}

// RevokeCertificate revokes certDER, optionally with a CRL reason code.
func (a *Account) RevokeCertificate(ctx context.Context, certDER []byte, reason *int) error {
	return a.engine.RevokeCertificate(ctx, a.client.directory.RevokeCert, certDER, reason)
}

// KeyAuthorization computes the key authorization for a challenge token.
func (a *Account) KeyAuthorization(token string) (string, error) {
	return a.manager.KeyAuthorization(token)
}

// PrepareHTTP01 computes the http-01 publication target/value for a
// challenge token against identifier.
func (a *Account) PrepareHTTP01(identifier, token string) (challenge.Prepared, error) {
	keyAuth, err := a.manager.KeyAuthorization(token)
	if err != nil {
		return challenge.Prepared{}, err
	}
	return challenge.HTTP01(keyAuth, identifier, token), nil
}

// PrepareDNS01 computes the dns-01 publication owner name/value for a
// challenge token against identifier.
func (a *Account) PrepareDNS01(identifier, token string) (challenge.Prepared, error) {
	keyAuth, err := a.manager.KeyAuthorization(token)
	if err != nil {
		return challenge.Prepared{}, err
	}
	return challenge.DNS01(keyAuth, identifier), nil
}
