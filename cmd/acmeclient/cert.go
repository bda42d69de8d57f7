package main

import (
	"bufio"
	"context"
	"crypto"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"

	acmeclient "github.com/acmego/acmeclient"
	"github.com/acmego/acmeclient/acme/keys"
	"github.com/acmego/acmeclient/acme/order"
	"github.com/acmego/acmeclient/acme/resources"
	"github.com/acmego/acmeclient/internal/cmdutil"
)

const (
	stagingDirectory    = "https://acme-staging-v02.api.letsencrypt.org/directory"
	productionDirectory = "https://acme-v02.api.letsencrypt.org/directory"
)

func runCert(args []string) error {
	fs := flag.NewFlagSet("cert", flag.ExitOnError)

	domain := fs.String("domain", "", "domain name to request a certificate for (comma-separated for multiple SANs)")
	email := fs.String("email", "", "contact email address for account registration")
	staging := fs.Bool("staging", false, "use the Let's Encrypt staging directory")
	production := fs.Bool("production", false, "use the Let's Encrypt production directory")
	directoryURL := fs.String("directory", "", "ACME directory URL (overrides --staging/--production)")
	output := fs.String("output", "cert.pem", "file path to write the issued certificate chain to")
	accountKeyPath := fs.String("account-key", "account.key.pem", "file path to the account key (created if absent)")
	challengeType := fs.String("challenge", resources.ChallengeHTTP01, "challenge type to use (http-01, dns-01)")
	accountAlgo := fs.String("account-algo", keys.ECDSAP256, "account key algorithm, used only when creating a new account key")
	certAlgo := fs.String("cert-algo", keys.ECDSAP256, "certificate key algorithm")
	eabKid := fs.String("eab-kid", "", "External Account Binding key identifier")
	eabHMACKey := fs.String("eab-hmac-key", "", "External Account Binding HMAC key, base64url encoded")
	force := fs.Bool("force", false, "overwrite an existing certificate at --output")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *domain == "" {
		return fmt.Errorf("--domain is required")
	}
	if !*force {
		if _, err := os.Stat(*output); err == nil {
			return fmt.Errorf("%q already exists, use --force to overwrite", *output)
		}
	}

	dirURL, err := resolveDirectory(*directoryURL, *staging, *production)
	if err != nil {
		return err
	}

	accountSigner, created, err := loadOrCreateSigner(*accountKeyPath, *accountAlgo)
	if err != nil {
		return fmt.Errorf("account key: %w", err)
	}
	if created {
		color.New(color.FgYellow).Printf("generated new account key at %s\n", *accountKeyPath)
	}

	ctx := context.Background()

	client, err := acmeclient.New(ctx, acmeclient.Config{DirectoryURL: dirURL})
	if err != nil {
		return fmt.Errorf("connecting to %q: %w", dirURL, err)
	}

	var emails []string
	if *email != "" {
		emails = []string{*email}
	}
	acctResource := resources.NewAccount(emails, accountSigner)
	if *eabKid != "" || *eabHMACKey != "" {
		hmacKey, err := base64.RawURLEncoding.DecodeString(*eabHMACKey)
		if err != nil {
			return fmt.Errorf("--eab-hmac-key: %w", err)
		}
		acctResource.EAB = &resources.EAB{Kid: *eabKid, HMACKey: hmacKey}
	}

	account := client.NewAccount(acctResource)
	defer account.Close()

	keyID, err := account.EnsureRegistered(ctx)
	if err != nil {
		return fmt.Errorf("registering account: %w", err)
	}
	color.New(color.FgGreen).Printf("account ready: %s\n", keyID)

	identifiers := parseDomains(*domain)

	ord, err := account.CreateOrder(ctx, identifiers)
	if err != nil {
		return fmt.Errorf("creating order: %w", err)
	}
	color.New(color.FgGreen).Printf("order created: %s\n", ord.URL)

	prepare, waitFor, cleanup, err := challengeCallbacks(*challengeType, account)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := account.SolveChallenge(ctx, ord, *challengeType, prepare, waitFor); err != nil {
		return fmt.Errorf("solving %s challenges: %w", *challengeType, err)
	}
	color.New(color.FgGreen).Println("all authorizations valid")

	certSigner, err := keys.NewSigner(*certAlgo)
	if err != nil {
		return err
	}
	csrDER, err := buildCSR(certSigner, identifiers)
	if err != nil {
		return fmt.Errorf("building CSR: %w", err)
	}

	ord, err = account.Finalize(ctx, ord, csrDER)
	if err != nil {
		return fmt.Errorf("finalizing order: %w", err)
	}

	ord, err = account.WaitOrder(ctx, ord, []string{resources.StatusValid}, 60, 5*time.Second)
	if err != nil {
		return fmt.Errorf("waiting for order to become valid: %w", err)
	}

	chain, err := account.DownloadCertificate(ctx, ord)
	if err != nil {
		return fmt.Errorf("downloading certificate: %w", err)
	}

	if err := os.WriteFile(*output, chain, 0o644); err != nil {
		return fmt.Errorf("writing %q: %w", *output, err)
	}

	certKeyPath := *output + ".key.pem"
	if err := writeKeyPEM(certKeyPath, certSigner); err != nil {
		return fmt.Errorf("writing %q: %w", certKeyPath, err)
	}

	color.New(color.FgGreen, color.Bold).Printf("issued certificate written to %s (key: %s)\n", *output, certKeyPath)
	return nil
}

func parseDomains(raw string) []resources.Identifier {
	parts := strings.Split(raw, ",")
	identifiers := make([]resources.Identifier, 0, len(parts))
	for _, d := range parts {
		d = strings.TrimSpace(d)
		if d == "" {
			continue
		}
		identifiers = append(identifiers, resources.Identifier{Type: "dns", Value: d})
	}
	return identifiers
}

func resolveDirectory(explicit string, staging, production bool) (string, error) {
	switch {
	case explicit != "":
		return explicit, nil
	case staging:
		return stagingDirectory, nil
	case production:
		return productionDirectory, nil
	default:
		return "", fmt.Errorf("one of --staging, --production, or --directory is required")
	}
}

// buildCSR produces a DER certificate signing request naming the first
// identifier as the CommonName and every identifier as a DNS SAN.
func buildCSR(signer crypto.Signer, identifiers []resources.Identifier) ([]byte, error) {
	if len(identifiers) == 0 {
		return nil, fmt.Errorf("no identifiers to request")
	}
	names := make([]string, len(identifiers))
	for i, id := range identifiers {
		names[i] = id.Value
	}

	tmpl := &x509.CertificateRequest{
		Subject:  pkix.Name{CommonName: names[0]},
		DNSNames: names,
	}
	return x509.CreateCertificateRequest(rand.Reader, tmpl, signer)
}

func challengeCallbacks(challengeType string, account *acmeclient.Account) (order.Prepare, order.WaitFor, func(), error) {
	switch challengeType {
	case resources.ChallengeHTTP01:
		return http01Callbacks()
	case resources.ChallengeDNS01:
		return dns01Callbacks(account)
	default:
		return nil, nil, nil, fmt.Errorf("unsupported challenge type %q", challengeType)
	}
}

// http01Callbacks spins up a plain HTTP server on :80 that serves each
// challenge's key authorization as it is discovered.
func http01Callbacks() (order.Prepare, order.WaitFor, func(), error) {
	mux := http.NewServeMux()
	srv := &http.Server{Addr: ":80", Handler: mux}

	listenErr := make(chan error, 1)
	go func() {
		listenErr <- srv.ListenAndServe()
	}()

	// The server otherwise only stops via the returned cleanup func once
	// solving finishes; catch an operator interrupt so a long validation
	// wait doesn't leave :80 bound after a Ctrl-C.
	go cmdutil.CatchSignals(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	})

	prepare := order.Prepare(func(ctx context.Context, authz *resources.Authorization, chal *resources.Challenge, keyAuth string) error {
		select {
		case err := <-listenErr:
			return fmt.Errorf("http-01 server: %w", err)
		default:
		}
		path := "/.well-known/acme-challenge/" + chal.Token
		mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/octet-stream")
			_, _ = w.Write([]byte(keyAuth))
		})
		return nil
	})

	waitFor := order.WaitFor(func(ctx context.Context, authz *resources.Authorization, chal *resources.Challenge) error {
		return nil
	})

	cleanup := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}

	return prepare, waitFor, cleanup, nil
}

// dns01Callbacks prints the TXT record to publish and blocks on the
// operator pressing Enter once it's live; there is no automated DNS
// provider integration in this thin CLI.
func dns01Callbacks(account *acmeclient.Account) (order.Prepare, order.WaitFor, func(), error) {
	reader := bufio.NewReader(os.Stdin)

	prepare := order.Prepare(func(ctx context.Context, authz *resources.Authorization, chal *resources.Challenge, keyAuth string) error {
		prepared, err := account.PrepareDNS01(authz.Identifier.Value, chal.Token)
		if err != nil {
			return err
		}
		color.New(color.FgCyan).Printf("publish a TXT record named %s with value %s\n", prepared.Target, prepared.Value)
		return nil
	})

	waitFor := order.WaitFor(func(ctx context.Context, authz *resources.Authorization, chal *resources.Challenge) error {
		fmt.Print("press Enter once the record is live: ")
		_, _ = reader.ReadString('\n')
		return nil
	})

	return prepare, waitFor, func() {}, nil
}
