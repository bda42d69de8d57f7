package main

import (
	"bufio"
	"context"
	"encoding/base64"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/abiosoft/ishell"
	"github.com/abiosoft/readline"
	"github.com/fatih/color"

	acmeclient "github.com/acmego/acmeclient"
	"github.com/acmego/acmeclient/acme/keys"
	"github.com/acmego/acmeclient/acme/resources"
)

const basePrompt = "[ acmeclient ] > "

// session holds the state a running interactive shell mutates: the engine
// Client, the active Account (once registered), and the most recently
// created Order (the implicit target of solve/finalize/download).
type session struct {
	client  *acmeclient.Client
	account *acmeclient.Account
	order   *resources.Order
}

// runInteractive starts an ishell-based REPL over the same engine the cert
// command uses, prompting for whatever flags were not supplied up front.
func runInteractive(args []string) error {
	fs := flag.NewFlagSet("interactive", flag.ExitOnError)
	directoryURL := fs.String("directory", "", "ACME directory URL")
	staging := fs.Bool("staging", false, "use the Let's Encrypt staging directory")
	production := fs.Bool("production", false, "use the Let's Encrypt production directory")
	accountKeyPath := fs.String("account-key", "account.key.pem", "file path to the account key (created if absent)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	dirURL, err := resolveDirectory(*directoryURL, *staging, *production)
	if err != nil {
		dirURL = promptString("directory URL", stagingDirectory)
	}

	ctx := context.Background()
	client, err := acmeclient.New(ctx, acmeclient.Config{DirectoryURL: dirURL})
	if err != nil {
		return fmt.Errorf("connecting to %q: %w", dirURL, err)
	}

	sess := &session{client: client}

	shell := ishell.NewWithConfig(&readline.Config{Prompt: basePrompt})
	sess.addCommands(shell, *accountKeyPath)

	shell.Println("acmeclient interactive shell. Type 'help' for commands, 'exit' to quit.")
	shell.Run()
	shell.Println("goodbye")

	if sess.account != nil {
		sess.account.Close()
	}
	return nil
}

func promptString(label, def string) string {
	fmt.Printf("%s [%s]: ", label, def)
	reader := bufio.NewReader(os.Stdin)
	line, _ := reader.ReadString('\n')
	line = strings.TrimSpace(line)
	if line == "" {
		return def
	}
	return line
}

func (sess *session) addCommands(shell *ishell.Shell, accountKeyPath string) {
	shell.AddCmd(&ishell.Cmd{
		Name: "register",
		Help: "register (or load) the account and agree to the ToS",
		Func: func(c *ishell.Context) {
			if err := sess.register(c, accountKeyPath); err != nil {
				c.Println(color.RedString("error: %s", err))
			}
		},
	})

	shell.AddCmd(&ishell.Cmd{
		Name: "new-order",
		Help: "new-order <domain>[,<domain>...] create an order for one or more DNS identifiers",
		Func: func(c *ishell.Context) {
			if err := sess.newOrder(c); err != nil {
				c.Println(color.RedString("error: %s", err))
			}
		},
	})

	shell.AddCmd(&ishell.Cmd{
		Name: "solve",
		Help: "solve <http-01|dns-01> walk the active order's authorizations and satisfy them",
		Func: func(c *ishell.Context) {
			if err := sess.solve(c); err != nil {
				c.Println(color.RedString("error: %s", err))
			}
		},
	})

	shell.AddCmd(&ishell.Cmd{
		Name: "finalize",
		Help: "finalize <cert-algo> generate a certificate key, submit the CSR, and download the chain",
		Func: func(c *ishell.Context) {
			if err := sess.finalize(c); err != nil {
				c.Println(color.RedString("error: %s", err))
			}
		},
	})

	shell.AddCmd(&ishell.Cmd{
		Name: "status",
		Help: "print the active account and order state",
		Func: func(c *ishell.Context) {
			sess.status(c)
		},
	})
}

func (sess *session) register(c *ishell.Context, accountKeyPath string) error {
	email := promptString("contact email (blank for none)", "")
	signer, created, err := loadOrCreateSigner(accountKeyPath, keys.ECDSAP256)
	if err != nil {
		return err
	}
	if created {
		c.Println(color.YellowString("generated new account key at %s", accountKeyPath))
	}

	var contacts []string
	if email != "" {
		contacts = []string{email}
	}
	acct := resources.NewAccount(contacts, signer)

	if sess.client.Directory().ExternalAccountRequired() {
		kid := promptString("EAB kid", "")
		hmacRaw := promptString("EAB HMAC key (base64url)", "")
		hmacKey, err := base64.RawURLEncoding.DecodeString(hmacRaw)
		if err != nil {
			return fmt.Errorf("decoding EAB HMAC key: %w", err)
		}
		acct.EAB = &resources.EAB{Kid: kid, HMACKey: hmacKey}
	}

	sess.account = sess.client.NewAccount(acct)
	keyID, err := sess.account.EnsureRegistered(context.Background())
	if err != nil {
		sess.account = nil
		return err
	}
	c.Println(color.GreenString("account ready: %s", keyID))
	return nil
}

func (sess *session) newOrder(c *ishell.Context) error {
	if sess.account == nil {
		return fmt.Errorf("run 'register' first")
	}
	raw := strings.Join(c.Args, " ")
	if raw == "" {
		raw = promptString("domain(s), comma-separated", "")
	}
	identifiers := parseDomains(raw)
	if len(identifiers) == 0 {
		return fmt.Errorf("no identifiers given")
	}

	ord, err := sess.account.CreateOrder(context.Background(), identifiers)
	if err != nil {
		return err
	}
	sess.order = ord
	c.Println(color.GreenString("order created: %s (status %s)", ord.URL, ord.Status))
	return nil
}

func (sess *session) solve(c *ishell.Context) error {
	if sess.account == nil || sess.order == nil {
		return fmt.Errorf("run 'register' and 'new-order' first")
	}
	challType := strings.TrimSpace(strings.Join(c.Args, " "))
	if challType == "" {
		challType = promptString("challenge type", resources.ChallengeHTTP01)
	}

	prepare, waitFor, cleanup, err := challengeCallbacks(challType, sess.account)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx := context.Background()
	if err := sess.account.SolveChallenge(ctx, sess.order, challType, prepare, waitFor); err != nil {
		return err
	}
	c.Println(color.GreenString("all authorizations valid"))
	return nil
}

func (sess *session) finalize(c *ishell.Context) error {
	if sess.account == nil || sess.order == nil {
		return fmt.Errorf("run 'register', 'new-order', and 'solve' first")
	}
	certAlgo := strings.TrimSpace(strings.Join(c.Args, " "))
	if certAlgo == "" {
		certAlgo = promptString("certificate key algorithm", keys.ECDSAP256)
	}

	certSigner, err := keys.NewSigner(certAlgo)
	if err != nil {
		return err
	}

	csrDER, err := buildCSR(certSigner, sess.order.Identifiers)
	if err != nil {
		return err
	}

	ctx := context.Background()
	ord, err := sess.account.Finalize(ctx, sess.order, csrDER)
	if err != nil {
		return err
	}
	ord, err = sess.account.WaitOrder(ctx, ord, []string{resources.StatusValid}, 60, 5*time.Second)
	if err != nil {
		return err
	}
	sess.order = ord

	chain, err := sess.account.DownloadCertificate(ctx, ord)
	if err != nil {
		return err
	}

	output := promptString("certificate output path", "cert.pem")
	if err := os.WriteFile(output, chain, 0o644); err != nil {
		return err
	}
	keyPath := output + ".key.pem"
	if err := writeKeyPEM(keyPath, certSigner); err != nil {
		return err
	}
	c.Println(color.GreenString("wrote %s (key: %s)", output, keyPath))
	return nil
}

func (sess *session) status(c *ishell.Context) {
	if sess.account == nil {
		c.Println("no active account")
		return
	}
	c.Println(color.CyanString("account key: %s", sess.account.Signer().Public()))
	if sess.order == nil {
		c.Println("no active order")
		return
	}
	c.Printf("order: %s (status %s)\n", sess.order.URL, sess.order.Status)
}
