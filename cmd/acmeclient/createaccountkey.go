package main

import (
	"flag"
	"fmt"

	"github.com/fatih/color"

	"github.com/acmego/acmeclient/acme/keys"
)

func runCreateAccountKey(args []string) error {
	fs := flag.NewFlagSet("create-account-key", flag.ExitOnError)
	output := fs.String("output", "account.key.pem", "file path to write the new account key to")
	algo := fs.String("algo", keys.ECDSAP256, "account key algorithm (ecdsa-p256, ecdsa-p384, ecdsa-p521, rsa-2048, rsa-3072, rsa-4096)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	signer, err := keys.NewSigner(*algo)
	if err != nil {
		return err
	}
	if err := writeSignerPEM(*output, signer); err != nil {
		return fmt.Errorf("writing %q: %w", *output, err)
	}

	color.New(color.FgGreen).Printf("wrote new %s account key to %s\n", *algo, *output)
	return nil
}
