// The acmeclient command line tool is a thin front-end over the
// acmeclient engine: it owns flag parsing, key/CSR/certificate persistence,
// and challenge publication, and delegates every protocol decision to the
// engine.
package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "cert":
		err = runCert(os.Args[2:])
	case "create-account-key":
		err = runCreateAccountKey(os.Args[2:])
	case "interactive":
		err = runInteractive(os.Args[2:])
	case "-h", "--help", "help":
		usage()
		return
	default:
		fmt.Fprintf(os.Stderr, "acmeclient: unknown command %q\n", os.Args[1])
		usage()
		os.Exit(2)
	}

	if err != nil {
		color.New(color.FgRed).Fprintf(os.Stderr, "acmeclient: %s\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `acmeclient is a minimal ACME v2 client.

Usage:
  acmeclient cert --domain example.com --email you@example.com --staging [flags]
  acmeclient create-account-key --output account.key.pem [flags]
  acmeclient interactive [flags]

Run "acmeclient <command> -h" for the flags of a specific command.`)
}
