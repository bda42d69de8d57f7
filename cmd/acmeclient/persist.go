package main

import (
	"crypto"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"

	"github.com/acmego/acmeclient/acme/keys"
)

// loadOrCreateSigner reads a PEM-encoded private key from path, or generates
// a fresh key of the given algorithm and writes it to path if the file
// doesn't exist yet.
func loadOrCreateSigner(path, algo string) (crypto.Signer, bool, error) {
	buf, err := os.ReadFile(path)
	if err == nil {
		signer, parseErr := signerFromPEM(buf)
		if parseErr != nil {
			return nil, false, fmt.Errorf("parsing %q: %w", path, parseErr)
		}
		return signer, false, nil
	}
	if !os.IsNotExist(err) {
		return nil, false, err
	}

	signer, err := keys.NewSigner(algo)
	if err != nil {
		return nil, false, err
	}
	if err := writeSignerPEM(path, signer); err != nil {
		return nil, false, err
	}
	return signer, true, nil
}

func signerFromPEM(buf []byte) (crypto.Signer, error) {
	block, _ := pem.Decode(buf)
	if block == nil {
		return nil, fmt.Errorf("no PEM block found")
	}
	switch block.Type {
	case "EC PRIVATE KEY":
		return x509.ParseECPrivateKey(block.Bytes)
	case "RSA PRIVATE KEY":
		return x509.ParsePKCS1PrivateKey(block.Bytes)
	case "PRIVATE KEY":
		key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, err
		}
		signer, ok := key.(crypto.Signer)
		if !ok {
			return nil, fmt.Errorf("PKCS8 key is not a crypto.Signer")
		}
		return signer, nil
	default:
		return nil, fmt.Errorf("unsupported PEM block type %q", block.Type)
	}
}

func writeSignerPEM(path string, signer crypto.Signer) (err error) {
	pemText, err := keys.SignerToPEM(signer)
	if err != nil {
		return err
	}
	return os.WriteFile(path, []byte(pemText), 0o600)
}

// writeKeyPEM writes an arbitrary certificate-request key (ECDSA or RSA) to
// path in PKCS#8 PEM form, distinct from the account key's format so the two
// are never confused on disk.
func writeKeyPEM(path string, signer crypto.Signer) error {
	der, err := x509.MarshalPKCS8PrivateKey(signer)
	if err != nil {
		return err
	}
	block := &pem.Block{Type: "PRIVATE KEY", Bytes: der}
	return os.WriteFile(path, pem.EncodeToMemory(block), 0o600)
}
