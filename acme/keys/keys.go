// Package keys offers utility functions for working with crypto.Signers,
// JWKs, JWK thumbprints, and the PEM/DER serialization forms used to persist
// an ACME account keypair between process runs.
package keys

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"fmt"

	jose "github.com/go-jose/go-jose/v4"
)

// Algo names accepted by NewSigner. These mirror the AccountKeyPair
// algorithms enumerated for the ACME account key.
const (
	ECDSAP256 = "ecdsa-p256"
	ECDSAP384 = "ecdsa-p384"
	ECDSAP521 = "ecdsa-p521"
	RSA2048   = "rsa-2048"
	RSA3072   = "rsa-3072"
	RSA4096   = "rsa-4096"
)

// SigAlgForKey returns the JWS signature algorithm implied by the given
// signer's key type and (for ECDSA) curve. RSA keys always use RS256 — RSA-PSS
// is not required by this client.
func SigAlgForKey(signer crypto.Signer) (jose.SignatureAlgorithm, error) {
	switch k := signer.(type) {
	case *ecdsa.PrivateKey:
		switch k.Curve {
		case elliptic.P256():
			return jose.ES256, nil
		case elliptic.P384():
			return jose.ES384, nil
		case elliptic.P521():
			return jose.ES512, nil
		default:
			return "", fmt.Errorf("keys: unsupported ECDSA curve %s", k.Curve.Params().Name)
		}
	case *rsa.PrivateKey:
		return jose.RS256, nil
	default:
		return "", fmt.Errorf("keys: unsupported signer type %T", signer)
	}
}

// JWKJSON marshals the public JWK for a signer to JSON text.
func JWKJSON(signer crypto.Signer) (string, error) {
	jwk, err := JWKForSigner(signer)
	if err != nil {
		return "", err
	}
	jwkJSON, err := json.Marshal(&jwk)
	if err != nil {
		return "", err
	}
	return string(jwkJSON), nil
}

// JWKThumbprintBytes computes the RFC 7638 SHA-256 thumbprint of a signer's
// public key.
func JWKThumbprintBytes(signer crypto.Signer) ([]byte, error) {
	jwk, err := JWKForSigner(signer)
	if err != nil {
		return nil, err
	}
	return jwk.Thumbprint(crypto.SHA256)
}

// JWKThumbprint returns the base64url (no padding) encoded JWK thumbprint.
func JWKThumbprint(signer crypto.Signer) (string, error) {
	thumbprintBytes, err := JWKThumbprintBytes(signer)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(thumbprintBytes), nil
}

// KeyAuth computes the key authorization for a challenge token:
// token + "." + base64url(JWK thumbprint).
func KeyAuth(signer crypto.Signer, token string) (string, error) {
	thumbprint, err := JWKThumbprint(signer)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s.%s", token, thumbprint), nil
}

// DNS01Digest computes base64url(SHA-256(keyAuthorization)), the value
// published in the _acme-challenge TXT record for dns-01.
func DNS01Digest(keyAuthorization string) string {
	sum := sha256.Sum256([]byte(keyAuthorization))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// TLSALPN01Digest computes the raw SHA-256 digest of the key authorization
// used for the tls-alpn-01 "acmeIdentifier" certificate extension.
func TLSALPN01Digest(keyAuthorization string) [32]byte {
	return sha256.Sum256([]byte(keyAuthorization))
}

// JWKForSigner returns the public JWK representation of a signer.
func JWKForSigner(signer crypto.Signer) (jose.JSONWebKey, error) {
	alg, err := SigAlgForKey(signer)
	if err != nil {
		return jose.JSONWebKey{}, err
	}
	return jose.JSONWebKey{
		Key:       signer.Public(),
		Algorithm: string(alg),
	}, nil
}

// SigningKeyForSigner builds the jose.SigningKey used to produce a JWS with
// the given signer. If keyID is non-empty it is embedded in the JWK (used for
// the "kid" addressed signing path); pass an empty keyID when the caller
// instead sets an explicit "kid" protected header or embeds the JWK directly.
func SigningKeyForSigner(signer crypto.Signer, keyID string) (jose.SigningKey, error) {
	alg, err := SigAlgForKey(signer)
	if err != nil {
		return jose.SigningKey{}, err
	}
	jwk := jose.JSONWebKey{
		Key:       signer,
		Algorithm: string(alg),
		KeyID:     keyID,
	}
	return jose.SigningKey{
		Key:       jwk,
		Algorithm: alg,
	}, nil
}

// MarshalSigner serializes a signer's private key to DER along with a string
// tag identifying its type, suitable for caller-owned persistence.
func MarshalSigner(signer crypto.Signer) ([]byte, string, error) {
	switch k := signer.(type) {
	case *ecdsa.PrivateKey:
		keyBytes, err := x509.MarshalECPrivateKey(k)
		return keyBytes, "ecdsa", err
	case *rsa.PrivateKey:
		return x509.MarshalPKCS1PrivateKey(k), "rsa", nil
	default:
		return nil, "", fmt.Errorf("keys: signer was unknown type: %T", k)
	}
}

// UnmarshalSigner parses a DER private key previously produced by
// MarshalSigner.
func UnmarshalSigner(keyBytes []byte, keyType string) (crypto.Signer, error) {
	switch keyType {
	case "ecdsa":
		return x509.ParseECPrivateKey(keyBytes)
	case "rsa":
		return x509.ParsePKCS1PrivateKey(keyBytes)
	default:
		return nil, fmt.Errorf("keys: unknown key type %q", keyType)
	}
}

// SignerToPEM renders a signer's private key as a PEM block.
func SignerToPEM(signer crypto.Signer) (string, error) {
	var keyBytes []byte
	var keyHeader string
	var err error
	switch k := signer.(type) {
	case *ecdsa.PrivateKey:
		keyBytes, err = x509.MarshalECPrivateKey(k)
		keyHeader = "EC PRIVATE KEY"
	case *rsa.PrivateKey:
		keyBytes = x509.MarshalPKCS1PrivateKey(k)
		keyHeader = "RSA PRIVATE KEY"
	default:
		err = fmt.Errorf("keys: unknown key type: %T", k)
	}
	if err != nil {
		return "", err
	}
	pemBytes := pem.EncodeToMemory(&pem.Block{
		Type:  keyHeader,
		Bytes: keyBytes,
	})
	return string(pemBytes), nil
}

// NewSigner generates a fresh keypair of the requested algorithm. algo must
// be one of the constants above.
func NewSigner(algo string) (crypto.Signer, error) {
	switch algo {
	case ECDSAP256:
		return ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	case ECDSAP384:
		return ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	case ECDSAP521:
		return ecdsa.GenerateKey(elliptic.P521(), rand.Reader)
	case RSA2048:
		return rsa.GenerateKey(rand.Reader, 2048)
	case RSA3072:
		return rsa.GenerateKey(rand.Reader, 3072)
	case RSA4096:
		return rsa.GenerateKey(rand.Reader, 4096)
	default:
		return nil, fmt.Errorf("keys: unknown algorithm %q", algo)
	}
}
