// Package jws produces the flattened JSON Web Signatures ACME requires for
// every authenticated request, addressed either by an embedded JWK (for
// newAccount and key-rollover's inner JWS) or by a server-assigned "kid".
package jws

import (
	"crypto"
	"crypto/hmac"
	"crypto/sha256"
	"fmt"

	jose "github.com/go-jose/go-jose/v4"

	"github.com/acmego/acmeclient/acme/keys"
)

// SignResult carries both the parsed and serialized form of a produced JWS.
type SignResult struct {
	URL        string
	Serialized []byte
	JWS        *jose.JSONWebSignature
}

// SignEmbedded produces a JWS with the signer's public key embedded as
// a "jwk" protected header, used for newAccount (no kid exists yet). The
// inner JWS of an account-key rollover uses SignEmbeddedNoNonce instead.
func SignEmbedded(url string, payload []byte, signer crypto.Signer, nonce string) (*SignResult, error) {
	signingKey, err := keys.SigningKeyForSigner(signer, "")
	if err != nil {
		return nil, err
	}

	joseSigner, err := jose.NewSigner(signingKey, &jose.SignerOptions{
		EmbedJWK: true,
		ExtraHeaders: map[jose.HeaderKey]any{
			"url":   url,
			"nonce": nonce,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("jws: building embedded-key signer: %w", err)
	}

	return sign(joseSigner, url, payload)
}

// SignEmbeddedNoNonce produces an embedded-JWK JWS with no "nonce" protected
// header, the form RFC 8555 §7.3.5 requires for the inner JWS of an
// account-key rollover (only the outer JWS carries a nonce).
func SignEmbeddedNoNonce(url string, payload []byte, signer crypto.Signer) (*SignResult, error) {
	signingKey, err := keys.SigningKeyForSigner(signer, "")
	if err != nil {
		return nil, err
	}

	joseSigner, err := jose.NewSigner(signingKey, &jose.SignerOptions{
		EmbedJWK: true,
		ExtraHeaders: map[jose.HeaderKey]any{
			"url": url,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("jws: building embedded-key signer: %w", err)
	}

	return sign(joseSigner, url, payload)
}

// SignKeyID produces a JWS addressed by "kid", the form used for every
// authenticated request after an account has a server-assigned KeyID.
func SignKeyID(url string, payload []byte, signer crypto.Signer, kid string, nonce string) (*SignResult, error) {
	if kid == "" {
		return nil, fmt.Errorf("jws: empty kid")
	}

	signingKey, err := keys.SigningKeyForSigner(signer, kid)
	if err != nil {
		return nil, err
	}

	joseSigner, err := jose.NewSigner(signingKey, &jose.SignerOptions{
		ExtraHeaders: map[jose.HeaderKey]any{
			"url":   url,
			"nonce": nonce,
			"kid":   kid,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("jws: building kid signer: %w", err)
	}

	return sign(joseSigner, url, payload)
}

// SignEAB produces the HS256 JWS required for External Account Binding: its
// payload is the account's public JWK, its protected header is
// {alg:"HS256", kid:<eab kid>, url:<newAccount url>}, and it is signed with
// the base64url-decoded EAB HMAC key rather than an asymmetric key.
func SignEAB(newAccountURL string, accountSigner crypto.Signer, eabKid string, hmacKey []byte) (*SignResult, error) {
	accountJWK, err := keys.JWKForSigner(accountSigner)
	if err != nil {
		return nil, err
	}
	payload, err := accountJWK.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("jws: marshaling account JWK for EAB: %w", err)
	}

	hmacSigningKey := jose.SigningKey{
		Algorithm: jose.HS256,
		Key:       hmacKey,
	}

	joseSigner, err := jose.NewSigner(hmacSigningKey, &jose.SignerOptions{
		ExtraHeaders: map[jose.HeaderKey]any{
			"url": newAccountURL,
			"kid": eabKid,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("jws: building EAB signer: %w", err)
	}

	return sign(joseSigner, newAccountURL, payload)
}

func sign(signer jose.Signer, url string, payload []byte) (*SignResult, error) {
	signed, err := signer.Sign(payload)
	if err != nil {
		return nil, fmt.Errorf("jws: signing: %w", err)
	}

	serialized := []byte(signed.FullSerialize())

	parsed, err := jose.ParseSigned(string(serialized), []jose.SignatureAlgorithm{
		jose.ES256, jose.ES384, jose.ES512, jose.RS256, jose.HS256,
	})
	if err != nil {
		return nil, fmt.Errorf("jws: reparsing signed result: %w", err)
	}

	return &SignResult{URL: url, Serialized: serialized, JWS: parsed}, nil
}

// verifyHMAC is a small helper exercised by tests to confirm an EAB JWS was
// signed with the expected key, independent of go-jose's own verification
// path.
func verifyHMAC(key []byte, signingInput, signature []byte) bool {
	mac := hmac.New(sha256.New, key)
	mac.Write(signingInput)
	expected := mac.Sum(nil)
	return hmac.Equal(expected, signature)
}
