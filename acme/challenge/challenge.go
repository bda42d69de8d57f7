// Package challenge computes the publication target and value for each
// ACME challenge type. These are pure functions: publishing the record or
// file and checking for its visibility is the caller's responsibility (the
// order engine's prepare/waitFor callbacks).
package challenge

import (
	"github.com/miekg/dns"

	"github.com/acmego/acmeclient/acme/keys"
)

// Prepared is the {target, value} (plus optional additional data) triple an
// engine caller needs to publish a challenge response.
type Prepared struct {
	// Target is where the response must be published: an HTTP path for
	// http-01, a DNS owner name for dns-01.
	Target string
	// Value is the content to publish at Target.
	Value string
	// Additional carries type-specific extra data; for tls-alpn-01 it is
	// unused since the raw digest is returned directly by TLSALPN01.
	Additional string
}

// HTTP01 computes the http-01 publication target and value for identifier
// (a DNS name) and a challenge token.
//
// The target is the well-known HTTP URL the validating CA will request over
// port 80 on the identifier's host; the value is the raw key authorization
// that must be served back verbatim as the response body.
func HTTP01(keyAuthorization, identifier, token string) Prepared {
	return Prepared{
		Target: "http://" + identifier + "/.well-known/acme-challenge/" + token,
		Value:  keyAuthorization,
	}
}

// DNS01 computes the dns-01 publication owner name and TXT record value for
// identifier and a challenge's key authorization.
func DNS01(keyAuthorization, identifier string) Prepared {
	owner := dns.Fqdn("_acme-challenge." + identifier)
	return Prepared{
		Target: owner,
		Value:  keys.DNS01Digest(keyAuthorization),
	}
}

// TLSALPN01 returns the raw SHA-256 digest of the key authorization that
// must be embedded in the self-signed certificate's
// id-pe-acmeIdentifier extension presented during the tls-alpn-01
// handshake, keyed by the SNI hostname (identifier) the CA will dial.
func TLSALPN01(keyAuthorization, identifier string) (sni string, digest [32]byte) {
	return dns.Fqdn(identifier), keys.TLSALPN01Digest(keyAuthorization)
}
