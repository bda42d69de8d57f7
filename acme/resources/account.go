// Package resources provides types for representing and interacting with ACME
// protocol resources as defined by RFC 8555.
package resources

import (
	"crypto"
	"fmt"
)

// EAB holds the External Account Binding credentials a CA issues
// out-of-band and which must be proven at account-registration time. Both
// fields are opaque to the engine: Kid identifies the pre-provisioned
// external account and HMACKey is the base64url-decoded MAC key used to
// sign the EAB JWS.
type EAB struct {
	Kid     string
	HMACKey []byte
}

// Account holds information related to a single ACME Account resource. If the
// account has an empty KeyID it has not yet been created server-side with the
// ACME server.
//
// The KeyID field holds the server-assigned Account URL that is assigned at
// the time of account creation and used as the JWS "kid" for authenticating
// ACME requests with the Account's registered keypair. Once set it is
// immutable for the lifetime of the keypair (see spec Account invariants).
//
// The Signer field is the private key used for the ACME account's keypair.
// The public component is computed from this private key automatically. It
// is never reused for certificate keys.
//
// Persisting an Account (the key, the KeyID, outstanding Order URLs) across
// process restarts is the caller's responsibility; this package only models
// the resource in memory.
type Account struct {
	// KeyID is the server-assigned Account URL. Empty until registration
	// succeeds.
	KeyID string
	// Contact is zero or more "mailto:" addresses.
	Contact []string
	// TOSAgreed records whether the caller has agreed to the CA's terms of
	// service.
	TOSAgreed bool
	// EAB is non-nil when the account was (or must be) registered with an
	// External Account Binding.
	EAB *EAB
	// Signer is the account keypair. Exactly one per Account.
	Signer crypto.Signer
	// Orders is the set of Order URLs this account has created.
	Orders []string
}

// String returns the Account's KeyID, or an empty string if it has not been
// registered with the ACME server yet.
func (a Account) String() string {
	return a.KeyID
}

// Registered reports whether the Account has a server-assigned KeyID.
func (a Account) Registered() bool {
	return a.KeyID != ""
}

// OrderURL returns the Order URL at index i. An error is returned if the
// Account has no Orders or the index is out of bounds.
func (a *Account) OrderURL(i int) (string, error) {
	if len(a.Orders) == 0 {
		return "", fmt.Errorf("account has no orders")
	}
	if i < 0 || i >= len(a.Orders) {
		return "", fmt.Errorf("order index must be 0 <= x < %d", len(a.Orders))
	}
	return a.Orders[i], nil
}

// NewAccount creates an in-memory Account. The Account is not registered with
// the ACME server until the account manager's EnsureRegistered is called
// with it.
func NewAccount(emails []string, signer crypto.Signer) *Account {
	var contacts []string
	for _, e := range emails {
		if e == "" {
			continue
		}
		contacts = append(contacts, fmt.Sprintf("mailto:%s", e))
	}

	return &Account{
		Contact:   contacts,
		TOSAgreed: true,
		Signer:    signer,
	}
}
