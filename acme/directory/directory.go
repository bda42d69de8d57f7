// Package directory fetches and caches the ACME directory resource
// (RFC 8555 §7.1.1) for a client instance, validating that the endpoints the
// rest of this module depends on are present.
package directory

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/acmego/acmeclient/acme/transport"
)

// Directory is the set of endpoint URLs and metadata advertised by an ACME
// server's directory object. Unrecognized directory fields are preserved in
// Raw for callers that need them (e.g. a CLI printing the full document).
type Directory struct {
	NewNonce    string `json:"newNonce"`
	NewAccount  string `json:"newAccount"`
	NewOrder    string `json:"newOrder"`
	NewAuthz    string `json:"newAuthz"`
	RevokeCert  string `json:"revokeCert"`
	KeyChange   string `json:"keyChange"`
	RenewalInfo string `json:"renewalInfo"`

	Meta struct {
		TermsOfService          string   `json:"termsOfService"`
		Website                 string   `json:"website"`
		CAAIdentities           []string `json:"caaIdentities"`
		ExternalAccountRequired bool     `json:"externalAccountRequired"`
	} `json:"meta"`

	Raw map[string]any `json:"-"`
}

// Fetch retrieves and validates the directory at url via t. It is an error
// for newNonce, newAccount, newOrder, or revokeCert to be missing: those
// endpoints are required by every other component of this module.
func Fetch(ctx context.Context, t *transport.Transport, url string) (*Directory, error) {
	resp, err := t.Get(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("directory: fetching %q: %w", url, err)
	}
	if resp.Kind != transport.BodyJSON {
		return nil, fmt.Errorf("directory: %q did not return a JSON document", url)
	}

	dir, err := decode(resp.JSON)
	if err != nil {
		return nil, fmt.Errorf("directory: decoding %q: %w", url, err)
	}

	if err := dir.validate(); err != nil {
		return nil, err
	}

	return dir, nil
}

func decode(raw map[string]any) (*Directory, error) {
	buf, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	var dir Directory
	if err := json.Unmarshal(buf, &dir); err != nil {
		return nil, err
	}
	dir.Raw = raw
	return &dir, nil
}

func (d *Directory) validate() error {
	missing := make([]string, 0, 4)
	if d.NewNonce == "" {
		missing = append(missing, "newNonce")
	}
	if d.NewAccount == "" {
		missing = append(missing, "newAccount")
	}
	if d.NewOrder == "" {
		missing = append(missing, "newOrder")
	}
	if d.RevokeCert == "" {
		missing = append(missing, "revokeCert")
	}
	if len(missing) > 0 {
		return fmt.Errorf("directory: server directory is missing required endpoint(s): %v", missing)
	}
	return nil
}

// ExternalAccountRequired reports whether the directory's meta advertises
// that account registration must carry External Account Binding.
func (d *Directory) ExternalAccountRequired() bool {
	return d.Meta.ExternalAccountRequired
}
