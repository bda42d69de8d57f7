package resources

// Order status values. See https://tools.ietf.org/html/rfc8555#section-7.1.6
const (
	StatusPending    = "pending"
	StatusReady      = "ready"
	StatusProcessing = "processing"
	StatusValid      = "valid"
	StatusInvalid    = "invalid"

	StatusDeactivated = "deactivated"
	StatusExpired     = "expired"
	StatusRevoked     = "revoked"
)

// Identifier represents a subject identifier that can be included in
// a certificate. In practice almost all ACME servers only support "dns"
// type identifiers.
//
// See https://tools.ietf.org/html/rfc8555#section-9.7.7
type Identifier struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// The Order resource represents a collection of identifiers that an account
// wishes to obtain a certificate for.
//
// See https://tools.ietf.org/html/rfc8555#section-7.1.3
type Order struct {
	// The server-assigned URL identifying the Order. Not present on the wire;
	// populated from the response's Location header.
	URL string `json:"-"`
	// The Status of the Order.
	Status string `json:"status"`
	// The Identifiers the Order will issue a certificate for once ready.
	Identifiers []Identifier `json:"identifiers"`
	// A list of URLs for Authorization resources for the Order's identifiers.
	Authorizations []string `json:"authorizations"`
	// A URL used to finalize the Order with a CSR once ready.
	Finalize string `json:"finalize"`
	// A URL used to fetch the issued certificate chain once the Order is
	// valid.
	Certificate string `json:"certificate,omitempty"`
	// RFC 3339 timestamps bounding the requested certificate's validity, if
	// the client specified them at order-creation time (rarely supported).
	NotBefore string `json:"notBefore,omitempty"`
	NotAfter  string `json:"notAfter,omitempty"`
	// Error carries the problem document explaining why the order became
	// invalid, if any.
	Error *Problem `json:"error,omitempty"`
}

// String returns the Order's URL.
func (o Order) String() string {
	return o.URL
}

// AuthorizationsValid reports whether every referenced authorization is
// recorded as valid in the provided map of URL -> status.
func (o Order) AuthorizationsValid(statusByURL map[string]string) bool {
	for _, u := range o.Authorizations {
		if statusByURL[u] != StatusValid {
			return false
		}
	}
	return true
}
