package resources

// Challenge type names. See https://tools.ietf.org/html/rfc8555#section-8
const (
	ChallengeHTTP01    = "http-01"
	ChallengeDNS01     = "dns-01"
	ChallengeTLSALPN01 = "tls-alpn-01"
)

// Challenge status values. See
// https://tools.ietf.org/html/rfc8555#section-7.1.6
const (
	ChallengePending    = "pending"
	ChallengeProcessing = "processing"
	ChallengeValid      = "valid"
	ChallengeInvalid    = "invalid"
)

// The ACME Challenge resource represents an action that the client must take
// to authorize a given account for a specific identifier in order to issue
// a certificate containing that identifier.
//
// See https://tools.ietf.org/html/rfc8555#section-7.1.5 and
// https://tools.ietf.org/html/rfc8555#section-8
type Challenge struct {
	// The Type of the challenge ("http-01", "dns-01", "tls-alpn-01", or
	// something the server supports that this client doesn't recognize).
	Type string `json:"type"`
	// The URL of the challenge.
	URL string `json:"url"`
	// The Token used for constructing the challenge response.
	Token string `json:"token"`
	// The Status of the challenge.
	Status string `json:"status"`
	// An RFC 3339 timestamp of when the challenge was validated, present only
	// when Status is "valid".
	Validated string `json:"validated,omitempty"`
	// The problem document associated with an invalid challenge.
	Error *Problem `json:"error,omitempty"`
}

// String returns the URL of the Challenge.
func (c Challenge) String() string {
	return c.URL
}
