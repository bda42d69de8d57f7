package resources

// Problem is a struct representing an RFC 7807 problem document, extended by
// RFC 8555 §6.7 with ACME-specific fields.
//
// See https://tools.ietf.org/html/rfc8555#section-6.7
type Problem struct {
	// Type is a URN of the form "urn:ietf:params:acme:error:<name>", or
	// a non-ACME URN/URI for errors that don't originate in the ACME layer.
	Type     string `json:"type,omitempty"`
	Title    string `json:"title,omitempty"`
	Detail   string `json:"detail,omitempty"`
	Status   int    `json:"status,omitempty"`
	Instance string `json:"instance,omitempty"`
	// Subproblems is populated for "compound" problems describing more than
	// one error (e.g. a newOrder across multiple identifiers that each fail
	// differently).
	Subproblems []Problem `json:"subproblems,omitempty"`
	// Algorithms is populated only on badSignatureAlgorithm problems and
	// lists the algorithms the server will accept.
	Algorithms []string `json:"algorithms,omitempty"`
	// RetryAfter is parsed from the response's Retry-After header (if any)
	// when the problem accompanies a 429 or 503 response. It is not part of
	// the wire JSON.
	RetryAfter int `json:"-"`
}

// String renders the problem for logging/error messages.
func (p Problem) String() string {
	if p.Detail != "" {
		return p.Type + ": " + p.Detail
	}
	return p.Type
}
