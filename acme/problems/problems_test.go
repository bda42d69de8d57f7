package problems

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/acmego/acmeclient/acme/resources"
)

func TestMapProblemKnownType(t *testing.T) {
	doc := resources.Problem{
		Type:   "urn:ietf:params:acme:error:badNonce",
		Detail: "JWS has an invalid anti-replay nonce",
		Status: 400,
	}
	mapped := MapProblem(doc, 0)
	require.True(t, errors.Is(mapped, BadNonce))
	require.Equal(t, "JWS has an invalid anti-replay nonce", mapped.Detail)
}

func TestMapProblemUnknownTypeFallsBackToGeneric(t *testing.T) {
	doc := resources.Problem{Type: "urn:ietf:params:acme:error:somethingNew", Status: 400}
	mapped := MapProblem(doc, 0)
	require.True(t, errors.Is(mapped, Generic))
}

func TestMapProblemServerMaintenanceFromStatus(t *testing.T) {
	doc := resources.Problem{Type: "", Status: 503}
	mapped := MapProblem(doc, 0)
	require.True(t, errors.Is(mapped, ServerMaintenance))
}

func TestMapProblemCompoundDetection(t *testing.T) {
	doc := resources.Problem{
		Type:   "urn:ietf:params:acme:error:serverInternal",
		Detail: "Errors during validation",
		Status: 500,
		Subproblems: []resources.Problem{
			{Type: "urn:ietf:params:acme:error:dns", Detail: "no such domain", Status: 400},
		},
	}
	mapped := MapProblem(doc, 0)
	require.True(t, errors.Is(mapped, Compound))
	require.Len(t, mapped.Subproblems, 1)
	require.Equal(t, DNS.Kind, mapped.Subproblems[0].Kind)
}

func TestMapProblemServerInternalWithoutSubproblemsStaysServerInternal(t *testing.T) {
	doc := resources.Problem{
		Type:   "urn:ietf:params:acme:error:serverInternal",
		Detail: "boom",
		Status: 500,
	}
	mapped := MapProblem(doc, 0)
	require.True(t, errors.Is(mapped, ServerInternal))
}

func TestIsBadNonceType(t *testing.T) {
	require.True(t, IsBadNonceType("urn:ietf:params:acme:error:badNonce"))
	require.False(t, IsBadNonceType("urn:ietf:params:acme:error:malformed"))
}

func TestNewRateLimitedCarriesRetryAfter(t *testing.T) {
	p := NewRateLimited(30, "too many requests")
	require.Equal(t, RateLimited.Kind, p.Kind)
	require.Equal(t, 30, p.RetryAfter)
	require.Equal(t, 429, p.Status)
}

func TestProblemIsComparesKindOnly(t *testing.T) {
	a := &Problem{Kind: "BadNonce", Detail: "one"}
	b := &Problem{Kind: "BadNonce", Detail: "two"}
	require.True(t, errors.Is(a, b))

	c := &Problem{Kind: "Malformed"}
	require.False(t, errors.Is(a, c))
}
