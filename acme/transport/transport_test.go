package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGetDecodesJSONBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"hello":"world"}`))
	}))
	defer srv.Close()

	tr, err := New(Config{})
	require.NoError(t, err)

	resp, err := tr.Get(context.Background(), srv.URL)
	require.NoError(t, err)
	require.Equal(t, BodyJSON, resp.Kind)
	require.Equal(t, "world", resp.JSON["hello"])
}

func TestGetDecodesProblemDocument(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/problem+json")
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"type":"urn:ietf:params:acme:error:malformed","detail":"bad request"}`))
	}))
	defer srv.Close()

	tr, err := New(Config{})
	require.NoError(t, err)

	resp, err := tr.Get(context.Background(), srv.URL)
	require.NoError(t, err)
	require.Equal(t, BodyProblem, resp.Kind)
	require.Equal(t, "urn:ietf:params:acme:error:malformed", resp.Problem.Type)
	require.Equal(t, http.StatusBadRequest, resp.Problem.Status)
}

func TestGetNon2xxWithoutProblemBodyIsServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("internal error"))
	}))
	defer srv.Close()

	tr, err := New(Config{})
	require.NoError(t, err)

	_, err = tr.Get(context.Background(), srv.URL)
	require.Error(t, err)

	var serverErr *ServerError
	require.ErrorAs(t, err, &serverErr)
	require.Equal(t, http.StatusInternalServerError, serverErr.StatusCode)
}

func TestHeadSurfacesReplayNonce(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Replay-Nonce", "abc123")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	tr, err := New(Config{})
	require.NoError(t, err)

	resp, err := tr.Head(context.Background(), srv.URL)
	require.NoError(t, err)
	require.Equal(t, "abc123", resp.Nonce())
}

func TestPostSetsJOSEContentType(t *testing.T) {
	var seenContentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenContentType = r.Header.Get("Content-Type")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	tr, err := New(Config{})
	require.NoError(t, err)

	_, err = tr.Post(context.Background(), srv.URL, []byte(`{}`), nil)
	require.NoError(t, err)
	require.Equal(t, "application/jose+json", seenContentType)
}

func TestConnectionErrorOnUnreachableHost(t *testing.T) {
	tr, err := New(Config{})
	require.NoError(t, err)

	_, err = tr.Get(context.Background(), "http://127.0.0.1:1")
	require.Error(t, err)

	var connErr *ConnectionError
	require.ErrorAs(t, err, &connErr)
}
