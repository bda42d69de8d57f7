// Package transport provides the HTTP request/response plumbing shared by
// every ACME component: a keep-alive client, a descriptive User-Agent,
// Content-Type-aware body decoding, and problem-document surfacing for
// non-2xx responses.
package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"mime"
	"net/http"
	"os"
	"runtime"
	"strconv"
	"time"

	"github.com/acmego/acmeclient/acme/resources"
)

const (
	productName = "acmeclient"
	productVer  = "0.1.0"

	contentTypeJOSE    = "application/jose+json"
	contentTypeJSON    = "application/json"
	contentTypeProblem = "application/problem+json"
)

// Config configures a Transport.
type Config struct {
	// CABundlePath is an optional file path to one or more PEM encoded CA
	// certificates trusted for TLS connections to the ACME server. If empty,
	// the system root pool is used.
	CABundlePath string
	// Timeout bounds a single HTTP round trip. Zero means no timeout beyond
	// context deadlines.
	Timeout time.Duration
	// PrintRequests and PrintResponses enable verbose request/response
	// logging, mirroring the teacher's OutputOptions toggles.
	PrintRequests  bool
	PrintResponses bool
}

// Transport issues GET/HEAD/POST requests to an ACME server and decodes
// responses into a uniform Response shape.
type Transport struct {
	client *http.Client
	conf   Config
}

// New builds a Transport. An empty CABundlePath uses the system trust store.
func New(conf Config) (*Transport, error) {
	tlsConf := &tls.Config{}
	if conf.CABundlePath != "" {
		pemBundle, err := os.ReadFile(conf.CABundlePath)
		if err != nil {
			return nil, fmt.Errorf("transport: reading CA bundle: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pemBundle) {
			return nil, fmt.Errorf("transport: no certificates parsed from %q", conf.CABundlePath)
		}
		tlsConf.RootCAs = pool
	}

	return &Transport{
		conf: conf,
		client: &http.Client{
			Timeout: conf.Timeout,
			Transport: &http.Transport{
				TLSClientConfig:     tlsConf,
				ForceAttemptHTTP2:   true,
				MaxIdleConnsPerHost: 10,
			},
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if req.Method == http.MethodPost {
					return http.ErrUseLastResponse
				}
				return nil
			},
		},
	}, nil
}

// BodyKind describes how a Response's body was decoded.
type BodyKind int

const (
	// BodyRaw means the Content-Type wasn't recognized as JSON or a problem
	// document; Raw holds the bytes unmodified (e.g. a PEM certificate
	// chain).
	BodyRaw BodyKind = iota
	BodyJSON
	BodyProblem
)

// Response is the decoded result of a Transport call.
type Response struct {
	StatusCode int
	Header     http.Header
	Raw        []byte
	Kind       BodyKind
	// JSON holds the parsed body when Kind == BodyJSON, as a map for the
	// caller to re-marshal into a concrete resource type.
	JSON map[string]any
	// Problem holds the parsed RFC 7807 document when Kind == BodyProblem.
	Problem resources.Problem
}

// Nonce returns the Replay-Nonce header value, if present.
func (r *Response) Nonce() string {
	return r.Header.Get("Replay-Nonce")
}

// Location returns the Location header value, if present.
func (r *Response) Location() string {
	return r.Header.Get("Location")
}

// RetryAfterSeconds parses the Retry-After header (delta-seconds or an
// HTTP-date) into a duration in seconds. Returns 0, false if absent or
// unparseable.
func (r *Response) RetryAfterSeconds() (int, bool) {
	return parseRetryAfter(r.Header.Get("Retry-After"))
}

func parseRetryAfter(v string) (int, bool) {
	if v == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0, false
		}
		return secs, true
	}
	if when, err := http.ParseTime(v); err == nil {
		d := time.Until(when)
		if d < 0 {
			return 0, true
		}
		return int(d.Seconds() + 0.5), true
	}
	return 0, false
}

// ConnectionError wraps a failure that occurred before any HTTP response was
// received (DNS, TCP, TLS, timeout).
type ConnectionError struct {
	URL string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("transport: connection error requesting %q: %s", e.URL, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// ServerError is returned when the server answers with a status >= 400 and
// the body is not a parseable problem document.
type ServerError struct {
	URL        string
	StatusCode int
	Body       []byte
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("transport: %q returned HTTP %d: %s", e.URL, e.StatusCode, e.Body)
}

func (t *Transport) userAgent() string {
	return fmt.Sprintf("%s/%s (%s; %s)", productName, productVer, runtime.GOOS, runtime.GOARCH)
}

func (t *Transport) do(req *http.Request) (*Response, error) {
	req.Header.Set("User-Agent", t.userAgent())

	if t.conf.PrintRequests {
		log.Printf("transport: %s %s", req.Method, req.URL)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, &ConnectionError{URL: req.URL.String(), Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &ConnectionError{URL: req.URL.String(), Err: err}
	}

	if t.conf.PrintResponses {
		log.Printf("transport: %s -> %d (%d bytes)", req.URL, resp.StatusCode, len(body))
	}

	out := &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Raw:        body,
	}

	ct, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	switch ct {
	case contentTypeProblem:
		out.Kind = BodyProblem
		if len(body) > 0 {
			if err := json.Unmarshal(body, &out.Problem); err != nil {
				return nil, fmt.Errorf("transport: decoding problem document from %q: %w", req.URL, err)
			}
		}
		if out.Problem.Status == 0 {
			out.Problem.Status = resp.StatusCode
		}
	case contentTypeJSON, "application/json; charset=utf-8":
		out.Kind = BodyJSON
		if len(body) > 0 {
			if err := json.Unmarshal(body, &out.JSON); err != nil {
				return nil, fmt.Errorf("transport: decoding JSON from %q: %w", req.URL, err)
			}
		}
	default:
		out.Kind = BodyRaw
	}

	if resp.StatusCode >= 400 && out.Kind != BodyProblem {
		return out, &ServerError{URL: req.URL.String(), StatusCode: resp.StatusCode, Body: body}
	}

	return out, nil
}

// Get issues an HTTP GET. ctx bounds the round trip, including an
// in-flight connection attempt or response read, not just the time spent
// waiting to start it.
func (t *Transport) Get(ctx context.Context, url string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	return t.do(req)
}

// Head issues an HTTP HEAD. A missing Replay-Nonce header on an otherwise
// successful response is the caller's responsibility to detect (see
// account.Manager.NonceFetcher), per spec: it is a protocol-level failure, not a transport
// one. ctx bounds the round trip.
func (t *Transport) Head(ctx context.Context, url string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return nil, err
	}
	return t.do(req)
}

// Post issues an HTTP POST with Content-Type application/jose+json unless
// headers overrides it. ctx bounds the round trip.
func (t *Transport) Post(ctx context.Context, url string, body []byte, headers http.Header) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", contentTypeJOSE)
	for k, vs := range headers {
		req.Header.Del(k)
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	return t.do(req)
}
