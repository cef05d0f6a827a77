// Package originclient implements the Origin Client (§4.D): fetching bytes
// from a remote origin over TLS/plain HTTP with a TLS-version fallback
// ladder, forwarding Range, and surfacing origin status/headers back to the
// progressive proxy handler.
package originclient

import (
	"context"
	"crypto/tls"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/pkg/errors"
)

// ErrUpstreamConnect is returned (wrapped) when every TLS version fails to
// connect (§7 UpstreamConnectError).
var ErrUpstreamConnect = errors.New("upstream connect failed for all TLS versions")

var tlsVersionByName = map[string]uint16{
	"1.3": tls.VersionTLS13,
	"1.2": tls.VersionTLS12,
	"1.1": tls.VersionTLS11,
	"1.0": tls.VersionTLS10,
}

// DefaultTLSVersions is the fallback order §4.D prescribes.
var DefaultTLSVersions = []string{"1.3", "1.2", "1.1", "1.0"}

const (
	connectTimeout = 30 * time.Second
	readTimeout    = 30 * time.Second

	tlsFallbackBackoffInitial = 200 * time.Millisecond
	tlsFallbackBackoffMax     = 2 * time.Second
)

// Client is the Origin Client described in §4.D.
type Client struct {
	Headers     map[string]string
	TLSVersions []string
	Trust       TrustPolicy
}

// New builds a Client with the given fixed header set (including the
// desktop Chrome User-Agent §4.D prescribes) and trust policy.
func New(headers map[string]string, trust TrustPolicy) *Client {
	versions := DefaultTLSVersions
	if trust == nil {
		trust = PlatformTrust()
	}
	return &Client{Headers: headers, TLSVersions: versions, Trust: trust}
}

// Response is the subset of an upstream HTTP response the proxy handler acts
// on (§4.D).
type Response struct {
	Body          io.ReadCloser
	StatusCode    int
	Status        string
	ContentType   string
	ContentLength int64 // -1 if unknown
	ContentRange  string
}

// Fetch issues a GET for rawURL, forwarding rangeHeader if non-empty. For an
// https URL it attempts each configured TLS version in turn, stopping at the
// first that completes a connection, and returns ErrUpstreamConnect
// (wrapped) if every version fails. For http it issues a single plain
// request and returns that request's error as is.
func (c *Client) Fetch(ctx context.Context, rawURL, rangeHeader string) (*Response, error) {
	if !isHTTPS(rawURL) {
		return c.do(ctx, rawURL, rangeHeader, nil)
	}

	versions := c.TLSVersions
	if len(versions) == 0 {
		versions = DefaultTLSVersions
	}

	backoff := newBackoff(tlsFallbackBackoffInitial, tlsFallbackBackoffMax)

	var lastErr error
	for i, v := range versions {
		version, ok := tlsVersionByName[v]
		if !ok {
			continue
		}
		tlsCfg := &tls.Config{MinVersion: version, MaxVersion: version}
		c.Trust.Apply(tlsCfg)

		resp, err := c.do(ctx, rawURL, rangeHeader, tlsCfg)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if i < len(versions)-1 {
			backoff.sleep(ctx)
		}
	}
	return nil, errors.Wrap(ErrUpstreamConnect, errOrEmpty(lastErr))
}

func (c *Client) do(ctx context.Context, rawURL, rangeHeader string, tlsCfg *tls.Config) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, errors.Wrap(err, "build origin request")
	}

	for k, v := range c.Headers {
		req.Header.Set(k, v)
	}
	req.Header.Set("Accept", "*/*")
	req.Header.Set("Accept-Encoding", "identity")
	req.Header.Set("Connection", "keep-alive")
	if rangeHeader != "" {
		req.Header.Set("Range", rangeHeader)
	}

	transport := &http.Transport{
		TLSClientConfig:       tlsCfg,
		ResponseHeaderTimeout: readTimeout,
	}
	httpClient := &http.Client{
		Transport: transport,
		Timeout:   connectTimeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return nil // follow redirects (§4.D)
		},
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "origin request failed")
	}

	contentLength := int64(-1)
	if cl := resp.Header.Get("Content-Length"); cl != "" {
		if n, perr := strconv.ParseInt(cl, 10, 64); perr == nil {
			contentLength = n
		}
	}

	return &Response{
		Body:          resp.Body,
		StatusCode:    resp.StatusCode,
		Status:        resp.Status,
		ContentType:   resp.Header.Get("Content-Type"),
		ContentLength: contentLength,
		ContentRange:  resp.Header.Get("Content-Range"),
	}, nil
}

func isHTTPS(rawURL string) bool {
	return len(rawURL) >= 8 && rawURL[:8] == "https://"
}

func errOrEmpty(err error) string {
	if err == nil {
		return "no TLS versions configured"
	}
	return err.Error()
}
