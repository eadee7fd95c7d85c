// Package jaws implements low-level HTTP access to the JAWS API of a
// Server Tech iPDU controller. Calls are limited to the monitor and
// control endpoints needed for status queries and power commands.
package jaws

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// JAWS API paths.
const (
	GroupControl  = "jaws/control/groups"
	GroupMonitor  = "jaws/monitor/groups"
	OutletControl = "jaws/control/outlets"
	OutletMonitor = "jaws/monitor/outlets"
)

const defaultTimeout = 30 * time.Second

// Config contains transport settings for a JAWS client.
type Config struct {
	Timeout time.Duration
	// VerifyTLS enables certificate verification. Controllers ship with
	// self-signed certificates, so verification is off unless asked for.
	VerifyTLS bool
}

// Client talks to the JAWS API of a single controller.
type Client struct {
	host       string
	user       string
	password   string
	baseURL    string
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewClient creates a client bound to one controller host. The host may be
// a hostname, an IPv4 address, or an IPv6 address with an optional zone
// suffix for link-local addressing.
func NewClient(host, user, password string, cfg Config, logger zerolog.Logger) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}

	transport := &http.Transport{
		TLSClientConfig: &tls.Config{InsecureSkipVerify: !cfg.VerifyTLS},
	}

	return &Client{
		host:     host,
		user:     user,
		password: password,
		baseURL:  baseURL(host),
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: transport,
		},
		logger: logger.With().Str("host", host).Logger(),
	}
}

// Host returns the controller host this client is bound to.
func (c *Client) Host() string {
	return c.host
}

// Get performs a GET against the given API path and returns the raw body
// and status code. A non-2xx response is returned as a *StatusError
// alongside the body.
func (c *Client) Get(ctx context.Context, path string) ([]byte, int, error) {
	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, 0, err
	}

	rsp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("get %s: %w", path, err)
	}
	defer rsp.Body.Close()

	body, err := io.ReadAll(rsp.Body)
	if err != nil {
		return nil, rsp.StatusCode, fmt.Errorf("get %s: read body: %w", path, err)
	}

	if rsp.StatusCode >= http.StatusMultipleChoices {
		c.logger.Warn().Int("status", rsp.StatusCode).Str("path", path).Msg("GET returned error status")
		return body, rsp.StatusCode, &StatusError{Code: rsp.StatusCode}
	}

	return body, rsp.StatusCode, nil
}

// Patch performs a PATCH against the given API path with the payload
// marshalled as JSON, returning the status code. A non-2xx response is
// returned as a *StatusError.
func (c *Client) Patch(ctx context.Context, path string, payload any) (int, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("patch %s: marshal payload: %w", path, err)
	}

	req, err := c.newRequest(ctx, http.MethodPatch, path, bytes.NewReader(data))
	if err != nil {
		return 0, err
	}

	rsp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("patch %s: %w", path, err)
	}
	defer rsp.Body.Close()

	// Drain so the connection can be reused.
	_, _ = io.Copy(io.Discard, rsp.Body)

	if rsp.StatusCode >= http.StatusMultipleChoices {
		c.logger.Warn().Int("status", rsp.StatusCode).Str("path", path).Msg("PATCH returned error status")
		return rsp.StatusCode, &StatusError{Code: rsp.StatusCode}
	}

	return rsp.StatusCode, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	url := fmt.Sprintf("%s/%s", c.baseURL, path)

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", strings.ToLower(method), path, err)
	}

	req.SetBasicAuth(c.user, c.password)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("cache-control", "no-cache")

	return req, nil
}

// baseURL derives the https base URL for a host, bracketing bare IPv6
// literals and escaping the zone separator so they survive URL parsing.
func baseURL(host string) string {
	if strings.Contains(host, ":") && !strings.HasPrefix(host, "[") {
		host = "[" + host + "]"
	}
	if i := strings.IndexByte(host, '%'); i >= 0 && !strings.Contains(host, "%25") {
		host = host[:i] + "%25" + host[i+1:]
	}
	return "https://" + host
}
