// Package zabbix talks to the Zabbix JSON-RPC API: session management,
// problem retrieval and availability probing.
package zabbix

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ErrMalformedResponse is returned when the API answers with neither a result
// nor an error object.
var ErrMalformedResponse = errors.New("malformed json-rpc response")

// RPCError is the error object of a JSON-RPC response.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    string `json:"data"`
}

func (e *RPCError) Error() string {
	if e.Data == "" {
		return fmt.Sprintf("zabbix api error %d: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("zabbix api error %d: %s %s", e.Code, e.Message, e.Data)
}

// authMarkers are fragments Zabbix puts in the error data when a session
// token has expired or was never valid.
var authMarkers = []string{
	"session terminated",
	"re-login",
	"not authorised",
	"not authorized",
	"login name or password is incorrect",
}

// IsAuthError reports whether err is an API error caused by a rejected or
// expired credential.
func IsAuthError(err error) bool {
	var rpcErr *RPCError
	if !errors.As(err, &rpcErr) {
		return false
	}
	text := strings.ToLower(rpcErr.Message + " " + rpcErr.Data)
	for _, marker := range authMarkers {
		if strings.Contains(text, marker) {
			return true
		}
	}
	return false
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
	Auth    string `json:"auth,omitempty"`
	ID      int64  `json:"id"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result"`
	Error   *RPCError       `json:"error"`
	ID      json.RawMessage `json:"id"`
}

// Client issues JSON-RPC calls against a single api_jsonrpc.php endpoint.
type Client struct {
	url        string
	httpClient *http.Client
	bearer     bool
	logger     *zap.Logger
	nextID     int64
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithBearerAuth sends the session token in an Authorization header instead
// of the "auth" request member. Zabbix 7.2 and later require this.
func WithBearerAuth() Option {
	return func(c *Client) { c.bearer = true }
}

// NewClient creates a client for the API at apiURL.
func NewClient(apiURL string, timeout time.Duration, logger *zap.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Client{
		url:        apiURL,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// URL returns the JSON-RPC endpoint the client talks to.
func (c *Client) URL() string {
	return c.url
}

// Call invokes method with params and decodes the result member into result.
// auth is the session token; pass "" for unauthenticated methods.
func (c *Client) Call(ctx context.Context, method string, params any, auth string, result any) error {
	c.nextID++
	req := rpcRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      c.nextID,
	}
	if auth != "" && !c.bearer {
		req.Auth = auth
	}

	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", method, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create %s request: %w", method, err)
	}
	httpReq.Header.Set("Content-Type", "application/json-rpc")
	if auth != "" && c.bearer {
		httpReq.Header.Set("Authorization", "Bearer "+auth)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, resp.Body) //nolint:errcheck // drain body for connection reuse
		return fmt.Errorf("%s: http status %d", method, resp.StatusCode)
	}

	var rpcResp rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return fmt.Errorf("decode %s response: %w", method, err)
	}

	c.logger.Debug("json-rpc call",
		zap.String("method", method),
		zap.Duration("duration", time.Since(start)),
	)

	if rpcResp.Error != nil {
		return rpcResp.Error
	}
	if len(rpcResp.Result) == 0 || string(rpcResp.Result) == "null" {
		return fmt.Errorf("%s: %w", method, ErrMalformedResponse)
	}
	if result == nil {
		return nil
	}
	if err := json.Unmarshal(rpcResp.Result, result); err != nil {
		return fmt.Errorf("decode %s result: %w", method, err)
	}
	return nil
}

// APIVersion returns the server's API version. It needs no session.
func (c *Client) APIVersion(ctx context.Context) (string, error) {
	var v string
	if err := c.Call(ctx, "apiinfo.version", []any{}, "", &v); err != nil {
		return "", err
	}
	return v, nil
}

// Probe sends a GET to the root of the API host and succeeds on any 2xx answer.
func (c *Client) Probe(ctx context.Context) error {
	root, err := hostRoot(c.url)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, root, http.NoBody)
	if err != nil {
		return fmt.Errorf("invalid URL %q: %w", root, err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http get %s: %w", root, err)
	}
	io.Copy(io.Discard, resp.Body) //nolint:errcheck // drain body for connection reuse
	resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("http get %s: status %d", root, resp.StatusCode)
	}
	return nil
}

// hostRoot strips the path and query from apiURL, leaving scheme://host/.
func hostRoot(apiURL string) (string, error) {
	u, err := url.Parse(apiURL)
	if err != nil {
		return "", fmt.Errorf("parse api url %q: %w", apiURL, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("api url %q must be absolute", apiURL)
	}
	root := url.URL{Scheme: u.Scheme, Host: u.Host, Path: "/"}
	return root.String(), nil
}
