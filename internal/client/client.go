// Package client provides an HTTP client for the etchd API, used by the
// etch-cli tool.
package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/etchlabs/etchd/internal/request"
)

// Client is an etchd API HTTP client.
type Client struct {
	baseURL string
	http    *http.Client
}

// New creates a client targeting the given base URL.
func New(baseURL string) *Client {
	return NewWithTimeout(baseURL, 30*time.Second)
}

// NewWithTimeout creates a client with a custom HTTP timeout.
func NewWithTimeout(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.StatusCode, e.Message)
}

func (c *Client) do(method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var apiErr struct {
			Error string `json:"error"`
		}
		msg := http.StatusText(resp.StatusCode)
		if json.NewDecoder(resp.Body).Decode(&apiErr) == nil && apiErr.Error != "" {
			msg = apiErr.Error
		}
		return &APIError{StatusCode: resp.StatusCode, Message: msg}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// Health reports the server's health payload.
func (c *Client) Health() (map[string]string, error) {
	var out map[string]string
	if err := c.do(http.MethodGet, "/api/health", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SubmitResponse is the server's answer to a new message request.
type SubmitResponse struct {
	RequestID              string `json:"requestId"`
	Address                string `json:"address"`
	RequiredAmountSatoshis int64  `json:"requiredAmountSatoshis"`
	Message                string `json:"message"`
}

// Submit creates a new message-embedding request.
func (c *Client) Submit(message string) (*SubmitResponse, error) {
	in := map[string]string{"message": message}
	var out SubmitResponse
	if err := c.do(http.MethodPost, "/api/message-request", in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Status fetches the current state of a request.
func (c *Client) Status(id string) (*request.Request, error) {
	var out request.Request
	if err := c.do(http.MethodGet, "/api/request-status/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

type adminEnvelope struct {
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// AdminList returns all requests, newest first.
func (c *Client) AdminList() ([]*request.Request, error) {
	var env adminEnvelope
	if err := c.do(http.MethodGet, "/api/admin/requests", nil, &env); err != nil {
		return nil, err
	}
	var reqs []*request.Request
	if err := json.Unmarshal(env.Data, &reqs); err != nil {
		return nil, fmt.Errorf("decode request list: %w", err)
	}
	return reqs, nil
}

// AdminGet returns one request by ID through the admin endpoint.
func (c *Client) AdminGet(id string) (*request.Request, error) {
	var env adminEnvelope
	if err := c.do(http.MethodGet, "/api/admin/requests/"+url.PathEscape(id), nil, &env); err != nil {
		return nil, err
	}
	var req request.Request
	if err := json.Unmarshal(env.Data, &req); err != nil {
		return nil, fmt.Errorf("decode request: %w", err)
	}
	return &req, nil
}

// AdminDelete removes a request.
func (c *Client) AdminDelete(id string) error {
	return c.do(http.MethodDelete, "/api/admin/requests/"+url.PathEscape(id), nil, nil)
}

// Retry re-drives a failed OP_RETURN broadcast and returns the updated
// request.
func (c *Client) Retry(id string) (*request.Request, error) {
	var env adminEnvelope
	if err := c.do(http.MethodPost, "/api/admin/requests/"+url.PathEscape(id)+"/retry", nil, &env); err != nil {
		return nil, err
	}
	var req request.Request
	if err := json.Unmarshal(env.Data, &req); err != nil {
		return nil, fmt.Errorf("decode request: %w", err)
	}
	return &req, nil
}
