// Package blockcypher is a minimal client for the BlockCypher REST API:
// webhook subscriptions and the two-step transaction skeleton flow
// (/txs/new → sign locally → /txs/send).
package blockcypher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/etchlabs/etchd/internal/log"
	"github.com/etchlabs/etchd/pkg/btc"
	"github.com/rs/zerolog"
)

// DefaultTimeout bounds a single API round trip.
const DefaultTimeout = 30 * time.Second

// maxErrorBody caps how much of an error response is echoed into logs.
const maxErrorBody = 512

// Hook is a webhook subscription.
type Hook struct {
	ID      string `json:"id,omitempty"`
	Event   string `json:"event"`
	Address string `json:"address"`
	URL     string `json:"url"`
}

// TXInput is a skeleton input. Only the funding address is supplied;
// BlockCypher selects UTXOs and fees (that policy is upstream's job).
type TXInput struct {
	Addresses []string `json:"addresses"`
}

// TXOutput is a skeleton output.
type TXOutput struct {
	Value      int64    `json:"value"`
	Addresses  []string `json:"addresses,omitempty"`
	ScriptType string   `json:"script_type,omitempty"`
	Script     string   `json:"script,omitempty"`
}

// TX is the transaction object inside a skeleton.
type TX struct {
	Hash    string     `json:"hash,omitempty"`
	Hex     string     `json:"hex,omitempty"`
	Inputs  []TXInput  `json:"inputs,omitempty"`
	Outputs []TXOutput `json:"outputs,omitempty"`
}

// TXSkeleton is the /txs/new and /txs/send payload.
type TXSkeleton struct {
	TX         TX         `json:"tx"`
	ToSign     []string   `json:"tosign,omitempty"`
	Signatures []string   `json:"signatures,omitempty"`
	PubKeys    []string   `json:"pubkeys,omitempty"`
	Errors     []apiError `json:"errors,omitempty"`
}

type apiError struct {
	Error string `json:"error"`
}

// Client talks to one BlockCypher chain endpoint.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	logger  zerolog.Logger
}

// BaseURL returns the default API base for a network.
func BaseURL(params btc.Params) string {
	return "https://api.blockcypher.com/v1/btc/" + params.BlockCypherChain
}

// NewClient creates a client. baseURL has no trailing slash; httpClient may
// be nil, in which case a client with DefaultTimeout is used.
func NewClient(baseURL, token string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultTimeout}
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		token:   token,
		http:    httpClient,
		logger:  log.WithComponent("blockcypher"),
	}
}

// HasToken reports whether an API token is configured.
func (c *Client) HasToken() bool {
	return c.token != ""
}

func (c *Client) endpoint(path string) string {
	u := c.baseURL + path
	if c.token != "" {
		u += "?token=" + url.QueryEscape(c.token)
	}
	return u
}

// do issues a JSON request and decodes the response into out (when non-nil).
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path), body)
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
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	c.logger.Debug().Str("method", method).Str("path", path).Int("status", resp.StatusCode).Msg("api call")
	return nil
}

// CreateHook registers a confirmed-tx webhook for an address.
func (c *Client) CreateHook(ctx context.Context, address, callbackURL string) (string, error) {
	hook := Hook{Event: "confirmed-tx", Address: address, URL: callbackURL}
	var created Hook
	if err := c.do(ctx, http.MethodPost, "/hooks", hook, &created); err != nil {
		return "", err
	}
	if created.ID == "" {
		return "", fmt.Errorf("hook created without id")
	}
	return created.ID, nil
}

// DeleteHook removes a webhook subscription.
func (c *Client) DeleteHook(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/hooks/"+url.PathEscape(id), nil, nil)
}

// NewTX submits a transaction draft and returns the unsigned skeleton with
// its tosign hashes.
func (c *Client) NewTX(ctx context.Context, draft *TXSkeleton) (*TXSkeleton, error) {
	var skel TXSkeleton
	if err := c.do(ctx, http.MethodPost, "/txs/new", draft, &skel); err != nil {
		return nil, err
	}
	if err := skel.Err(); err != nil {
		return nil, fmt.Errorf("txs/new: %w", err)
	}
	return &skel, nil
}

// SendTX submits a signed skeleton for broadcast.
func (c *Client) SendTX(ctx context.Context, skel *TXSkeleton) (*TXSkeleton, error) {
	var final TXSkeleton
	if err := c.do(ctx, http.MethodPost, "/txs/send", skel, &final); err != nil {
		return nil, err
	}
	if err := final.Err(); err != nil {
		return nil, fmt.Errorf("txs/send: %w", err)
	}
	return &final, nil
}

// Err collapses skeleton-level API errors into one error value.
func (s *TXSkeleton) Err() error {
	if len(s.Errors) == 0 {
		return nil
	}
	msgs := make([]string, len(s.Errors))
	for i, e := range s.Errors {
		msgs[i] = e.Error
	}
	return fmt.Errorf("api errors: %s", strings.Join(msgs, "; "))
}
