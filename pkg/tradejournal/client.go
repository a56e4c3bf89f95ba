// Package tradejournal is a Go client for the tradejournal backtest API.
package tradejournal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"tradejournal/internal/httpapi"
)

// Wire types, re-exported for callers outside this module.
type (
	Strategy            = httpapi.StrategyJSON
	BacktestRequest     = httpapi.BacktestRequestJSON
	BacktestResult      = httpapi.BacktestResultJSON
	OptimizationRequest = httpapi.OptimizationRequestJSON
	OptimizationResult  = httpapi.OptimizationResultJSON
	Range               = httpapi.RangeJSON
	HistoryEntry        = httpapi.HistoryEntryJSON
)

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("tradejournal: %d %s: %s", e.StatusCode, http.StatusText(e.StatusCode), e.Message)
}

// Client provides a Go SDK for interacting with the tradejournal-server API.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithToken sends "Authorization: Bearer <token>" on every request.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// NewClient creates a new tradejournal API client. Optimizations can run for
// minutes, so the default timeout is generous.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Minute},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Strategies lists the server's strategies.
func (c *Client) Strategies(ctx context.Context) ([]Strategy, error) {
	var out []Strategy
	if err := c.do(ctx, http.MethodGet, "/api/backtest/strategies", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// RunBacktest runs one backtest.
func (c *Client) RunBacktest(ctx context.Context, req BacktestRequest) (*BacktestResult, error) {
	var out BacktestResult
	if err := c.do(ctx, http.MethodPost, "/api/backtest/run", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Optimize runs a parameter search.
func (c *Client) Optimize(ctx context.Context, req OptimizationRequest) (*OptimizationResult, error) {
	var out OptimizationResult
	if err := c.do(ctx, http.MethodPost, "/api/backtest/optimize", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// History lists saved runs, newest first. limit <= 0 uses the server default.
func (c *Client) History(ctx context.Context, limit int) ([]HistoryEntry, error) {
	path := "/api/backtest/history"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var out httpapi.HistoryResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Results, nil
}

// GetResult returns a saved run exactly as the server stored it.
func (c *Client) GetResult(ctx context.Context, id string) (json.RawMessage, error) {
	var out json.RawMessage
	if err := c.do(ctx, http.MethodGet, "/api/backtest/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(data))}
		var e struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &e) == nil && e.Error != "" {
			apiErr.Message = e.Error
		}
		return apiErr
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
