// Package client is a Go SDK for the backtester HTTP API.
package client

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
)

// Request describes one backtest. Zero fields are omitted so the server
// defaults apply.
type Request struct {
	Strategy string `json:"strategy,omitempty"`
	Ticker   string `json:"ticker,omitempty"`
	Interval string `json:"interval,omitempty"`
	Window   int    `json:"window,omitempty"`
	Capital  int64  `json:"capital,omitempty"`
	LongQty  int64  `json:"long_qty,omitempty"`
	ShortQty int64  `json:"short_qty,omitempty"`
	Seed     uint64 `json:"seed,omitempty"`
}

// Trade is one executed order.
type Trade struct {
	Timestamp    time.Time `json:"timestamp"`
	Ticker       string    `json:"ticker"`
	Price        float64   `json:"price"`
	Quantity     int64     `json:"quantity"`
	TradingCosts float64   `json:"trading_costs"`
}

// Report is the outcome of a backtest.
type Report struct {
	RunID        string    `json:"run_id"`
	Strategy     string    `json:"strategy"`
	Ticker       string    `json:"ticker"`
	Interval     string    `json:"interval"`
	Window       int       `json:"window"`
	Capital      int64     `json:"capital"`
	LongQty      int64     `json:"long_qty"`
	ShortQty     int64     `json:"short_qty"`
	Seed         uint64    `json:"seed"`
	NTrades      int       `json:"n_trades"`
	PnL          float64   `json:"pnl"`
	Position     int64     `json:"position"`
	FinalCapital float64   `json:"final_capital"`
	TotalReturn  float64   `json:"total_return"`
	CreatedAt    time.Time `json:"created_at"`
	Trades       []Trade   `json:"trades"`
}

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("backtester api: %d %s: %s", e.StatusCode, http.StatusText(e.StatusCode), e.Message)
}

// Client provides a Go SDK for interacting with the backtester API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new backtester API client.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 5 * time.Minute},
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.httpClient = hc
	return c
}

// RunBacktest submits req and waits for the report.
func (c *Client) RunBacktest(ctx context.Context, req Request) (*Report, error) {
	var report Report
	if err := c.do(ctx, http.MethodPost, "/api/v1/backtests", req, &report); err != nil {
		return nil, err
	}
	return &report, nil
}

// GetBacktest loads a journaled run by id.
func (c *Client) GetBacktest(ctx context.Context, id string) (*Report, error) {
	var report Report
	if err := c.do(ctx, http.MethodGet, "/api/v1/backtests/"+url.PathEscape(id), nil, &report); err != nil {
		return nil, err
	}
	return &report, nil
}

// ListBacktests returns up to limit recent runs, newest first. Trades are
// not included.
func (c *Client) ListBacktests(ctx context.Context, limit int) ([]Report, error) {
	path := "/api/v1/backtests"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var resp struct {
		Runs []Report `json:"runs"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Runs, nil
}

// Strategies lists the strategies the server can run.
func (c *Client) Strategies(ctx context.Context) ([]string, error) {
	var resp struct {
		Strategies []string `json:"strategies"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/strategies", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Strategies, nil
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

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e struct {
			Error string `json:"error"`
		}
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		msg := strings.TrimSpace(string(raw))
		if json.Unmarshal(raw, &e) == nil && e.Error != "" {
			msg = e.Error
		}
		return &APIError{StatusCode: resp.StatusCode, Message: msg}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s %s: %w", method, path, err)
	}
	return nil
}
