// Package reconcile provides the client for the authoritative remote price
// calculator. The remote result is used only for disagreement detection: the
// locally computed price is always displayed and never blocked on this call.
package reconcile

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Request carries the pricing inputs to the authoritative calculator. The
// remote side must evaluate the same calibration curve for results to agree.
type Request struct {
	TargetDate             time.Time `json:"target_date"`
	BasePrice              float64   `json:"base_price"`
	UrgencySteepness       float64   `json:"urgency_steepness"`
	MarketDemandMultiplier float64   `json:"market_demand_multiplier"`
}

// Response is the authoritative calculator's answer.
type Response struct {
	Success      bool    `json:"success"`
	CurrentPrice float64 `json:"current_price,omitempty"`
	Error        string  `json:"error,omitempty"`
}

// ClientConfig holds retry and connection pool settings.
type ClientConfig struct {
	MaxRetries          int
	RetryDelayBase      time.Duration
	MaxIdleConns        int
	MaxIdleConnsPerHost int
	IdleConnTimeout     time.Duration
}

// Client calls the remote pricing endpoint.
type Client struct {
	baseURL    string
	httpClient *http.Client
	config     ClientConfig
}

// NewClient creates a reconciliation client for the given endpoint base URL.
func NewClient(baseURL string, timeout time.Duration, config ClientConfig) *Client {
	if config.MaxRetries <= 0 {
		config.MaxRetries = 3
	}
	if config.RetryDelayBase <= 0 {
		config.RetryDelayBase = time.Second
	}
	if config.MaxIdleConns <= 0 {
		config.MaxIdleConns = 10
	}
	if config.MaxIdleConnsPerHost <= 0 {
		config.MaxIdleConnsPerHost = 5
	}
	if config.IdleConnTimeout <= 0 {
		config.IdleConnTimeout = 90 * time.Second
	}

	transport := &http.Transport{
		MaxIdleConns:        config.MaxIdleConns,
		MaxIdleConnsPerHost: config.MaxIdleConnsPerHost,
		IdleConnTimeout:     config.IdleConnTimeout,
	}

	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
		config: config,
	}
}

// CalculatePrice requests the authoritative price for the given inputs.
// Transport failures and 5xx responses are retried with linear backoff; a
// response with Success=false is returned as an error without retrying.
func (c *Client) CalculatePrice(ctx context.Context, req Request) (float64, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return 0, fmt.Errorf("failed to encode request: %w", err)
	}

	url := c.baseURL + "/v1/pricing/calculate"

	var lastErr error
	for i := 0; i < c.config.MaxRetries; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return 0, ctx.Err()
			case <-time.After(c.config.RetryDelayBase * time.Duration(i)):
			}
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return 0, fmt.Errorf("failed to build request: %w", err)
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			lastErr = err
			continue
		}

		price, retryable, err := decodeResponse(resp)
		if err == nil {
			return price, nil
		}
		lastErr = err
		if !retryable {
			return 0, err
		}
	}

	return 0, fmt.Errorf("max retries exceeded: %w", lastErr)
}

func decodeResponse(resp *http.Response) (price float64, retryable bool, err error) {
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return 0, true, fmt.Errorf("server error: %d", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return 0, false, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	var r Response
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return 0, false, fmt.Errorf("failed to decode response: %w", err)
	}
	if !r.Success {
		if r.Error == "" {
			r.Error = "unspecified remote error"
		}
		return 0, false, fmt.Errorf("remote calculation failed: %s", r.Error)
	}
	return r.CurrentPrice, false, nil
}
