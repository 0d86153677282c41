// Package valuation is an HTTP client for an external property valuation
// provider.
package valuation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/alanyoungcy/proptoken/internal/domain"
)

// Client implements domain.ValuationProvider against a JSON endpoint that
// accepts a property descriptor at POST {baseURL}/v1/estimates and answers
// with {"value": <int>, "confidence": <0..1>}.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

var _ domain.ValuationProvider = (*Client)(nil)

// NewClient creates a valuation client. A zero timeout means 10s.
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     strings.TrimSpace(apiKey),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Estimate asks the provider for a market value.
func (c *Client) Estimate(ctx context.Context, desc domain.PropertyDescriptor) (domain.Estimate, error) {
	body, err := json.Marshal(desc)
	if err != nil {
		return domain.Estimate{}, fmt.Errorf("valuation: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/estimates", bytes.NewReader(body))
	if err != nil {
		return domain.Estimate{}, fmt.Errorf("valuation: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.Estimate{}, fmt.Errorf("valuation: http request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return domain.Estimate{}, fmt.Errorf("valuation: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return domain.Estimate{}, fmt.Errorf("valuation: status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var est domain.Estimate
	if err := json.Unmarshal(raw, &est); err != nil {
		return domain.Estimate{}, fmt.Errorf("valuation: decode response: %w", err)
	}
	if est.Value <= 0 {
		return domain.Estimate{}, fmt.Errorf("valuation: provider returned non-positive value %d", est.Value)
	}
	if est.Confidence < 0 || est.Confidence > 1 {
		return domain.Estimate{}, fmt.Errorf("valuation: confidence %v outside [0, 1]", est.Confidence)
	}
	return est, nil
}
