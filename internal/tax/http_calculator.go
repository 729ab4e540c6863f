package tax

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

	domain "github.com/tradepost/api/internal/domain"
	config "github.com/tradepost/api/internal/platform/config"
)

const defaultTimeout = 10 * time.Second

// HTTPCalculator calls an external tax estimation service and falls back to
// the static table when the service is unreachable.
type HTTPCalculator struct {
	baseURL  string
	apiKey   string
	http     *http.Client
	fallback Calculator
}

// NewHTTPCalculator builds a calculator for the configured endpoint.
func NewHTTPCalculator(cfg config.TaxConfig, fallback Calculator) (*HTTPCalculator, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, fmt.Errorf("tax: endpoint is required")
	}
	if fallback == nil {
		fallback = NewStaticCalculator()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &HTTPCalculator{
		baseURL:  strings.TrimRight(cfg.Endpoint, "/"),
		apiKey:   cfg.APIKey,
		http:     &http.Client{Timeout: timeout},
		fallback: fallback,
	}, nil
}

type estimateRequest struct {
	Amount     string `json:"amount"`
	Currency   string `json:"currency"`
	Country    string `json:"country"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postalCode,omitempty"`
	City       string `json:"city,omitempty"`
}

type estimateResponse struct {
	Tax      string `json:"tax"`
	Currency string `json:"currency"`
}

// Estimate posts the taxable amount to the external service. Any transport or
// decode failure routes through the static fallback so checkout keeps working
// during tax service outages.
func (c *HTTPCalculator) Estimate(ctx context.Context, amount int64, currency string, destination domain.Address) (int64, error) {
	if amount <= 0 {
		return 0, nil
	}

	tax, err := c.estimateRemote(ctx, amount, currency, destination)
	if err != nil {
		return c.fallback.Estimate(ctx, amount, currency, destination)
	}
	return tax, nil
}

func (c *HTTPCalculator) estimateRemote(ctx context.Context, amount int64, currency string, destination domain.Address) (int64, error) {
	payload := estimateRequest{
		Amount:     domain.FormatAmount(amount, currency),
		Currency:   strings.ToUpper(currency),
		Country:    strings.ToUpper(destination.Country),
		PostalCode: destination.PostalCode,
		City:       destination.City,
	}
	if destination.State != nil {
		payload.State = *destination.State
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("tax: encode request: %w", err)
	}
	endpoint, err := url.JoinPath(c.baseURL, "/v1/estimates")
	if err != nil {
		return 0, fmt.Errorf("tax: build url: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("tax: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("tax: request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 2048))
		return 0, fmt.Errorf("tax: service status %d", resp.StatusCode)
	}

	var decoded estimateResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return 0, fmt.Errorf("tax: decode response: %w", err)
	}
	tax, err := domain.ParseAmount(decoded.Tax, currency)
	if err != nil {
		return 0, fmt.Errorf("tax: parse amount %q: %w", decoded.Tax, err)
	}
	if tax < 0 {
		return 0, fmt.Errorf("tax: negative estimate %d", tax)
	}
	return tax, nil
}
