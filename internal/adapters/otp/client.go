// Package otp wraps the external one-time-code verification provider.
package otp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"schoolpay/internal/domain"
	"schoolpay/internal/infra/metrics"
)

const statusSuccess = "SUCCESS"

type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithTimeout sets the request timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.httpClient.Timeout = timeout
		}
	}
}

func New(baseURL, apiKey string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("baseURL is required")
	}
	client := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client, nil
}

type providerResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// Generate asks the provider to send a code to the phone number.
func (c *Client) Generate(ctx context.Context, phone string) error {
	if phone == "" {
		return fmt.Errorf("%w: phone is required", domain.ErrValidation)
	}
	resp, err := c.post(ctx, "generate", "/otp/generate", map[string]string{"number": phone})
	if err != nil {
		return err
	}
	if resp.Status != statusSuccess {
		return fmt.Errorf("%w: generate returned %s: %s", domain.ErrProvider, resp.Status, resp.Message)
	}
	return nil
}

// Verify checks a code against the phone number. A provider-side mismatch is
// ErrInvalidOTP; transport and upstream failures are ErrProvider.
func (c *Client) Verify(ctx context.Context, phone, code string) error {
	if phone == "" || code == "" {
		return fmt.Errorf("%w: phone and code are required", domain.ErrValidation)
	}
	resp, err := c.post(ctx, "verify", "/otp/verify", map[string]string{"number": phone, "code": code})
	if err != nil {
		return err
	}
	if resp.Status != statusSuccess {
		return fmt.Errorf("%w: %s", domain.ErrInvalidOTP, resp.Message)
	}
	return nil
}

func (c *Client) post(ctx context.Context, operation, endpoint string, body any) (providerResponse, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return providerResponse{}, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(raw))
	if err != nil {
		return providerResponse{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("api-key", c.apiKey)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	metrics.ObserveNetworkRequest("otp_provider", operation, start, err)
	metrics.OTPRequests.WithLabelValues(operation, statusLabel(err)).Inc()
	if err != nil {
		return providerResponse{}, fmt.Errorf("%w: %v", domain.ErrProvider, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return providerResponse{}, fmt.Errorf("%w: read response: %v", domain.ErrProvider, err)
	}
	if resp.StatusCode >= 300 {
		return providerResponse{}, fmt.Errorf("%w: status %d: %s", domain.ErrProvider, resp.StatusCode, strings.TrimSpace(string(data)))
	}
	var parsed providerResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return providerResponse{}, fmt.Errorf("%w: decode response: %v", domain.ErrProvider, err)
	}
	return parsed, nil
}

func statusLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

var _ domain.OTPProvider = (*Client)(nil)
