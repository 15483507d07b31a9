// Package gateway is a small REST client for the hosted payment gateway.
package gateway

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

	"go.uber.org/zap"

	"github.com/noah-isme/dance-school-api/pkg/config"
	"github.com/noah-isme/dance-school-api/pkg/middleware/requestid"
)

const maxErrorBody = 64 << 10

// Observer receives one call per gateway request. status is 0 when no response arrived.
type Observer func(operation string, status int, duration time.Duration)

// Option customises the client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithObserver installs a metrics hook.
func WithObserver(observer Observer) Option {
	return func(c *Client) {
		c.observe = observer
	}
}

// Client talks to the gateway using bearer-token auth.
type Client struct {
	baseURL string
	apiKey  string
	timeout time.Duration
	http    *http.Client
	logger  *zap.Logger
	observe Observer
}

// NewClient builds a client from configuration.
func NewClient(cfg config.GatewayConfig, logger *zap.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	c := &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		timeout: timeout,
		http:    &http.Client{Timeout: timeout},
		logger:  logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FindCustomerByTaxID returns the first customer registered with the tax id, or nil.
func (c *Client) FindCustomerByTaxID(ctx context.Context, taxID string) (*Customer, error) {
	var list customerList
	path := "/customers?cpfCnpj=" + url.QueryEscape(taxID)
	if err := c.do(ctx, "find_customer", http.MethodGet, path, nil, &list); err != nil {
		return nil, err
	}
	for i := range list.Data {
		if list.Data[i].ID != "" {
			return &list.Data[i], nil
		}
	}
	return nil, nil
}

// CreateCustomer registers a payer.
func (c *Client) CreateCustomer(ctx context.Context, req CreateCustomerRequest) (*Customer, error) {
	var customer Customer
	if err := c.do(ctx, "create_customer", http.MethodPost, "/customers", req, &customer); err != nil {
		return nil, err
	}
	if strings.TrimSpace(customer.ID) == "" {
		return nil, &MalformedResponseError{Operation: "create_customer", Reason: "missing customer id"}
	}
	return &customer, nil
}

// CreateCheckout opens a hosted checkout session. The response must carry an id and an
// absolute http(s) link.
func (c *Client) CreateCheckout(ctx context.Context, req CreateCheckoutRequest) (*CheckoutSession, error) {
	var session CheckoutSession
	if err := c.do(ctx, "create_checkout", http.MethodPost, "/checkouts", req, &session); err != nil {
		return nil, err
	}
	if err := validateSession(&session); err != nil {
		return nil, err
	}
	return &session, nil
}

func validateSession(session *CheckoutSession) error {
	if strings.TrimSpace(session.ID) == "" {
		return &MalformedResponseError{Operation: "create_checkout", Reason: "missing checkout id"}
	}
	if strings.TrimSpace(session.Link) == "" {
		return &MalformedResponseError{Operation: "create_checkout", Reason: "missing checkout link"}
	}
	u, err := url.Parse(session.Link)
	if err != nil || !u.IsAbs() || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
		return &MalformedResponseError{Operation: "create_checkout", Reason: "checkout link is not an absolute URL"}
	}
	return nil
}

func (c *Client) do(ctx context.Context, op, method, path string, body interface{}, out interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s request: %w", op, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build %s request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if id := requestid.FromContext(ctx); id != "" {
		req.Header.Set(requestid.HeaderKey, id)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	duration := time.Since(start)
	if err != nil {
		c.record(op, 0, duration)
		c.logger.Warn("gateway request failed", zap.String("operation", op), zap.Duration("latency", duration), zap.Error(err))
		return fmt.Errorf("gateway %s: %w", op, err)
	}
	defer resp.Body.Close()
	c.record(op, resp.StatusCode, duration)

	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := &APIError{Operation: op, StatusCode: resp.StatusCode}
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		var parsed errorBody
		if json.Unmarshal(raw, &parsed) == nil {
			for _, e := range parsed.Errors {
				if e.Description != "" {
					apiErr.Descriptions = append(apiErr.Descriptions, e.Description)
				}
			}
		}
		if len(apiErr.Descriptions) == 0 && len(bytes.TrimSpace(raw)) > 0 {
			apiErr.Descriptions = []string{string(bytes.TrimSpace(raw))}
		}
		c.logger.Warn("gateway rejected request",
			zap.String("operation", op),
			zap.Int("status", resp.StatusCode),
			zap.Strings("errors", apiErr.Descriptions),
		)
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &MalformedResponseError{Operation: op, Reason: err.Error()}
	}
	return nil
}

func (c *Client) record(op string, status int, duration time.Duration) {
	if c.observe != nil {
		c.observe(op, status, duration)
	}
}
