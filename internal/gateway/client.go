package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

// Client talks to the gateway REST API. Every call is bounded by timeout,
// independent of the caller's deadline.
type Client struct {
	baseURL string
	apiKey  string
	timeout time.Duration
	client  *http.Client
	log     *zap.SugaredLogger
}

// NewClient builds a Client. A nil httpClient gets an otelhttp transport.
func NewClient(baseURL, apiKey string, timeout time.Duration, httpClient *http.Client, logger *zap.SugaredLogger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	}
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		timeout: timeout,
		client:  httpClient,
		log:     logger,
	}
}

type prepareResponse struct {
	GatewayRef string `json:"gateway_ref"`
}

// Prepare registers the expected amount for paymentID before checkout.
func (c *Client) Prepare(ctx context.Context, req PrepareRequest) (string, error) {
	var resp prepareResponse
	if err := c.do(ctx, http.MethodPost, "/payments/prepare", req, &resp); err != nil {
		return "", fmt.Errorf("prepare %s: %w", req.PaymentID, err)
	}
	return resp.GatewayRef, nil
}

// Fetch returns the gateway's view of a payment.
func (c *Client) Fetch(ctx context.Context, paymentID string) (*PaymentInfo, error) {
	var info PaymentInfo
	if err := c.do(ctx, http.MethodGet, "/payments/"+url.PathEscape(paymentID), nil, &info); err != nil {
		return nil, fmt.Errorf("fetch %s: %w", paymentID, err)
	}
	return &info, nil
}

// Cancel cancels (refunds) a payment at the gateway.
func (c *Client) Cancel(ctx context.Context, req CancelRequest) (*CancelConfirmation, error) {
	var conf CancelConfirmation
	if err := c.do(ctx, http.MethodPost, "/payments/"+url.PathEscape(req.PaymentID)+"/cancel", req, &conf); err != nil {
		return nil, fmt.Errorf("cancel %s: %w", req.PaymentID, err)
	}
	if conf.PaymentID == "" {
		conf.PaymentID = req.PaymentID
	}
	return &conf, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
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
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		c.log.Warnw("gateway call failed", "method", method, "path", path, "error", err)
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	c.log.Debugw("gateway call", "method", method, "path", path, "status", resp.StatusCode, "took", time.Since(start))

	switch {
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	case resp.StatusCode == http.StatusNotFound:
		return ErrPaymentNotFound
	case resp.StatusCode >= 400:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: status %d: %s", ErrRejected, resp.StatusCode, bytes.TrimSpace(msg))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode response: %v", ErrUnavailable, err)
	}
	return nil
}
