package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gitsignal/incident-engine/internal/models"
)

// EmailClientConfig configures the email boundary client.
type EmailClientConfig struct {
	BaseURL    string
	Path       string
	Timeout    time.Duration
	Retries    int
	HTTPClient *http.Client
}

// EmailClient hands alerts to the outbound email transport. The transport
// owns templating, recipients and SMTP; the engine only posts the alert.
type EmailClient struct {
	baseURL string
	path    string
	client  *http.Client
	timeout time.Duration
	retries int
}

// NewEmailClient constructs an EmailClient.
func NewEmailClient(cfg EmailClientConfig) (*EmailClient, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("email base url required")
	}
	path := cfg.Path
	if path == "" {
		path = "/notify/incident"
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	retries := cfg.Retries
	if retries < 0 {
		retries = 0
	}
	return &EmailClient{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		path:    path,
		client:  client,
		timeout: timeout,
		retries: retries,
	}, nil
}

// Deliver posts the alert to the email transport. Test alerts go to the same
// endpoint flagged by header so the transport keeps them out of the
// production priority queue.
func (c *EmailClient) Deliver(ctx context.Context, alert models.Alert) error {
	body, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("email marshal alert: %w", err)
	}

	attempts := c.retries + 1
	var lastErr error
	for i := 0; i < attempts; i++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
		req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.baseURL+c.path, bytes.NewReader(body))
		if err != nil {
			cancel()
			return fmt.Errorf("email build request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		if alert.Test {
			req.Header.Set("X-Alert-Test", "true")
		}
		resp, err := c.client.Do(req)
		cancel()
		if err != nil {
			lastErr = err
			continue
		}
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return nil
		}
		lastErr = fmt.Errorf("email transport returned %d", resp.StatusCode)
	}
	return fmt.Errorf("email deliver alert %s: %w", alert.ID, lastErr)
}

// Name implements Sink.
func (c *EmailClient) Name() string { return "email" }
