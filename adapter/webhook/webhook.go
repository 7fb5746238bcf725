// Package webhook publishes session events as JSON HTTP POSTs.
//
// 5xx responses and network errors are retried with exponential
// backoff; 4xx responses fail immediately. With a secret configured,
// every body is signed with HMAC-SHA256 so receivers can reject forged
// events.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pithecene-io/nvplug/adapter"
	"github.com/pithecene-io/nvplug/iox"
)

// DefaultTimeout is the default HTTP request timeout.
const DefaultTimeout = 10 * time.Second

// DefaultRetries is the default number of retry attempts.
const DefaultRetries = 3

// Request headers.
const (
	// EventHeader carries the event type so receivers can route without
	// parsing the body.
	EventHeader = "X-Nvplug-Event"
	// SignatureHeader carries "sha256=" and the hex HMAC of the body.
	SignatureHeader = "X-Nvplug-Signature"
)

// Config configures the webhook adapter.
type Config struct {
	// URL is the HTTP endpoint to POST to (required).
	URL     string
	Headers map[string]string
	// Secret enables body signing. Empty sends unsigned requests.
	Secret  string
	Timeout time.Duration
	Retries int
}

// Adapter publishes session events via HTTP POST.
type Adapter struct {
	config Config
	client *http.Client
}

// New creates a webhook adapter.
func New(cfg Config) (*Adapter, error) {
	if cfg.URL == "" {
		return nil, errors.New("webhook adapter requires a URL")
	}
	if cfg.Retries < 0 {
		return nil, fmt.Errorf("retries must be >= 0, got %d", cfg.Retries)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Adapter{
		config: cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

// Sign returns the SignatureHeader value for body under secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether signature is a valid SignatureHeader value for
// body under secret.
func Verify(secret string, body []byte, signature string) bool {
	return hmac.Equal([]byte(Sign(secret, body)), []byte(signature))
}

// Publish POSTs the event as JSON.
func (a *Adapter) Publish(ctx context.Context, event *adapter.SessionEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("webhook: marshal event: %w: %w", adapter.ErrPermanent, err)
	}

	err = adapter.Retry(ctx, a.config.Retries, func(ctx context.Context) error {
		return a.post(ctx, event.EventType, body)
	})
	if err != nil {
		return fmt.Errorf("webhook: %w", err)
	}
	return nil
}

// StatusError is returned for non-2xx HTTP responses. 4xx codes also
// wrap adapter.ErrPermanent.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.Code)
}

func (e *StatusError) Unwrap() error {
	if e.Code >= 400 && e.Code < 500 {
		return adapter.ErrPermanent
	}
	return nil
}

func (a *Adapter) post(ctx context.Context, eventType string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.config.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w: %w", adapter.ErrPermanent, err)
	}

	for k, v := range a.config.Headers {
		req.Header.Set(k, v)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(EventHeader, eventType)
	if a.config.Secret != "" {
		req.Header.Set(SignatureHeader, Sign(a.config.Secret, body))
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer iox.DiscardClose(resp.Body)
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{Code: resp.StatusCode}
	}
	return nil
}

// Close releases idle connections.
func (a *Adapter) Close() error {
	a.client.CloseIdleConnections()
	return nil
}

var _ adapter.Adapter = (*Adapter)(nil)
