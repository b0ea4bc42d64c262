// Package webhook publishes JSON events to an Upstash-QStash-compatible
// message endpoint over plain HTTP.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const maxResponseBytes = 1 << 20

// Config holds publisher settings. The signing keys verify signatures on
// QStash callback deliveries, not outbound publishes.
type Config struct {
	URL               string        `split_words:"true"`
	Token             string        `split_words:"true"`
	Destination       string        `split_words:"true"`
	CurrentSigningKey string        `split_words:"true"`
	NextSigningKey    string        `split_words:"true"`
	Timeout           time.Duration `split_words:"true" default:"10s"`
}

// Enabled reports whether a publish endpoint is configured.
func (c Config) Enabled() bool {
	return strings.TrimSpace(c.URL) != "" && strings.TrimSpace(c.Destination) != ""
}

type Client struct {
	baseURL           string
	token             string
	destination       string
	currentSigningKey string
	nextSigningKey    string
	httpClient        *http.Client
}

func NewClient(cfg Config) (*Client, error) {
	baseURL := strings.TrimSpace(cfg.URL)
	if baseURL == "" {
		return nil, errors.New("webhook url is required")
	}
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, err
	}

	destination := strings.TrimSpace(cfg.Destination)
	if destination == "" {
		return nil, errors.New("webhook destination is required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &Client{
		baseURL:           strings.TrimRight(baseURL, "/"),
		token:             strings.TrimSpace(cfg.Token),
		destination:       destination,
		currentSigningKey: strings.TrimSpace(cfg.CurrentSigningKey),
		nextSigningKey:    strings.TrimSpace(cfg.NextSigningKey),
		httpClient:        &http.Client{Timeout: timeout},
	}, nil
}

func MustNew(cfg Config) *Client {
	client, err := NewClient(cfg)
	if err != nil {
		panic(err)
	}
	return client
}

// PublishJSON enqueues payload for delivery to the configured destination.
// The topic travels as a forwarded header so consumers can fan out without
// parsing the body. Delivery retries are the broker's responsibility.
func (c *Client) PublishJSON(ctx context.Context, topic string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("webhook: marshal payload: %w", err)
	}

	endpoint := c.baseURL + "/v2/publish/" + url.PathEscape(c.destination)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Upstash-Forward-Topic", topic)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: publish %s: %w", topic, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		return fmt.Errorf("webhook: publish %s: status %d: %s", topic, resp.StatusCode, strings.TrimSpace(string(detail)))
	}
	return nil
}
