// Package whatsapp sends outbound messages through the Meta WhatsApp
// Cloud API.
package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// DefaultBaseURL is the Graph API endpoint for the Cloud API.
const DefaultBaseURL = "https://graph.facebook.com/v21.0"

// ErrSendFailed indicates the Cloud API rejected or failed the send.
var ErrSendFailed = errors.New("whatsapp send failed")

// Client sends messages via the Cloud API. Safe for concurrent use.
type Client struct {
	httpClient    *http.Client
	baseURL       string
	accessToken   string
	phoneNumberID string
	logger        *slog.Logger
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client, mainly for tests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithBaseURL overrides the Graph API endpoint, mainly for tests.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = u }
}

// New creates a Cloud API client for one business phone number.
func New(accessToken, phoneNumberID string, logger *slog.Logger, opts ...Option) (*Client, error) {
	if accessToken == "" {
		return nil, fmt.Errorf("access token is required")
	}
	if phoneNumberID == "" {
		return nil, fmt.Errorf("phone number ID is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		httpClient:    &http.Client{Timeout: 10 * time.Second},
		baseURL:       DefaultBaseURL,
		accessToken:   accessToken,
		phoneNumberID: phoneNumberID,
		logger:        logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type textMessage struct {
	MessagingProduct string `json:"messaging_product"`
	To               string `json:"to"`
	Type             string `json:"type"`
	Text             struct {
		Body string `json:"body"`
	} `json:"text"`
}

// SendText delivers a plain text message to the given phone number.
func (c *Client) SendText(ctx context.Context, to, text string) error {
	if to == "" {
		return fmt.Errorf("%w: recipient is required", ErrSendFailed)
	}
	if text == "" {
		return fmt.Errorf("%w: message body is required", ErrSendFailed)
	}

	msg := textMessage{
		MessagingProduct: "whatsapp",
		To:               to,
		Type:             "text",
	}
	msg.Text.Body = text

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("%w: encoding message: %v", ErrSendFailed, err)
	}

	url := fmt.Sprintf("%s/%s/messages", c.baseURL, c.phoneNumberID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: building request: %v", ErrSendFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSendFailed, err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Debug("closing response body", "error", closeErr)
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		c.logger.Warn("cloud api rejected message",
			"status", resp.StatusCode, "to", to, "detail", string(detail))
		return fmt.Errorf("%w: status %d", ErrSendFailed, resp.StatusCode)
	}

	c.logger.Debug("message sent", "to", to, "bytes", len(text))
	return nil
}
