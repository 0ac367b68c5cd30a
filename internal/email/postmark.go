package email

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

const postmarkURL = "https://api.postmarkapp.com/email"

// Client sends email through the Postmark HTTP API.
type Client struct {
	serverToken string
	fromEmail   string
	httpClient  *http.Client
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.httpClient = c
	}
}

func NewClient(serverToken, fromEmail string, opts ...Option) *Client {
	c := &Client{
		serverToken: serverToken,
		fromEmail:   fromEmail,
		httpClient:  &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Configured returns true if the server token is set.
func (c *Client) Configured() bool {
	return c.serverToken != ""
}

type postmarkEmail struct {
	From          string `json:"From"`
	To            string `json:"To"`
	Subject       string `json:"Subject"`
	HtmlBody      string `json:"HtmlBody"`
	MessageStream string `json:"MessageStream"`
}

type postmarkResponse struct {
	MessageID   string `json:"MessageID"`
	ErrorCode   int    `json:"ErrorCode"`
	Message     string `json:"Message"`
	SubmittedAt string `json:"SubmittedAt"`
}

func (c *Client) Send(ctx context.Context, to, subject, htmlBody string) (Receipt, error) {
	if !c.Configured() {
		return Receipt{}, fmt.Errorf("email client not configured: missing server token")
	}

	payload := postmarkEmail{
		From:          c.fromEmail,
		To:            to,
		Subject:       subject,
		HtmlBody:      htmlBody,
		MessageStream: "outbound",
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return Receipt{}, fmt.Errorf("marshal email: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, postmarkURL, bytes.NewReader(body))
	if err != nil {
		return Receipt{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Postmark-Server-Token", c.serverToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Receipt{}, fmt.Errorf("send email: %w", err)
	}
	defer resp.Body.Close()

	var pr postmarkResponse
	decodeErr := json.NewDecoder(resp.Body).Decode(&pr)

	if resp.StatusCode >= 400 {
		if decodeErr == nil && pr.ErrorCode != 0 {
			return Receipt{}, fmt.Errorf("postmark API error: status %d: code %d", resp.StatusCode, pr.ErrorCode)
		}
		return Receipt{}, fmt.Errorf("postmark API error: status %d", resp.StatusCode)
	}
	if decodeErr != nil {
		return Receipt{}, fmt.Errorf("decode postmark response: %w", decodeErr)
	}

	return Receipt{ID: pr.MessageID, Provider: "postmark", AcceptedAt: time.Now().UTC()}, nil
}
