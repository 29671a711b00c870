// Package mail submits HTML email through the Resend API.
package mail

import (
	"context"
	"errors"
	"net/http"
	"time"

	"opsdesk/internal/remote"
)

const DefaultEndpoint = "https://api.resend.com/emails"

// Message is one outbound email with a single recipient.
type Message struct {
	From    string
	To      string
	Subject string
	HTML    string
	ReplyTo string
}

// Receipt carries the provider-assigned message id.
type Receipt struct {
	ID string `json:"id"`
}

type APIError = remote.APIError

// Client is a Resend client.
type Client struct {
	endpoint string
	caller   remote.Caller
}

// New creates a client. An empty endpoint uses DefaultEndpoint.
func New(apiKey, endpoint string, httpClient *http.Client) *Client {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	return &Client{
		endpoint: endpoint,
		caller: remote.Caller{
			Service:    "email",
			Header:     remote.Bearer(apiKey),
			HTTPClient: httpClient,
			Timeout:    30 * time.Second,
		},
	}
}

// Send submits one email synchronously. Any non-2xx status is an error.
func (c *Client) Send(ctx context.Context, msg Message) (Receipt, error) {
	if msg.To == "" {
		return Receipt{}, errors.New("recipient is required")
	}
	body := map[string]any{
		"from":    msg.From,
		"to":      []string{msg.To},
		"subject": msg.Subject,
		"html":    msg.HTML,
	}
	if msg.ReplyTo != "" {
		body["reply_to"] = msg.ReplyTo
	}
	var r Receipt
	if err := c.caller.Do(ctx, "send", http.MethodPost, c.endpoint, body, &r); err != nil {
		return Receipt{}, err
	}
	return r, nil
}
