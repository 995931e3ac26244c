package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/prperemyshlev/identity-service/internal/config"
)

const brevoTimeout = 10 * time.Second

// Email is a rendered message ready to hand to the provider.
type Email struct {
	To      Recipient
	Subject string
	HTML    string
	Tags    []string
}

type brevoContact struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type brevoRequest struct {
	Sender      brevoContact   `json:"sender"`
	To          []brevoContact `json:"to"`
	Subject     string         `json:"subject"`
	HTMLContent string         `json:"htmlContent"`
	Tags        []string       `json:"tags,omitempty"`
}

// BrevoClient sends transactional email through the Brevo HTTP API.
type BrevoClient struct {
	http    *http.Client
	baseURL string
	apiKey  string
	sender  brevoContact
}

func NewBrevoClient(cfg config.BrevoConfig) *BrevoClient {
	return &BrevoClient{
		http:    &http.Client{Timeout: brevoTimeout},
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		sender:  brevoContact{Email: cfg.SenderEmail, Name: cfg.SenderName},
	}
}

func (c *BrevoClient) Configured() bool {
	return c.apiKey != ""
}

func (c *BrevoClient) Send(ctx context.Context, email Email) error {
	if !c.Configured() {
		return fmt.Errorf("brevo api key is not set")
	}

	body, err := json.Marshal(brevoRequest{
		Sender:      c.sender,
		To:          []brevoContact{{Email: email.To.Email, Name: email.To.Name}},
		Subject:     email.Subject,
		HTMLContent: email.HTML,
		Tags:        email.Tags,
	})
	if err != nil {
		return fmt.Errorf("failed to encode email: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/smtp/email", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("api-key", c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call brevo: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusMultipleChoices {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("brevo returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	return nil
}

// DirectSender renders and sends each email synchronously.
type DirectSender struct {
	client *BrevoClient
}

func NewDirectSender(client *BrevoClient) *DirectSender {
	return &DirectSender{client: client}
}

func (s *DirectSender) Configured() bool {
	return s.client.Configured()
}

func (s *DirectSender) SendVerification(ctx context.Context, to Recipient, token, link string, ttl time.Duration) error {
	return s.Deliver(ctx, Job{Kind: KindVerification, To: to, Token: token, Link: link, TTL: ttl})
}

func (s *DirectSender) SendPasswordReset(ctx context.Context, to Recipient, link string, ttl time.Duration) error {
	return s.Deliver(ctx, Job{Kind: KindPasswordReset, To: to, Link: link, TTL: ttl})
}

func (s *DirectSender) SendWelcome(ctx context.Context, to Recipient, dashboardLink string) error {
	return s.Deliver(ctx, Job{Kind: KindWelcome, To: to, Link: dashboardLink})
}

// Deliver renders job and sends it.
func (s *DirectSender) Deliver(ctx context.Context, job Job) error {
	email, err := Render(job)
	if err != nil {
		return err
	}
	return s.client.Send(ctx, email)
}
