package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// ResendProvider implements email sending via the Resend API
type ResendProvider struct {
	apiKey   string
	baseURL  string
	client   *http.Client
	maxTries uint
}

// ResendRequest represents a request to the Resend API
type ResendRequest struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html,omitempty"`
	Text    string   `json:"text,omitempty"`
	ReplyTo string   `json:"reply_to,omitempty"`
}

// ResendResponse represents a response from the Resend API
type ResendResponse struct {
	ID    string `json:"id"`
	Error string `json:"message,omitempty"`
}

// NewResendProvider creates a Resend provider. Recognised keys: api_key (required),
// base_url, timeout (time.Duration) and max_tries (int).
func NewResendProvider(config map[string]any) (EmailProvider, error) {
	apiKey, ok := config["api_key"].(string)
	if !ok || apiKey == "" {
		return nil, fmt.Errorf("%w: api_key is required for Resend provider", ErrProviderConfig)
	}

	baseURL := "https://api.resend.com"
	if url, ok := config["base_url"].(string); ok && url != "" {
		baseURL = url
	}

	timeout := 30 * time.Second
	if t, ok := config["timeout"].(time.Duration); ok && t > 0 {
		timeout = t
	}

	maxTries := uint(3)
	if n, ok := config["max_tries"].(int); ok && n > 0 {
		maxTries = uint(n)
	}

	return &ResendProvider{
		apiKey:   apiKey,
		baseURL:  baseURL,
		client:   &http.Client{Timeout: timeout},
		maxTries: maxTries,
	}, nil
}

// Name returns the provider name
func (r *ResendProvider) Name() string {
	return "resend"
}

// SendEmail sends an email via the Resend API, retrying server errors and rate limits.
func (r *ResendProvider) SendEmail(ctx context.Context, message *EmailMessage) error {
	reqBody := ResendRequest{
		From:    fmt.Sprintf("%s <%s>", message.FromName, message.FromEmail),
		To:      []string{message.To},
		Subject: message.Subject,
		Text:    message.TextBody,
		HTML:    message.HTMLBody,
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("%w: failed to marshal request: %v", ErrEmailSendFailed, err)
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 200 * time.Millisecond

	_, err = backoff.Retry(ctx, func() (string, error) {
		return r.post(ctx, jsonBody)
	}, backoff.WithBackOff(policy), backoff.WithMaxTries(r.maxTries))
	return err
}

func (r *ResendProvider) post(ctx context.Context, body []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/emails", bytes.NewReader(body))
	if err != nil {
		return "", backoff.Permanent(fmt.Errorf("%w: failed to create request: %v", ErrEmailSendFailed, err))
	}

	req.Header.Set("Authorization", "Bearer "+r.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: request failed: %v", ErrEmailSendFailed, err)
	}
	defer resp.Body.Close()

	var resendResp ResendResponse
	_ = json.NewDecoder(resp.Body).Decode(&resendResp)

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return "", fmt.Errorf("%w: Resend API error (%d): %s", ErrEmailSendFailed, resp.StatusCode, resendResp.Error)
	case resp.StatusCode >= 400:
		return "", backoff.Permanent(fmt.Errorf("%w: Resend API error (%d): %s", ErrEmailSendFailed, resp.StatusCode, resendResp.Error))
	}

	return resendResp.ID, nil
}

// Close cleans up resources
func (r *ResendProvider) Close() error {
	r.client.CloseIdleConnections()
	return nil
}
