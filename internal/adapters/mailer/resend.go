package mailer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	// ResendAPIURL is the Resend API endpoint
	ResendAPIURL = "https://api.resend.com/emails"
	// DefaultTimeout for HTTP requests
	DefaultTimeout = 15 * time.Second
)

// ResendMailer sends transactional email via the Resend API.
type ResendMailer struct {
	apiKey string
	from   string
	client *http.Client

	// BaseURL overrides the Resend endpoint, used by tests.
	BaseURL string
}

// NewResendMailer creates a Resend-backed mailer. from is the sender
// identity, e.g. "SquarePro <no-reply@squarepro.co.uk>".
func NewResendMailer(apiKey, from string) *ResendMailer {
	return &ResendMailer{
		apiKey:  apiKey,
		from:    from,
		client:  &http.Client{Timeout: DefaultTimeout},
		BaseURL: ResendAPIURL,
	}
}

func (m *ResendMailer) SendOTPCode(ctx context.Context, to, code string) error {
	text := fmt.Sprintf("Your SquarePro code is: %s\n\nIt expires in 10 minutes.", code)
	return m.send(ctx, to, "Your SquarePro verification code", text)
}

func (m *ResendMailer) SendLicenseKey(ctx context.Context, to, licenseKey string) error {
	snippet := fmt.Sprintf(`<script src="https://cdn.squarepro.co.uk/squarepro.min.js" data-squarepro-key="%s"></script>`, licenseKey)
	text := fmt.Sprintf("Here's your SquarePro license key:\n\n%s\n\n"+
		"Install (Squarespace -> Settings -> Advanced -> Code Injection -> HEADER):\n\n%s\n\n"+
		"Activation:\n"+
		"1) Load once on yoursite.squarespace.com (preview domain)\n"+
		"2) Load once on your live domain\n"+
		"Your license will bind to those two domains.\n", licenseKey, snippet)
	return m.send(ctx, to, "Your SquarePro license key", text)
}

func (m *ResendMailer) send(ctx context.Context, to, subject, text string) error {
	payload := map[string]interface{}{
		"from":    m.from,
		"to":      []string{to},
		"subject": subject,
		"text":    text,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.BaseURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+m.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("resend API error (status %d): %s", resp.StatusCode, detail)
	}
	return nil
}
