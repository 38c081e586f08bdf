package email

import (
	"context"
	"errors"
	"fmt"
	"sort"

	resend "github.com/resend/resend-go/v3"
)

var errEmptyBody = errors.New("email body is empty")

type ResendProvider struct {
	from   string
	client *resend.Client
}

func NewResendProvider(apiKey, from string) *ResendProvider {
	return &ResendProvider{from: from, client: resend.NewClient(apiKey)}
}

func (r *ResendProvider) SendEmail(ctx context.Context, msg *Email) error {
	req, err := r.request(msg)
	if err != nil {
		return err
	}
	if _, err := r.client.Emails.SendWithContext(ctx, req); err != nil {
		return fmt.Errorf("resend send to %s: %w", msg.To, err)
	}
	return nil
}

// ValidateAPIKey lists the account's keys, which fails fast on a revoked or
// mistyped key.
func (r *ResendProvider) ValidateAPIKey(ctx context.Context) error {
	if _, err := r.client.ApiKeys.ListWithContext(ctx); err != nil {
		return fmt.Errorf("resend API key rejected: %w", err)
	}
	return nil
}

func (r *ResendProvider) request(msg *Email) (*resend.SendEmailRequest, error) {
	if msg == nil || msg.To == "" {
		return nil, fmt.Errorf("email recipient is required")
	}
	if msg.HTML == "" && msg.Text == "" {
		return nil, errEmptyBody
	}

	req := &resend.SendEmailRequest{
		From:    r.from,
		To:      []string{msg.To},
		Subject: msg.Subject,
		Html:    msg.HTML,
		Text:    msg.Text,
	}

	names := make([]string, 0, len(msg.Tags))
	for name := range msg.Tags {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		req.Tags = append(req.Tags, resend.Tag{Name: name, Value: msg.Tags[name]})
	}
	return req, nil
}
