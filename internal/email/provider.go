// Package email sends transactional order emails.
package email

import (
	"context"
	"fmt"
	"strings"
)

type Provider interface {
	SendEmail(ctx context.Context, email *Email) error
	ValidateAPIKey(ctx context.Context) error
}

type Email struct {
	To      string
	Subject string
	Text    string
	HTML    string
	// Tags are forwarded to providers that support message tagging.
	Tags map[string]string
}

type Config struct {
	Provider string
	APIKey   string
	From     string
}

// NewProvider returns nil without error when email is switched off.
func NewProvider(config Config) (Provider, error) {
	switch strings.ToLower(strings.TrimSpace(config.Provider)) {
	case "", "none":
		return nil, nil
	case "resend":
		if config.APIKey == "" || config.From == "" {
			return nil, fmt.Errorf("resend requires an API key and a from address")
		}
		return NewResendProvider(config.APIKey, config.From), nil
	default:
		return nil, fmt.Errorf("EMAIL_PROVIDER must be either 'none' or 'resend'")
	}
}
