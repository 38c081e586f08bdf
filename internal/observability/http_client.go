package observability

import (
	"net/http"
	"time"

	sentryhttpclient "github.com/getsentry/sentry-go/httpclient"
)

var tracePropagationTargets = []string{
	"logistics-stage.ecpay.com.tw",
	"logistics.ecpay.com.tw",
	"payment-stage.ecpay.com.tw",
	"payment.ecpay.com.tw",
}

func WrapRoundTripper(base http.RoundTripper) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	return sentryhttpclient.NewSentryRoundTripper(
		base,
		sentryhttpclient.WithTracePropagationTargets(tracePropagationTargets),
	)
}

// NewHTTPClient returns a traced client. Gateway calls must never hang, so a
// non-positive timeout falls back to 15s.
func NewHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &http.Client{
		Transport: WrapRoundTripper(http.DefaultTransport),
		Timeout:   timeout,
	}
}
