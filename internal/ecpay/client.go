package ecpay

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sky940714/shophub/internal/observability"
)

const (
	ModeStage      = "stage"
	ModeProduction = "production"
)

type Credentials struct {
	MerchantID string
	HashKey    string
	HashIV     string
}

type Config struct {
	Mode      string
	Payment   Credentials
	Logistics Credentials
	// BaseURL is the public origin the gateway calls back.
	BaseURL       string
	ClientBackURL string
	StoreName     string
	SenderName    string
	SenderPhone   string
	Timeout       time.Duration
	// Location is the zone MerchantTradeDate is rendered in.
	Location *time.Location
}

type Client struct {
	cfg        Config
	endpoints  endpoints
	httpClient *http.Client
	metrics    *observability.Metrics
	logger     *slog.Logger
	now        func() time.Time
}

func NewClient(cfg Config, metrics *observability.Metrics, logger *slog.Logger) (*Client, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = ModeStage
	}
	eps, ok := gatewayTables.Endpoints[mode]
	if !ok {
		return nil, fmt.Errorf("unsupported ECPay mode %q", cfg.Mode)
	}
	if cfg.Payment.MerchantID == "" || cfg.Payment.HashKey == "" || cfg.Payment.HashIV == "" {
		return nil, fmt.Errorf("ECPay payment credentials are required")
	}
	if cfg.Logistics.MerchantID == "" {
		cfg.Logistics = cfg.Payment
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		cfg:        cfg,
		endpoints:  eps,
		httpClient: observability.NewHTTPClient(cfg.Timeout),
		metrics:    metrics,
		logger:     logger.With("component", "ecpay"),
		now:        time.Now,
	}, nil
}

// WithHTTPClient swaps the transport, mainly so tests can point the client
// at an httptest server.
func (c *Client) WithHTTPClient(client *http.Client) *Client {
	clone := *c
	clone.httpClient = client
	return &clone
}

// WithLogisticsEndpoint overrides the shipment creation URL.
func (c *Client) WithLogisticsEndpoint(createURL string) *Client {
	clone := *c
	clone.endpoints.LogisticsCreate = createURL
	return &clone
}

func (c *Client) callbackURL(path string) string {
	return strings.TrimRight(c.cfg.BaseURL, "/") + path
}

func (c *Client) tradeDate() string {
	return c.now().In(c.cfg.Location).Format("2006/01/02 15:04:05")
}
