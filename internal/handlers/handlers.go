package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/sky940714/shophub/internal/auth"
	"github.com/sky940714/shophub/internal/cache"
	"github.com/sky940714/shophub/internal/config"
	"github.com/sky940714/shophub/internal/logging"
	"github.com/sky940714/shophub/internal/observability"
	"github.com/sky940714/shophub/internal/services"
)

const (
	maxWebhookBodyBytes = 1 << 20 // 1 MB
	maxJSONBodyBytes    = 1 << 20
)

type pinger interface {
	Ping(ctx context.Context) error
}

// Handlers provides the storefront order API.
type Handlers struct {
	config           *config.Config
	store            pinger
	cacheProvider    cache.Provider
	orderService     *services.OrderService
	adminService     *services.AdminService
	paymentService   *services.PaymentService
	logisticsService *services.LogisticsService
	verifier         *auth.Verifier
	metrics          *observability.Metrics
	logger           *slog.Logger
}

type Dependencies struct {
	Config           *config.Config
	Store            pinger
	CacheProvider    cache.Provider
	OrderService     *services.OrderService
	AdminService     *services.AdminService
	PaymentService   *services.PaymentService
	LogisticsService *services.LogisticsService
	Verifier         *auth.Verifier
	Metrics          *observability.Metrics
	Logger           *slog.Logger
}

func New(deps Dependencies) (*Handlers, error) {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	if deps.Config == nil {
		return nil, fmt.Errorf("handlers dependencies: config is required")
	}
	if deps.Store == nil {
		return nil, fmt.Errorf("handlers dependencies: store is required")
	}
	if deps.CacheProvider == nil {
		return nil, fmt.Errorf("handlers dependencies: cacheProvider is required")
	}
	if deps.OrderService == nil {
		return nil, fmt.Errorf("handlers dependencies: orderService is required")
	}
	if deps.AdminService == nil {
		return nil, fmt.Errorf("handlers dependencies: adminService is required")
	}
	if deps.PaymentService == nil {
		return nil, fmt.Errorf("handlers dependencies: paymentService is required")
	}
	if deps.LogisticsService == nil {
		return nil, fmt.Errorf("handlers dependencies: logisticsService is required")
	}
	if deps.Verifier == nil {
		return nil, fmt.Errorf("handlers dependencies: verifier is required")
	}
	if deps.Metrics == nil {
		return nil, fmt.Errorf("handlers dependencies: metrics is required")
	}

	return &Handlers{
		config:           deps.Config,
		store:            deps.Store,
		cacheProvider:    deps.CacheProvider,
		orderService:     deps.OrderService,
		adminService:     deps.AdminService,
		paymentService:   deps.PaymentService,
		logisticsService: deps.LogisticsService,
		verifier:         deps.Verifier,
		metrics:          deps.Metrics,
		logger:           logger.With("component", "handlers"),
	}, nil
}

func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.loggerFromContext(ctx)

	if err := h.store.Ping(ctx); err != nil {
		logger.Error("database health check failed", "error", err)
		http.Error(w, "Database unhealthy", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]string{
		"status": "healthy",
	}); err != nil {
		logger.Error("failed to encode health response", "error", err)
	}
}

// Metrics exposes the domain counters in Prometheus text format.
func (h *Handlers) Metrics(w http.ResponseWriter, r *http.Request) {
	h.metrics.Handler().ServeHTTP(w, r)
}

// NotFound answers unmatched routes with the API error envelope.
func (h *Handlers) NotFound(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, r, http.StatusNotFound, errorResponse{Error: "route not found"})
}

func (h *Handlers) loggerFromContext(ctx context.Context) *slog.Logger {
	return logging.FromContext(ctx, h.logger)
}
