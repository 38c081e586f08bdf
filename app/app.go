package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sky940714/shophub/internal/auth"
	"github.com/sky940714/shophub/internal/cache"
	"github.com/sky940714/shophub/internal/config"
	"github.com/sky940714/shophub/internal/crypto"
	"github.com/sky940714/shophub/internal/db"
	"github.com/sky940714/shophub/internal/ecpay"
	"github.com/sky940714/shophub/internal/email"
	"github.com/sky940714/shophub/internal/handlers"
	"github.com/sky940714/shophub/internal/logging"
	"github.com/sky940714/shophub/internal/observability"
	"github.com/sky940714/shophub/internal/services"
)

const sentryFlushTimeout = 2 * time.Second

type App struct {
	Config        *config.Config
	Logger        *slog.Logger
	DB            *pgxpool.Pool
	CacheProvider cache.Provider
	Handlers      *handlers.Handlers

	logCloser io.Closer
	sentry    bool
}

func New() (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	logger, logCloser, err := logging.New(os.Stdout, logging.Options{
		Level:    cfg.LogLevel,
		Format:   cfg.LogFormat,
		FilePath: cfg.LogFile,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	a := &App{Config: cfg, Logger: logger, logCloser: logCloser}

	if cfg.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:              cfg.SentryDSN,
			Environment:      cfg.SentryEnvironment,
			EnableTracing:    cfg.SentryTracesSampleRate > 0,
			TracesSampleRate: cfg.SentryTracesSampleRate,
		}); err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to initialize sentry: %w", err)
		}
		a.sentry = true
	}

	startupCtx, startupCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer startupCancel()

	database, err := db.Connect(startupCtx, cfg.DatabaseURL)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.DB = database

	if cfg.AutoMigrate {
		if err := db.Migrate(startupCtx, database); err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to apply schema: %w", err)
		}
		logger.Info("database schema applied")
	}
	store := db.NewStore(database)

	cacheProvider, err := cache.NewProvider(cache.Config{
		Provider:              cfg.CacheProvider,
		RedisConnectionString: cfg.RedisConnectionString,
	})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to initialize cache provider: %w", err)
	}
	a.CacheProvider = cacheProvider

	encryptor, err := crypto.NewEncryptor(cfg.EncryptionKey)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to initialize encryptor: %w", err)
	}

	verifier, err := auth.NewVerifier(cfg.JWTSecret)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to initialize token verifier: %w", err)
	}

	metrics := observability.NewMetrics()
	loc := cfg.Location()

	logisticsMerchant, logisticsKey, logisticsIV := cfg.LogisticsCredentials()
	gateway, err := ecpay.NewClient(ecpay.Config{
		Mode: cfg.ECPayMode,
		Payment: ecpay.Credentials{
			MerchantID: cfg.ECPayMerchantID,
			HashKey:    cfg.ECPayHashKey,
			HashIV:     cfg.ECPayHashIV,
		},
		Logistics: ecpay.Credentials{
			MerchantID: logisticsMerchant,
			HashKey:    logisticsKey,
			HashIV:     logisticsIV,
		},
		BaseURL:       cfg.BaseURL,
		ClientBackURL: cfg.ClientBackURL,
		StoreName:     cfg.StoreName,
		SenderName:    cfg.SenderName,
		SenderPhone:   cfg.SenderPhone,
		Timeout:       cfg.ECPayTimeout,
		Location:      loc,
	}, metrics, logger)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to initialize ECPay client: %w", err)
	}

	emailProvider, err := email.NewProvider(email.Config{
		Provider: cfg.EmailProvider,
		APIKey:   cfg.ResendAPIKey,
		From:     cfg.EmailFrom,
	})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to initialize email provider: %w", err)
	}
	var notifier services.OrderNotifier
	if emailProvider != nil {
		if err := emailProvider.ValidateAPIKey(startupCtx); err != nil {
			logger.Warn("email provider rejected its API key", "error", err)
		}
		notifier = services.NewEmailOrderNotifier(emailProvider, cfg.StoreName, storeURL(cfg), loc)
	}

	inventory := services.NewInventoryLedger(metrics)
	points := services.NewPointLedger()

	orderService := services.NewOrderService(
		store,
		services.NewOrderNumberer(cfg.OrderNoPrefix, loc),
		inventory,
		points,
		gateway,
		encryptor,
		cfg.DefaultHomeDeliveryFee,
		metrics,
		logger.With("component", "order_service"),
	)
	adminService := services.NewAdminService(store, inventory, points, encryptor, metrics, logger.With("component", "admin_service"))
	paymentService := services.NewPaymentService(store, gateway, notifier, cfg.ECPayAcceptSimulated, metrics, logger.With("component", "payment_service"))
	logisticsService := services.NewLogisticsService(
		store,
		gateway,
		inventory,
		points,
		notifier,
		cfg.ECPayTimeout,
		metrics,
		logger.With("component", "logistics_service"),
	)

	h, err := handlers.New(handlers.Dependencies{
		Config:           cfg,
		Store:            store,
		CacheProvider:    cacheProvider,
		OrderService:     orderService,
		AdminService:     adminService,
		PaymentService:   paymentService,
		LogisticsService: logisticsService,
		Verifier:         verifier,
		Metrics:          metrics,
		Logger:           logger,
	})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to initialize handlers: %w", err)
	}
	a.Handlers = h

	return a, nil
}

func (a *App) Close() {
	if a == nil {
		return
	}
	if a.CacheProvider != nil {
		closeCacheProvider(a.Logger, a.CacheProvider)
	}
	if a.DB != nil {
		a.DB.Close()
	}
	if a.sentry {
		sentry.Flush(sentryFlushTimeout)
	}
	if a.logCloser != nil {
		_ = a.logCloser.Close()
	}
}

// storeURL is where order emails link back to.
func storeURL(cfg *config.Config) string {
	if cfg.ClientBackURL != "" {
		return cfg.ClientBackURL
	}
	return cfg.BaseURL
}

func closeCacheProvider(logger *slog.Logger, provider cache.Provider) {
	if provider == nil {
		return
	}
	if err := provider.Close(); err != nil && logger != nil {
		logger.Warn("failed to close cache provider", "error", err)
	}
}
