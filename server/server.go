package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/sky940714/shophub/internal/config"
	"github.com/sky940714/shophub/internal/ecpay"
	"github.com/sky940714/shophub/internal/handlers"
)

// writeTimeoutSlack is added to the gateway timeout so a slow shipment call
// can still be answered.
const writeTimeoutSlack = 15 * time.Second

type Server struct {
	cfg        *config.Config
	logger     *slog.Logger
	handlers   *handlers.Handlers
	httpServer *http.Server
}

func New(cfg *config.Config, logger *slog.Logger, h *handlers.Handlers) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if h == nil {
		return nil, fmt.Errorf("handlers are required")
	}

	s := &Server{
		cfg:      cfg,
		logger:   logger,
		handlers: h,
	}

	router := s.buildRouter()
	s.httpServer = &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           h.CORS(router),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.ECPayTimeout + writeTimeoutSlack,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	return s, nil
}

func (s *Server) Run() error {
	s.logger.Info("server starting", "port", s.cfg.Port)

	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Close(ctx context.Context) error {
	if s == nil || s.httpServer == nil {
		return nil
	}

	s.logger.Info("server shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return err
	}
	s.logger.Info("server stopped")
	return nil
}

func (s *Server) buildRouter() *mux.Router {
	h := s.handlers

	r := mux.NewRouter()
	r.Use(h.RequestLogger)
	r.Use(h.SecurityHeaders)
	r.Use(h.MetricsContext)
	r.HandleFunc("/health", h.Health).Methods("GET").Name("health")
	r.HandleFunc("/metrics", h.Metrics).Methods("GET").Name("metrics")

	r.NotFoundHandler = http.HandlerFunc(h.NotFound)

	// Gateway callbacks and the checkout redirect are called without a token.
	r.HandleFunc(ecpay.PaymentCallbackPath, h.PaymentCallback).Methods("POST").Name("ecpay.payment_callback")
	r.HandleFunc(ecpay.LogisticsCallbackPath, h.LogisticsCallback).Methods("POST").Name("ecpay.logistics_callback")
	r.HandleFunc("/api/ecpay/pay/{orderNo}", h.PaymentPage).Methods("GET").Name("ecpay.pay")

	ecpayAdmin := r.PathPrefix("/api/ecpay").Subrouter()
	ecpayAdmin.Use(h.RequireAdmin)
	ecpayAdmin.HandleFunc("/create-shipping", h.CreateShipment).Methods("POST").Name("ecpay.create_shipping")
	ecpayAdmin.HandleFunc("/print-shipping", h.PrintShippingLabel).Methods("GET").Name("ecpay.print_shipping")

	// Admin routes must be registered before the member {orderNo} routes.
	adminRouter := r.PathPrefix("/api/orders/admin").Subrouter()
	adminRouter.Use(h.RequireAdmin)
	adminRouter.HandleFunc("/all", h.AdminListOrders).Methods("GET").Name("admin.orders.list")
	adminRouter.HandleFunc("/dashboard/stats", h.AdminStats).Methods("GET").Name("admin.dashboard.stats")
	adminRouter.HandleFunc("/{orderNo}", h.AdminGetOrder).Methods("GET").Name("admin.orders.get")
	adminRouter.HandleFunc("/{orderNo}", h.AdminDeleteOrder).Methods("DELETE").Name("admin.orders.delete")
	adminRouter.HandleFunc("/{orderNo}/status", h.AdminUpdateStatus).Methods("PUT").Name("admin.orders.status")
	adminRouter.HandleFunc("/{orderNo}/refund-account", h.AdminRefundAccount).Methods("GET").Name("admin.orders.refund_account")
	adminRouter.HandleFunc("/{orderNo}/shipment/resolve", h.AdminResolveShipment).Methods("POST").Name("admin.orders.shipment_resolve")

	memberRouter := r.PathPrefix("/api/orders").Subrouter()
	memberRouter.Use(h.RequireMember)
	memberRouter.HandleFunc("", h.CreateOrder).Methods("POST").Name("orders.create")
	memberRouter.HandleFunc("/create", h.CreateOrder).Methods("POST").Name("orders.create.legacy")
	memberRouter.HandleFunc("", h.ListMyOrders).Methods("GET").Name("orders.list")
	memberRouter.HandleFunc("/user/list", h.ListMyOrders).Methods("GET").Name("orders.list.legacy")
	memberRouter.HandleFunc("/{orderNo}", h.GetMyOrder).Methods("GET").Name("orders.get")
	memberRouter.HandleFunc("/{orderNo}/cancel", h.CancelMyOrder).Methods("PUT").Name("orders.cancel")
	memberRouter.HandleFunc("/{orderNo}/returns", h.RequestReturn).Methods("POST").Name("orders.returns")

	return r
}
