package handlers

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/a-h/templ"
	"github.com/gorilla/mux"

	"github.com/sky940714/shophub/internal/cache"
	"github.com/sky940714/shophub/internal/ecpay"
	"github.com/sky940714/shophub/internal/logging"
	"github.com/sky940714/shophub/internal/services"
	"github.com/sky940714/shophub/ui/views"
)

const (
	// webhookIdempotencyTTL is how long acknowledged deliveries are remembered.
	webhookIdempotencyTTL = 24 * time.Hour
	// webhookInflightTTL bounds a claim left behind by a crashed request.
	webhookInflightTTL = 2 * time.Minute

	deliveryProcessing = "processing"
	deliveryProcessed  = "processed"
)

type deliveryState int

const (
	deliveryNew deliveryState = iota
	deliveryInFlight
	deliveryDone
)

// PaymentCallback reconciles the gateway's server-to-server payment
// notification. Only a checksum mismatch or an infrastructure failure is
// answered negatively; the gateway retries anything but "1|OK".
func (h *Handlers) PaymentCallback(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBodyBytes)
	if err := r.ParseForm(); err != nil {
		h.loggerFromContext(r.Context()).Warn("failed to parse payment notification", "error", err)
		writeAck(w, http.StatusBadRequest, ecpay.AckRejected)
		return
	}

	fields := ecpay.FormFields(r.PostForm)
	ctx, logger := logging.With(r.Context(), h.logger, "merchant_trade_no", fields["MerchantTradeNo"])

	cacheKey := cache.DeliveryKey("ecpay-payment", fields)
	state := h.claimDelivery(ctx, cacheKey, logger)
	if state == deliveryDone {
		logger.Info("payment notification already processed")
		writeAck(w, http.StatusOK, ecpay.AckOK)
		return
	}
	// A copy that arrives while the first delivery is still running is
	// applied as well; the conditional update makes the second one a
	// duplicate. Only the claim owner touches the cache entry.
	owner := state == deliveryNew
	if !owner {
		logger.Info("payment notification copy arrived while another request holds the claim")
	}

	outcome, err := h.paymentService.HandleNotification(ctx, fields)
	switch {
	case errors.Is(err, services.ErrIntegrity):
		logger.Warn("rejected payment notification", "error", err)
		if owner {
			h.releaseDelivery(ctx, cacheKey, logger)
		}
		writeAck(w, http.StatusOK, ecpay.AckRejected)
	case err != nil:
		logger.Error("failed to process payment notification", "error", err, "outcome", outcome)
		if owner {
			h.releaseDelivery(ctx, cacheKey, logger)
		}
		writeAck(w, http.StatusInternalServerError, ecpay.AckRejected)
	default:
		logger.Info("payment notification handled", "outcome", outcome, "claim_owner", owner)
		if owner {
			h.rememberDelivery(ctx, cacheKey, logger)
		}
		writeAck(w, http.StatusOK, ecpay.AckOK)
	}
}

// LogisticsCallback applies a carrier status update. The gateway is always
// acknowledged.
func (h *Handlers) LogisticsCallback(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBodyBytes)
	if err := r.ParseForm(); err != nil {
		h.loggerFromContext(r.Context()).Warn("failed to parse logistics notification", "error", err)
		writeAck(w, http.StatusOK, ecpay.AckOK)
		return
	}

	fields := ecpay.FormFields(r.PostForm)
	ctx, logger := logging.With(r.Context(), h.logger,
		"logistics_id", fields["AllPayLogisticsID"],
		"rtn_code", fields["RtnCode"],
	)

	cacheKey := cache.DeliveryKey("ecpay-logistics", fields)
	if state := h.claimDelivery(ctx, cacheKey, logger); state != deliveryNew {
		logger.Info("logistics notification already seen", "in_flight", state == deliveryInFlight)
		writeAck(w, http.StatusOK, ecpay.AckOK)
		return
	}

	outcome, err := h.logisticsService.HandleStatusNotification(ctx, fields)
	switch {
	case err != nil:
		logger.Error("failed to process logistics notification", "error", err, "outcome", outcome)
		h.releaseDelivery(ctx, cacheKey, logger)
	case outcome == services.LogisticsRejected:
		logger.Warn("rejected logistics notification")
		h.releaseDelivery(ctx, cacheKey, logger)
	default:
		logger.Info("logistics notification handled", "outcome", outcome)
		h.rememberDelivery(ctx, cacheKey, logger)
	}
	writeAck(w, http.StatusOK, ecpay.AckOK)
}

// PaymentPage sends the buyer's browser to the hosted checkout for an order
// that still awaits online payment.
func (h *Handlers) PaymentPage(w http.ResponseWriter, r *http.Request) {
	form, err := h.orderService.PaymentForm(r.Context(), mux.Vars(r)["orderNo"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.renderGatewayForm(w, r, views.PaymentRedirect(h.config.StoreName, gatewayForm(form)))
}

func (h *Handlers) renderGatewayForm(w http.ResponseWriter, r *http.Request, page templ.Component) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	if err := page.Render(r.Context(), w); err != nil {
		h.loggerFromContext(r.Context()).Error("failed to render gateway form", "error", err)
	}
}

// claimDelivery marks key as in flight. A cache outage degrades to
// processing every delivery; the store's conditional updates still hold.
func (h *Handlers) claimDelivery(ctx context.Context, key string, logger *slog.Logger) deliveryState {
	claimed, err := h.cacheProvider.Claim(ctx, key, deliveryProcessing, webhookInflightTTL)
	if err != nil {
		logger.Warn("webhook de-duplication unavailable", "error", err)
		return deliveryNew
	}
	if claimed {
		return deliveryNew
	}
	value, err := h.cacheProvider.Get(ctx, key)
	switch {
	case errors.Is(err, cache.ErrNotFound):
		// released between the two calls
		return deliveryNew
	case err != nil:
		logger.Warn("webhook de-duplication unavailable", "error", err)
		return deliveryNew
	case value == deliveryProcessed:
		return deliveryDone
	default:
		return deliveryInFlight
	}
}

func (h *Handlers) rememberDelivery(ctx context.Context, key string, logger *slog.Logger) {
	if err := h.cacheProvider.Set(ctx, key, deliveryProcessed, webhookIdempotencyTTL); err != nil {
		logger.Error("failed to mark webhook as processed in cache", "error", err)
	}
}

func (h *Handlers) releaseDelivery(ctx context.Context, key string, logger *slog.Logger) {
	if err := h.cacheProvider.Delete(ctx, key); err != nil {
		logger.Warn("failed to release webhook claim", "error", err)
	}
}

func writeAck(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, body)
}
