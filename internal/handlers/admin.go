package handlers

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/sky940714/shophub/internal/ecpay"
	"github.com/sky940714/shophub/internal/models"
	"github.com/sky940714/shophub/internal/services"
	"github.com/sky940714/shophub/ui/views"
)

type orderPageResponse struct {
	Success bool `json:"success"`
	*services.OrderPage
}

type orderDetailResponse struct {
	Success bool `json:"success"`
	*services.AdminOrderDetail
}

type statsResponse struct {
	Success bool                  `json:"success"`
	Stats   models.DashboardStats `json:"stats"`
}

type shipmentResponse struct {
	Success  bool                      `json:"success"`
	Shipment *services.ShipmentOutcome `json:"shipment"`
}

type refundAccountResponse struct {
	Success       bool   `json:"success"`
	OrderNo       string `json:"order_no"`
	AccountNumber string `json:"account_number"`
}

func (h *Handlers) AdminListOrders(w http.ResponseWriter, r *http.Request) {
	page, err := queryInt(r, "page")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	query := r.URL.Query()
	result, err := h.adminService.ListOrders(r.Context(), services.ListOrdersInput{
		Page:   page,
		Limit:  limit,
		Search: query.Get("search"),
		Status: query.Get("status"),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, orderPageResponse{Success: true, OrderPage: result})
}

func (h *Handlers) AdminGetOrder(w http.ResponseWriter, r *http.Request) {
	detail, err := h.adminService.GetOrder(r.Context(), mux.Vars(r)["orderNo"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, orderDetailResponse{Success: true, AdminOrderDetail: detail})
}

func (h *Handlers) AdminUpdateStatus(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Status string `json:"status"`
	}
	if err := decodeJSON(w, r, &body); err != nil {
		h.writeError(w, r, err)
		return
	}
	if strings.TrimSpace(body.Status) == "" {
		h.writeError(w, r, &services.ValidationError{Field: "status", Message: "is required"})
		return
	}

	order, err := h.adminService.SetStatus(r.Context(), mux.Vars(r)["orderNo"], body.Status)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, orderResponse{Success: true, Order: order})
}

func (h *Handlers) AdminDeleteOrder(w http.ResponseWriter, r *http.Request) {
	if err := h.adminService.DeleteOrder(r.Context(), mux.Vars(r)["orderNo"]); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, map[string]bool{"success": true})
}

func (h *Handlers) AdminStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.adminService.Stats(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, statsResponse{Success: true, Stats: stats})
}

// AdminRefundAccount reveals the decrypted refund account of a return.
func (h *Handlers) AdminRefundAccount(w http.ResponseWriter, r *http.Request) {
	orderNo := mux.Vars(r)["orderNo"]
	account, err := h.adminService.RevealRefundAccount(r.Context(), orderNo)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.loggerFromContext(r.Context()).Info("refund account revealed", "order_no", orderNo)
	w.Header().Set("Cache-Control", "no-store")
	h.writeJSON(w, r, http.StatusOK, refundAccountResponse{Success: true, OrderNo: orderNo, AccountNumber: account})
}

// CreateShipment books the convenience-store shipment for a paid order.
func (h *Handlers) CreateShipment(w http.ResponseWriter, r *http.Request) {
	var body struct {
		OrderNo       string `json:"order_no"`
		LegacyOrderNo string `json:"orderNo"`
	}
	if err := decodeJSON(w, r, &body); err != nil {
		h.writeError(w, r, err)
		return
	}
	orderNo := firstNonEmpty(body.OrderNo, body.LegacyOrderNo)
	if orderNo == "" {
		h.writeError(w, r, &services.ValidationError{Field: "order_no", Message: "is required"})
		return
	}

	outcome, err := h.logisticsService.CreateShipment(r.Context(), orderNo)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, shipmentResponse{Success: true, Shipment: outcome})
}

// AdminResolveShipment settles a shipment request whose outcome was never
// stored, either recording the carrier booking or releasing the claim.
func (h *Handlers) AdminResolveShipment(w http.ResponseWriter, r *http.Request) {
	var body services.ResolveShipmentInput
	if err := decodeJSON(w, r, &body); err != nil {
		h.writeError(w, r, err)
		return
	}

	outcome, err := h.logisticsService.ResolveShipment(r.Context(), mux.Vars(r)["orderNo"], body)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, shipmentResponse{Success: true, Shipment: outcome})
}

// PrintShippingLabel renders a page that forwards the signed print request
// to the carrier.
func (h *Handlers) PrintShippingLabel(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	orderNo := firstNonEmpty(query.Get("order_no"), query.Get("orderNo"))
	if orderNo == "" {
		h.writeError(w, r, &services.ValidationError{Field: "order_no", Message: "is required"})
		return
	}

	form, err := h.logisticsService.Label(r.Context(), orderNo)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.renderGatewayForm(w, r, views.ShippingLabel(orderNo, gatewayForm(form)))
}

func gatewayForm(form *ecpay.Form) views.GatewayForm {
	return views.GatewayForm{ActionURL: form.ActionURL, Fields: form.Fields}
}
