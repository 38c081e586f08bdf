package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/sky940714/shophub/internal/models"
	"github.com/sky940714/shophub/internal/services"
)

type createOrderResponse struct {
	Success bool `json:"success"`
	*services.CreateOrderResult
}

type orderResponse struct {
	Success bool          `json:"success"`
	Order   *models.Order `json:"order"`
}

type orderListResponse struct {
	Success bool           `json:"success"`
	Orders  []models.Order `json:"orders"`
}

type returnResponse struct {
	Success       bool                  `json:"success"`
	ReturnRequest *models.ReturnRequest `json:"return_request"`
}

func memberID(r *http.Request) int64 {
	p, _ := PrincipalFromContext(r.Context())
	return p.MemberID
}

// CreateOrder reserves stock and records a new order for the caller. Online
// payment methods get the signed checkout fields back; offline methods get
// null.
func (h *Handlers) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var input services.CreateOrderInput
	if err := decodeJSON(w, r, &input); err != nil {
		h.writeError(w, r, err)
		return
	}
	input.MemberID = memberID(r)

	result, err := h.orderService.Create(r.Context(), input)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusCreated, createOrderResponse{Success: true, CreateOrderResult: result})
}

func (h *Handlers) ListMyOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.orderService.ListForMember(r.Context(), memberID(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if orders == nil {
		orders = []models.Order{}
	}
	h.writeJSON(w, r, http.StatusOK, orderListResponse{Success: true, Orders: orders})
}

func (h *Handlers) GetMyOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.orderService.Get(r.Context(), memberID(r), mux.Vars(r)["orderNo"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, orderResponse{Success: true, Order: order})
}

func (h *Handlers) CancelMyOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.orderService.Cancel(r.Context(), memberID(r), mux.Vars(r)["orderNo"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, orderResponse{Success: true, Order: order})
}

func (h *Handlers) RequestReturn(w http.ResponseWriter, r *http.Request) {
	var input services.ReturnInput
	if err := decodeJSON(w, r, &input); err != nil {
		h.writeError(w, r, err)
		return
	}

	req, err := h.orderService.RequestReturn(r.Context(), memberID(r), mux.Vars(r)["orderNo"], input)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusCreated, returnResponse{Success: true, ReturnRequest: req})
}
