package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/artist-platform/internal/domain"
	"github.com/vasiliy-maslov/artist-platform/internal/order"
)

const maxBodyBytes = 1 << 20

type UpdateStatusRequest struct {
	Status order.OrderStatus `json:"status"`
}

// PaymentRequest carries the payment provider's transaction reference.
// payment_intent_id is accepted as an alias.
type PaymentRequest struct {
	TransactionID   string `json:"transaction_id"`
	PaymentIntentID string `json:"payment_intent_id"`
}

// OrderHandler handles HTTP requests for orders and events.
type OrderHandler struct {
	svc order.Service
}

func NewOrderHandler(svc order.Service) *OrderHandler {
	return &OrderHandler{svc: svc}
}

func (h *OrderHandler) RegisterRoutes(router chi.Router) {
	router.Post("/orders", h.CreateOrder)
	router.Get("/orders/{id}", h.GetOrderByID)
	router.Get("/orders/number/{orderNumber}", h.GetOrderByNumber)
	router.Get("/orders/customer/{email}", h.GetCustomerOrders)
	router.Patch("/orders/{id}/status", h.UpdateOrderStatus)
	router.Post("/orders/{id}/payment", h.ProcessPayment)
	router.Post("/orders/{id}/refund", h.RefundOrder)
	router.Post("/events/{id}/cancel", h.CancelEvent)
}

func (h *OrderHandler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req order.CreateOrderRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = r.Header.Get("Idempotency-Key")
	}

	created, err := h.svc.CreateOrder(r.Context(), req)
	if err != nil {
		respondWithServiceError(w, err, "create order")
		return
	}

	respondWithJSON(w, http.StatusCreated, created)
}

func (h *OrderHandler) GetOrderByID(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	o, err := h.svc.GetOrderByID(r.Context(), id)
	if err != nil {
		respondWithServiceError(w, err, "get order")
		return
	}

	respondWithJSON(w, http.StatusOK, o)
}

func (h *OrderHandler) GetOrderByNumber(w http.ResponseWriter, r *http.Request) {
	o, err := h.svc.GetOrderByNumber(r.Context(), chi.URLParam(r, "orderNumber"))
	if err != nil {
		respondWithServiceError(w, err, "get order")
		return
	}

	respondWithJSON(w, http.StatusOK, o)
}

func (h *OrderHandler) GetCustomerOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.svc.GetCustomerOrders(r.Context(), chi.URLParam(r, "email"))
	if err != nil {
		respondWithServiceError(w, err, "get customer orders")
		return
	}

	respondWithJSON(w, http.StatusOK, orders)
}

func (h *OrderHandler) UpdateOrderStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	var req UpdateStatusRequest
	if !decodeBody(w, r, &req) {
		return
	}
	status := order.OrderStatus(strings.ToUpper(strings.TrimSpace(string(req.Status))))
	if status == "" {
		respondWithError(w, http.StatusBadRequest, domain.KindValidation, "status is required")
		return
	}

	o, err := h.svc.UpdateOrderStatus(r.Context(), id, status)
	if err != nil {
		respondWithServiceError(w, err, "update order status")
		return
	}

	respondWithJSON(w, http.StatusOK, o)
}

func (h *OrderHandler) ProcessPayment(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	var req PaymentRequest
	if !decodeBody(w, r, &req) {
		return
	}
	transactionID := req.TransactionID
	if transactionID == "" {
		transactionID = req.PaymentIntentID
	}

	o, err := h.svc.ProcessPayment(r.Context(), id, transactionID)
	if err != nil {
		respondWithServiceError(w, err, "process payment")
		return
	}

	respondWithJSON(w, http.StatusOK, o)
}

func (h *OrderHandler) RefundOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	o, err := h.svc.RefundOrder(r.Context(), id)
	if err != nil {
		respondWithServiceError(w, err, "refund order")
		return
	}

	respondWithJSON(w, http.StatusOK, o)
}

func (h *OrderHandler) CancelEvent(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	result, err := h.svc.CancelEvent(r.Context(), id)
	if err != nil {
		respondWithServiceError(w, err, "cancel event")
		return
	}

	respondWithJSON(w, http.StatusOK, result)
}

func parseID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	idParam := chi.URLParam(r, "id")
	id, err := uuid.FromString(idParam)
	if err != nil {
		log.Warn().Err(err).Str("id", idParam).Msg("handler: failed to parse id parameter from URL")
		respondWithError(w, http.StatusBadRequest, domain.KindValidation, "invalid id parameter")
		return uuid.Nil, false
	}
	return id, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()

	if err := decoder.Decode(dst); err != nil {
		log.Warn().Err(err).Msg("handler: failed to decode request body")
		respondWithError(w, http.StatusBadRequest, domain.KindValidation, fmt.Sprintf("invalid request payload: %v", err))
		return false
	}
	return true
}
