package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/ubi-africa/dispatch-core/internal/dispatch"
	"github.com/ubi-africa/dispatch-core/internal/domain"
)

// DispatchHandler exposes the order lifecycle (create, cancel, driver
// accept/reject) over HTTP. It is a thin layer over dispatch.Engine: every
// handler validates the request body, resolves the caller's id off the
// context, and forwards to the engine.
// OrderBinder records which rider an order belongs to, so the websocket
// hub can route order:update pushes back to the right rider socket.
// Implemented by internal/transport/ws.Hub.
type OrderBinder interface {
	BindOrder(orderID, riderID uuid.UUID)
}

type DispatchHandler struct {
	engine *dispatch.Engine
	binder OrderBinder
}

func NewDispatchHandler(engine *dispatch.Engine, binder OrderBinder) *DispatchHandler {
	return &DispatchHandler{engine: engine, binder: binder}
}

func (h *DispatchHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.CreateOrder)
	r.Post("/{orderId}/cancel", h.CancelOrder)
	r.Post("/{orderId}/accept", h.DriverAccept)
	r.Post("/{orderId}/reject", h.DriverReject)
	r.Post("/{orderId}/arrived", h.DriverArrived)
	r.Post("/{orderId}/start", h.DriverStart)
	r.Post("/{orderId}/complete", h.DriverComplete)
	return r
}

type createOrderRequest struct {
	Pickup      domain.Point       `json:"pickup"`
	Destination *domain.Point      `json:"destination,omitempty"`
	PaymentKind domain.PaymentKind `json:"payment_kind"`
	BaseFare    *int64             `json:"base_fare,omitempty"`
}

type createOrderResponse struct {
	OrderID uuid.UUID          `json:"order_id"`
	Status  domain.OrderStatus `json:"status"`
}

func (h *DispatchHandler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	riderID := userIDFromContext(r.Context())
	if riderID == uuid.Nil {
		writeError(w, http.StatusUnauthorized, domain.ErrCodeInvalidRequest, "missing authenticated rider")
		return
	}

	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, domain.ErrCodeInvalidRequest, "malformed request body")
		return
	}
	if req.Pickup.Lat == 0 && req.Pickup.Lng == 0 {
		writeError(w, http.StatusBadRequest, domain.ErrCodeInvalidLocation, "pickup location is required")
		return
	}
	if req.PaymentKind == "" {
		req.PaymentKind = domain.PaymentKindCash
	}

	order := domain.NewOrder(riderID, req.Pickup, req.Destination, req.PaymentKind, req.BaseFare)
	if h.binder != nil {
		h.binder.BindOrder(order.ID, riderID)
	}
	if err := h.engine.Submit(r.Context(), order); err != nil {
		log.Error().Err(err).Str("order_id", order.ID.String()).Msg("order submission failed")
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, createOrderResponse{OrderID: order.ID, Status: order.Status})
}

func (h *DispatchHandler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	orderID, ok := parseOrderID(w, r)
	if !ok {
		return
	}

	var body struct {
		Reason string `json:"reason"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)
	if body.Reason == "" {
		body.Reason = string(domain.CancelReasonRiderRequest)
	}

	if err := h.engine.CancelOrder(r.Context(), orderID, body.Reason); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": string(domain.OrderStatusCancelled)})
}

type driverResponseRequest struct {
	BatchNumber int    `json:"batch_number"`
	ReasonCode  string `json:"reason_code,omitempty"`
	Detail      string `json:"detail,omitempty"`
}

type driverResponseResponse struct {
	OK           bool `json:"ok"`
	AlreadyTaken bool `json:"already_taken"`
	ReDispatched bool `json:"redispatched"`
	NextBatch    int  `json:"next_batch,omitempty"`
}

func (h *DispatchHandler) DriverAccept(w http.ResponseWriter, r *http.Request) {
	orderID, ok := parseOrderID(w, r)
	if !ok {
		return
	}
	driverID := userIDFromContext(r.Context())
	if driverID == uuid.Nil {
		writeError(w, http.StatusUnauthorized, domain.ErrCodeInvalidRequest, "missing authenticated driver")
		return
	}

	var req driverResponseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, domain.ErrCodeInvalidRequest, "malformed request body")
		return
	}

	result, err := h.engine.DriverAccept(r.Context(), orderID, driverID, req.BatchNumber)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, driverResponseResponse{
		OK:           result.OK,
		AlreadyTaken: result.AlreadyTaken,
		ReDispatched: result.ReDispatched,
		NextBatch:    result.NextBatch,
	})
}

func (h *DispatchHandler) DriverReject(w http.ResponseWriter, r *http.Request) {
	orderID, ok := parseOrderID(w, r)
	if !ok {
		return
	}
	driverID := userIDFromContext(r.Context())
	if driverID == uuid.Nil {
		writeError(w, http.StatusUnauthorized, domain.ErrCodeInvalidRequest, "missing authenticated driver")
		return
	}

	var req driverResponseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, domain.ErrCodeInvalidRequest, "malformed request body")
		return
	}
	if req.ReasonCode == "" {
		writeError(w, http.StatusBadRequest, domain.ErrCodeInvalidRequest, "reason_code is required")
		return
	}

	result, err := h.engine.DriverReject(r.Context(), orderID, driverID, req.BatchNumber, req.ReasonCode, req.Detail)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, driverResponseResponse{
		OK:           result.OK,
		AlreadyTaken: result.AlreadyTaken,
		ReDispatched: result.ReDispatched,
		NextBatch:    result.NextBatch,
	})
}

// DriverArrived, DriverStart and DriverComplete drive the post-acceptance
// trip lifecycle. Dispatch no longer tracks an order's actor past ACCEPTED,
// so these go straight to dispatch.Engine's store-backed transitions
// instead of the mailbox the accept/reject handlers use.
func (h *DispatchHandler) DriverArrived(w http.ResponseWriter, r *http.Request) {
	orderID, ok := parseOrderID(w, r)
	if !ok {
		return
	}
	if err := h.engine.MarkArrived(r.Context(), orderID); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": string(domain.OrderStatusArrived)})
}

func (h *DispatchHandler) DriverStart(w http.ResponseWriter, r *http.Request) {
	orderID, ok := parseOrderID(w, r)
	if !ok {
		return
	}
	if err := h.engine.MarkStarted(r.Context(), orderID); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": string(domain.OrderStatusOnTrip)})
}

func (h *DispatchHandler) DriverComplete(w http.ResponseWriter, r *http.Request) {
	orderID, ok := parseOrderID(w, r)
	if !ok {
		return
	}
	if err := h.engine.CompleteOrder(r.Context(), orderID); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": string(domain.OrderStatusDone)})
}

func parseOrderID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	orderID, err := uuid.Parse(chi.URLParam(r, "orderId"))
	if err != nil {
		writeError(w, http.StatusBadRequest, domain.ErrCodeInvalidRequest, "invalid order id")
		return uuid.Nil, false
	}
	return orderID, true
}
