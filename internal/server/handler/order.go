package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/quayside-labs/swapsentinel/internal/domain"
	"github.com/quayside-labs/swapsentinel/internal/service"
)

// OrderService defines the methods that the order handler requires from the
// service layer.
type OrderService interface {
	CreateOrder(ctx context.Context, req service.CreateOrderRequest) (domain.Order, error)
	CancelOrder(ctx context.Context, id, account string) (domain.Order, error)
	AdjustOrder(ctx context.Context, id, account string, req service.AdjustOrderRequest) (domain.Order, error)
	GetOrder(ctx context.Context, id, account string) (domain.Order, error)
	ListOrders(ctx context.Context, account string, opts domain.ListOpts) ([]domain.Order, error)
}

// OrderHandler serves order-related HTTP endpoints.
type OrderHandler struct {
	orders OrderService
	logger *slog.Logger
}

// NewOrderHandler creates an OrderHandler with the given service and logger.
func NewOrderHandler(orders OrderService, logger *slog.Logger) *OrderHandler {
	return &OrderHandler{
		orders: orders,
		logger: logger,
	}
}

// listOrdersResponse wraps the list orders response.
type listOrdersResponse struct {
	Orders []domain.Order `json:"orders"`
}

// CreateOrder creates a new conditional swap order.
// POST /api/orders
func (h *OrderHandler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req service.CreateOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	order, err := h.orders.CreateOrder(r.Context(), req)
	if err != nil {
		if errors.Is(err, domain.ErrRateLimited) {
			writeError(w, http.StatusTooManyRequests, "rate limited")
			return
		}
		var verr *domain.ValidationError
		if errors.As(err, &verr) {
			writeJSON(w, http.StatusUnprocessableEntity, verr)
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: create order failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to create order")
		return
	}

	writeJSON(w, http.StatusCreated, order)
}

// ListOrders returns an account's orders, newest first.
// GET /api/orders?account=...&limit=50&offset=0
func (h *OrderHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	account := r.URL.Query().Get("account")
	if account == "" {
		writeError(w, http.StatusBadRequest, "account query parameter required")
		return
	}

	orders, err := h.orders.ListOrders(r.Context(), account, parseListOpts(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list orders failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list orders")
		return
	}

	if orders == nil {
		orders = []domain.Order{}
	}

	writeJSON(w, http.StatusOK, listOrdersResponse{Orders: orders})
}

// GetOrder returns one order by ID, scoped to the owning account.
// GET /api/orders/{id}?account=...
func (h *OrderHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	account := r.URL.Query().Get("account")
	if id == "" || account == "" {
		writeError(w, http.StatusBadRequest, "order id and account are required")
		return
	}

	order, err := h.orders.GetOrder(r.Context(), id, account)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "order not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: get order failed",
			slog.String("order_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get order")
		return
	}

	writeJSON(w, http.StatusOK, order)
}

// AdjustOrder updates slippage and/or expiry on an active order.
// PATCH /api/orders/{id}?account=...
func (h *OrderHandler) AdjustOrder(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	account := r.URL.Query().Get("account")
	if id == "" || account == "" {
		writeError(w, http.StatusBadRequest, "order id and account are required")
		return
	}

	var req service.AdjustOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	order, err := h.orders.AdjustOrder(r.Context(), id, account, req)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrNotFound):
			writeError(w, http.StatusNotFound, "order not found")
		case errors.Is(err, domain.ErrNotModifiable):
			writeError(w, http.StatusConflict, "order is not modifiable in its current state")
		case errors.Is(err, domain.ErrInvalidOrder):
			writeError(w, http.StatusUnprocessableEntity, err.Error())
		default:
			h.logger.ErrorContext(r.Context(), "handler: adjust order failed",
				slog.String("order_id", id),
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusInternalServerError, "failed to adjust order")
		}
		return
	}

	writeJSON(w, http.StatusOK, order)
}

// CancelOrder cancels an active order by its ID.
// DELETE /api/orders/{id}?account=...
func (h *OrderHandler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	account := r.URL.Query().Get("account")
	if id == "" || account == "" {
		writeError(w, http.StatusBadRequest, "order id and account are required")
		return
	}

	order, err := h.orders.CancelOrder(r.Context(), id, account)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrNotFound):
			writeError(w, http.StatusNotFound, "order not found")
		case errors.Is(err, domain.ErrNotModifiable):
			writeError(w, http.StatusConflict, "order is not cancellable in its current state")
		default:
			h.logger.ErrorContext(r.Context(), "handler: cancel order failed",
				slog.String("order_id", id),
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusInternalServerError, "failed to cancel order")
		}
		return
	}

	writeJSON(w, http.StatusOK, order)
}
