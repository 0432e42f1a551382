package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quayside-labs/swapsentinel/internal/domain"
	"github.com/quayside-labs/swapsentinel/internal/service"
)

type stubOrderService struct {
	createErr error
	cancelErr error
	adjustErr error
	getErr    error
	order     domain.Order
	orders    []domain.Order
}

func (s *stubOrderService) CreateOrder(context.Context, service.CreateOrderRequest) (domain.Order, error) {
	return s.order, s.createErr
}

func (s *stubOrderService) CancelOrder(context.Context, string, string) (domain.Order, error) {
	return s.order, s.cancelErr
}

func (s *stubOrderService) AdjustOrder(context.Context, string, string, service.AdjustOrderRequest) (domain.Order, error) {
	return s.order, s.adjustErr
}

func (s *stubOrderService) GetOrder(context.Context, string, string) (domain.Order, error) {
	return s.order, s.getErr
}

func (s *stubOrderService) ListOrders(context.Context, string, domain.ListOpts) ([]domain.Order, error) {
	return s.orders, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newOrderRequest(method, target, body string) *http.Request {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	return httptest.NewRequest(method, target, reader)
}

func TestCreateOrderHandler(t *testing.T) {
	h := NewOrderHandler(&stubOrderService{
		order: domain.Order{ID: "o1", Status: domain.OrderStatusActive},
	}, testLogger())

	rec := httptest.NewRecorder()
	h.CreateOrder(rec, newOrderRequest(http.MethodPost, "/api/orders",
		`{"account":"acct-1","from_asset":"WETH","to_asset":"USDC","amount_in":2,"threshold_price":0.1,"condition":"above"}`))

	assert.Equal(t, http.StatusCreated, rec.Code)

	var got domain.Order
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "o1", got.ID)
}

func TestCreateOrderHandlerErrors(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"rate limited", domain.ErrRateLimited, http.StatusTooManyRequests},
		{"validation failure", &domain.ValidationError{Reason: "amount_in must be > 0"}, http.StatusUnprocessableEntity},
		{"store failure", io.ErrUnexpectedEOF, http.StatusInternalServerError},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := NewOrderHandler(&stubOrderService{createErr: tc.err}, testLogger())

			rec := httptest.NewRecorder()
			h.CreateOrder(rec, newOrderRequest(http.MethodPost, "/api/orders", `{"account":"acct-1"}`))

			assert.Equal(t, tc.want, rec.Code)
		})
	}
}

// A rejected trigger must surface its detail to the caller, not just a status.
func TestCreateOrderHandlerValidationBody(t *testing.T) {
	h := NewOrderHandler(&stubOrderService{createErr: &domain.ValidationError{
		Reason:            "trigger condition already satisfied at current price",
		RequiredDirection: "price must fall below the threshold before an above trigger can arm",
		CurrentPrice:      0.12,
		Threshold:         0.10,
		Distance:          0.02,
	}}, testLogger())

	rec := httptest.NewRecorder()
	h.CreateOrder(rec, newOrderRequest(http.MethodPost, "/api/orders", `{"account":"acct-1"}`))

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	var body domain.ValidationError
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 0.12, body.CurrentPrice)
	assert.NotEmpty(t, body.RequiredDirection)
}

func TestCreateOrderHandlerBadJSON(t *testing.T) {
	h := NewOrderHandler(&stubOrderService{}, testLogger())

	rec := httptest.NewRecorder()
	h.CreateOrder(rec, newOrderRequest(http.MethodPost, "/api/orders", `{not json`))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListOrdersHandlerRequiresAccount(t *testing.T) {
	h := NewOrderHandler(&stubOrderService{}, testLogger())

	rec := httptest.NewRecorder()
	h.ListOrders(rec, newOrderRequest(http.MethodGet, "/api/orders", ""))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListOrdersHandlerEmpty(t *testing.T) {
	h := NewOrderHandler(&stubOrderService{}, testLogger())

	rec := httptest.NewRecorder()
	h.ListOrders(rec, newOrderRequest(http.MethodGet, "/api/orders?account=acct-1", ""))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"orders":[]}`, rec.Body.String())
}

func TestCancelOrderHandler(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"ok", nil, http.StatusOK},
		{"not found", domain.ErrNotFound, http.StatusNotFound},
		{"claimed", domain.ErrNotModifiable, http.StatusConflict},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := NewOrderHandler(&stubOrderService{
				order:     domain.Order{ID: "o1", Status: domain.OrderStatusCancelled},
				cancelErr: tc.err,
			}, testLogger())

			req := newOrderRequest(http.MethodDelete, "/api/orders/o1?account=acct-1", "")
			req.SetPathValue("id", "o1")
			rec := httptest.NewRecorder()
			h.CancelOrder(rec, req)

			assert.Equal(t, tc.want, rec.Code)
		})
	}
}

func TestAdjustOrderHandler(t *testing.T) {
	h := NewOrderHandler(&stubOrderService{
		order: domain.Order{ID: "o1", MaxSlippageBps: 75},
	}, testLogger())

	req := newOrderRequest(http.MethodPatch, "/api/orders/o1?account=acct-1", `{"max_slippage_bps":75}`)
	req.SetPathValue("id", "o1")
	rec := httptest.NewRecorder()
	h.AdjustOrder(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var got domain.Order
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, 75.0, got.MaxSlippageBps)
}

func TestGetOrderHandlerNotFound(t *testing.T) {
	h := NewOrderHandler(&stubOrderService{getErr: domain.ErrNotFound}, testLogger())

	req := newOrderRequest(http.MethodGet, "/api/orders/nope?account=acct-1", "")
	req.SetPathValue("id", "nope")
	rec := httptest.NewRecorder()
	h.GetOrder(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}
