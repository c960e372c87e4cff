package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/vasiliy-maslov/artist-platform/internal/domain"
	"github.com/vasiliy-maslov/artist-platform/internal/handler"
	"github.com/vasiliy-maslov/artist-platform/internal/order"
)

type MockOrderService struct {
	mock.Mock
}

func (m *MockOrderService) CreateOrder(ctx context.Context, req order.CreateOrderRequest) (*order.Order, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*order.Order), args.Error(1)
}

func (m *MockOrderService) GetOrderByID(ctx context.Context, id uuid.UUID) (*order.Order, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*order.Order), args.Error(1)
}

func (m *MockOrderService) GetOrderByNumber(ctx context.Context, number string) (*order.Order, error) {
	args := m.Called(ctx, number)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*order.Order), args.Error(1)
}

func (m *MockOrderService) GetCustomerOrders(ctx context.Context, email string) ([]order.Order, error) {
	args := m.Called(ctx, email)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]order.Order), args.Error(1)
}

func (m *MockOrderService) UpdateOrderStatus(ctx context.Context, id uuid.UUID, status order.OrderStatus) (*order.Order, error) {
	args := m.Called(ctx, id, status)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*order.Order), args.Error(1)
}

func (m *MockOrderService) ProcessPayment(ctx context.Context, id uuid.UUID, transactionID string) (*order.Order, error) {
	args := m.Called(ctx, id, transactionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*order.Order), args.Error(1)
}

func (m *MockOrderService) RefundOrder(ctx context.Context, id uuid.UUID) (*order.Order, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*order.Order), args.Error(1)
}

func (m *MockOrderService) CancelEvent(ctx context.Context, eventID uuid.UUID) (*order.EventCancellation, error) {
	args := m.Called(ctx, eventID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*order.EventCancellation), args.Error(1)
}

func newTestRouter(svc order.Service) chi.Router {
	router := chi.NewRouter()
	handler.NewOrderHandler(svc).RegisterRoutes(router)
	return router
}

func serve(router chi.Router, method, target string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else {
			_ = json.NewEncoder(&buf).Encode(body)
		}
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func sampleOrder() *order.Order {
	return &order.Order{
		ID:            uuid.Must(uuid.NewV4()),
		OrderNumber:   "ORD-ABC-12345",
		CustomerEmail: "fan@example.com",
		CustomerName:  "Jamie Fan",
		Type:          order.TypeTickets,
		Subtotal:      decimal.RequireFromString("100"),
		Tax:           decimal.RequireFromString("7.25"),
		Total:         decimal.RequireFromString("107.25"),
		Status:        order.StatusPending,
		PaymentStatus: order.PaymentPending,
		Items:         []order.OrderItem{},
		Tickets:       []order.Ticket{},
		Payments:      []order.Payment{},
	}
}

func TestOrderHandler_CreateOrder_Success(t *testing.T) {
	mockService := new(MockOrderService)
	router := newTestRouter(mockService)

	eventID := uuid.Must(uuid.NewV4())
	ticketTypeID := uuid.Must(uuid.NewV4())
	created := sampleOrder()

	mockService.On("CreateOrder", mock.Anything, mock.MatchedBy(func(req order.CreateOrderRequest) bool {
		return req.CustomerEmail == "fan@example.com" &&
			req.EventID.Valid && req.EventID.UUID == eventID &&
			len(req.Tickets) == 1 && req.Tickets[0].TicketTypeID == ticketTypeID &&
			req.IdempotencyKey == "checkout-1"
	})).Return(created, nil).Once()

	body := fmt.Sprintf(`{
		"customer_email": "fan@example.com",
		"customer_name": "Jamie Fan",
		"event_id": %q,
		"tickets": [{"ticket_type_id": %q, "quantity": 2}],
		"idempotency_key": "checkout-1"
	}`, eventID, ticketTypeID)

	rr := serve(router, http.MethodPost, "/orders", body)
	require.Equal(t, http.StatusCreated, rr.Code)

	var got map[string]any
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&got))
	assert.Equal(t, created.ID.String(), got["id"])
	assert.Equal(t, "107.25", got["total"])
	assert.Equal(t, "PENDING", got["status"])
	mockService.AssertExpectations(t)
}

func TestOrderHandler_CreateOrder_IdempotencyHeader(t *testing.T) {
	mockService := new(MockOrderService)
	router := newTestRouter(mockService)

	mockService.On("CreateOrder", mock.Anything, mock.MatchedBy(func(req order.CreateOrderRequest) bool {
		return req.IdempotencyKey == "from-header"
	})).Return(sampleOrder(), nil).Once()

	req := httptest.NewRequest(http.MethodPost, "/orders", bytes.NewBufferString(`{"customer_email":"fan@example.com","customer_name":"Jamie"}`))
	req.Header.Set("Idempotency-Key", "from-header")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusCreated, rr.Code)
	mockService.AssertExpectations(t)
}

func TestOrderHandler_CreateOrder_InvalidJSON(t *testing.T) {
	mockService := new(MockOrderService)
	router := newTestRouter(mockService)

	rr := serve(router, http.MethodPost, "/orders", `{invalid json}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)

	var got handler.ErrorResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&got))
	assert.Equal(t, domain.KindValidation, got.Kind)
	mockService.AssertNotCalled(t, "CreateOrder", mock.Anything, mock.Anything)
}

func TestOrderHandler_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantKind   domain.Kind
	}{
		{name: "not_found", err: fmt.Errorf("%w: order", domain.ErrNotFound), wantStatus: http.StatusNotFound, wantKind: domain.KindNotFound},
		{name: "validation", err: fmt.Errorf("%w: bad", domain.ErrValidation), wantStatus: http.StatusBadRequest, wantKind: domain.KindValidation},
		{name: "insufficient", err: fmt.Errorf("%w: sold out", domain.ErrInsufficientInventory), wantStatus: http.StatusConflict, wantKind: domain.KindInsufficientInventory},
		{name: "conflict", err: order.ErrInvalidStatusTransition, wantStatus: http.StatusConflict, wantKind: domain.KindConflict},
		{name: "closed", err: fmt.Errorf("%w: event", domain.ErrInactiveOrClosed), wantStatus: http.StatusUnprocessableEntity, wantKind: domain.KindInactiveOrClosed},
		{name: "internal", err: fmt.Errorf("connection reset"), wantStatus: http.StatusInternalServerError, wantKind: domain.KindInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockService := new(MockOrderService)
			router := newTestRouter(mockService)
			id := uuid.Must(uuid.NewV4())

			mockService.On("RefundOrder", mock.Anything, id).Return(nil, tt.err).Once()

			rr := serve(router, http.MethodPost, "/orders/"+id.String()+"/refund", nil)
			require.Equal(t, tt.wantStatus, rr.Code)

			var got handler.ErrorResponse
			require.NoError(t, json.NewDecoder(rr.Body).Decode(&got))
			assert.Equal(t, tt.wantKind, got.Kind)
			if tt.wantKind == domain.KindInternal {
				assert.NotContains(t, got.Error, "connection reset")
			}
			mockService.AssertExpectations(t)
		})
	}
}

func TestOrderHandler_GetOrderByID(t *testing.T) {
	mockService := new(MockOrderService)
	router := newTestRouter(mockService)
	o := sampleOrder()

	mockService.On("GetOrderByID", mock.Anything, o.ID).Return(o, nil).Once()

	rr := serve(router, http.MethodGet, "/orders/"+o.ID.String(), nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var got order.Order
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&got))
	assert.Equal(t, o.OrderNumber, got.OrderNumber)
	mockService.AssertExpectations(t)
}

func TestOrderHandler_GetOrderByID_InvalidID(t *testing.T) {
	mockService := new(MockOrderService)
	router := newTestRouter(mockService)

	rr := serve(router, http.MethodGet, "/orders/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	mockService.AssertNotCalled(t, "GetOrderByID", mock.Anything, mock.Anything)
}

func TestOrderHandler_GetOrderByNumber(t *testing.T) {
	mockService := new(MockOrderService)
	router := newTestRouter(mockService)
	o := sampleOrder()

	mockService.On("GetOrderByNumber", mock.Anything, "ORD-ABC-12345").Return(o, nil).Once()

	rr := serve(router, http.MethodGet, "/orders/number/ORD-ABC-12345", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	mockService.AssertExpectations(t)
}

func TestOrderHandler_GetCustomerOrders(t *testing.T) {
	mockService := new(MockOrderService)
	router := newTestRouter(mockService)

	mockService.On("GetCustomerOrders", mock.Anything, "fan@example.com").Return([]order.Order{*sampleOrder(), *sampleOrder()}, nil).Once()

	rr := serve(router, http.MethodGet, "/orders/customer/fan@example.com", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var got []order.Order
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&got))
	assert.Len(t, got, 2)
	mockService.AssertExpectations(t)
}

func TestOrderHandler_UpdateOrderStatus(t *testing.T) {
	mockService := new(MockOrderService)
	router := newTestRouter(mockService)
	o := sampleOrder()
	o.Status = order.StatusCancelled

	mockService.On("UpdateOrderStatus", mock.Anything, o.ID, order.StatusCancelled).Return(o, nil).Once()

	rr := serve(router, http.MethodPatch, "/orders/"+o.ID.String()+"/status", `{"status":"cancelled"}`)
	assert.Equal(t, http.StatusOK, rr.Code)
	mockService.AssertExpectations(t)
}

func TestOrderHandler_UpdateOrderStatus_MissingStatus(t *testing.T) {
	mockService := new(MockOrderService)
	router := newTestRouter(mockService)

	rr := serve(router, http.MethodPatch, "/orders/"+uuid.Must(uuid.NewV4()).String()+"/status", `{}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	mockService.AssertNotCalled(t, "UpdateOrderStatus", mock.Anything, mock.Anything, mock.Anything)
}

func TestOrderHandler_ProcessPayment(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{name: "transaction_id", body: `{"transaction_id":"pi_1"}`, want: "pi_1"},
		{name: "payment_intent_alias", body: `{"payment_intent_id":"pi_2"}`, want: "pi_2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockService := new(MockOrderService)
			router := newTestRouter(mockService)
			o := sampleOrder()

			mockService.On("ProcessPayment", mock.Anything, o.ID, tt.want).Return(o, nil).Once()

			rr := serve(router, http.MethodPost, "/orders/"+o.ID.String()+"/payment", tt.body)
			assert.Equal(t, http.StatusOK, rr.Code)
			mockService.AssertExpectations(t)
		})
	}
}

func TestOrderHandler_CancelEvent(t *testing.T) {
	mockService := new(MockOrderService)
	router := newTestRouter(mockService)
	eventID := uuid.Must(uuid.NewV4())
	orderID := uuid.Must(uuid.NewV4())

	mockService.On("CancelEvent", mock.Anything, eventID).Return(&order.EventCancellation{
		EventID:         eventID,
		CancelledOrders: []uuid.UUID{orderID},
		ReleasedTickets: 3,
	}, nil).Once()

	rr := serve(router, http.MethodPost, "/events/"+eventID.String()+"/cancel", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var got order.EventCancellation
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&got))
	assert.Equal(t, 3, got.ReleasedTickets)
	assert.Equal(t, []uuid.UUID{orderID}, got.CancelledOrders)
	mockService.AssertExpectations(t)
}
