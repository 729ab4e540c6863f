package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/tradepost/api/internal/domain"
	"github.com/tradepost/api/internal/payments"
	"github.com/tradepost/api/internal/platform/auth"
	"github.com/tradepost/api/internal/services"
)

type stubOrderService struct {
	summary    services.OrderSummary
	summaryCmd services.SummaryCommand
	order      services.Order
	page       domain.CursorPage[services.Order]
	link       services.BalancePaymentLink
	err        error

	createCmd  services.CreateOrderCommand
	listFilter services.OrderListFilter
	statusCmd  services.UpdateOrderStatusCommand
	linkCmd    services.BalancePaymentCommand
	getID      string
}

func (s *stubOrderService) CalculateSummary(_ context.Context, cmd services.SummaryCommand) (services.OrderSummary, error) {
	s.summaryCmd = cmd
	return s.summary, s.err
}

func (s *stubOrderService) CreateOrder(_ context.Context, cmd services.CreateOrderCommand) (services.Order, error) {
	s.createCmd = cmd
	return s.order, s.err
}

func (s *stubOrderService) GetOrder(_ context.Context, orderID string) (services.Order, error) {
	s.getID = orderID
	return s.order, s.err
}

func (s *stubOrderService) ListOrders(_ context.Context, filter services.OrderListFilter) (domain.CursorPage[services.Order], error) {
	s.listFilter = filter
	return s.page, s.err
}

func (s *stubOrderService) UpdateStatus(_ context.Context, cmd services.UpdateOrderStatusCommand) (services.Order, error) {
	s.statusCmd = cmd
	return s.order, s.err
}

func (s *stubOrderService) CancelOrder(_ context.Context, _ services.CancelOrderCommand) (services.Order, error) {
	return s.order, s.err
}

func (s *stubOrderService) RequestBalancePayment(_ context.Context, cmd services.BalancePaymentCommand) (services.BalancePaymentLink, error) {
	s.linkCmd = cmd
	return s.link, s.err
}

type stubPaymentService struct {
	records   []services.PaymentRecord
	report    services.ReconcileReport
	link      services.BalancePaymentLink
	err       error
	gotEvent  payments.WebhookEvent
	gotLimit  int
	gotOrder  string
	intentCmd services.CreateIntentCommand
}

func (s *stubPaymentService) CreateIntent(_ context.Context, cmd services.CreateIntentCommand) (services.PaymentRecord, error) {
	s.intentCmd = cmd
	if len(s.records) > 0 {
		return s.records[0], s.err
	}
	return services.PaymentRecord{}, s.err
}

func (s *stubPaymentService) CreateBalanceLink(_ context.Context, _ services.BalancePaymentCommand) (services.BalancePaymentLink, error) {
	return s.link, s.err
}

func (s *stubPaymentService) HandleWebhookEvent(_ context.Context, event payments.WebhookEvent) error {
	s.gotEvent = event
	return s.err
}

func (s *stubPaymentService) ListPayments(_ context.Context, orderID string) ([]services.PaymentRecord, error) {
	s.gotOrder = orderID
	return s.records, s.err
}

func (s *stubPaymentService) Reconcile(_ context.Context, limit int) (services.ReconcileReport, error) {
	s.gotLimit = limit
	return s.report, s.err
}

type stubRefundService struct {
	refund  services.Refund
	refunds []services.Refund
	err     error
	cmd     services.RefundCommand
}

func (s *stubRefundService) ProcessRefund(_ context.Context, cmd services.RefundCommand) (services.Refund, error) {
	s.cmd = cmd
	return s.refund, s.err
}

func (s *stubRefundService) ListRefunds(_ context.Context, _ string) ([]services.Refund, error) {
	return s.refunds, s.err
}

func orderRouter(h *OrderHandlers) chi.Router {
	r := chi.NewRouter()
	r.Route("/orders", h.Routes)
	return r
}

func sampleOrder() domain.Order {
	now := time.Date(2025, 5, 10, 9, 30, 0, 0, time.UTC)
	return domain.Order{
		ID:               "order-1",
		OrderNumber:      "TP-2025-000042",
		SellerID:         "seller-1",
		UserID:           "user-1",
		CustomerEmail:    "buyer@example.com",
		Status:           domain.OrderStatusPending,
		PaymentStatus:    domain.PaymentStatusPending,
		PaymentType:      domain.PaymentTypeDeposit,
		Currency:         "usd",
		Subtotal:         10000,
		ShippingAmount:   1200,
		TaxAmount:        800,
		Total:            12000,
		DepositAmount:    6000,
		RemainingBalance: 12000,
		Items: []domain.OrderItem{
			{
				ID:        "item-1",
				ProductID: "prod-1",
				Name:      "Linen shirt",
				Type:      domain.ProductTypePreOrder,
				UnitPrice: 10000,
				Quantity:  1,
				Status:    domain.ItemStatusActive,
			},
		},
		ShippingAddress: domain.Address{Recipient: "A Buyer", Line1: "1 Main St", City: "Portland", PostalCode: "97201", Country: "US"},
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

func TestCreateOrder(t *testing.T) {
	orders := &stubOrderService{order: sampleOrder()}
	handlers := NewOrderHandlers(nil, orders, nil, nil, nil)
	router := orderRouter(handlers)

	body := `{"lines":[{"product_id":"prod-1","quantity":1}],"shipping_address":{"recipient":"A Buyer","line1":"1 Main St","city":"Portland","postal_code":"97201","country":"US"}}`
	req := httptest.NewRequest(http.MethodPost, "/orders/", strings.NewReader(body))
	identity := &auth.Identity{UserID: "user-1", Email: "buyer@example.com"}
	req = req.WithContext(auth.WithIdentity(req.Context(), identity))
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if orders.createCmd.UserID != "user-1" {
		t.Fatalf("expected identity user id, got %q", orders.createCmd.UserID)
	}
	if orders.createCmd.CustomerEmail != "buyer@example.com" {
		t.Fatalf("expected identity email fallback, got %q", orders.createCmd.CustomerEmail)
	}
	var resp struct {
		Order struct {
			ID            string `json:"id"`
			Total         string `json:"total"`
			DepositAmount string `json:"deposit_amount"`
			Currency      string `json:"currency"`
		} `json:"order"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp.Order.ID != "order-1" || resp.Order.Total != "120.00" || resp.Order.DepositAmount != "60.00" {
		t.Fatalf("unexpected order payload %+v", resp.Order)
	}
	if resp.Order.Currency != "USD" {
		t.Fatalf("expected currency USD, got %s", resp.Order.Currency)
	}
}

func TestCreateOrderGuestKeepsExplicitEmail(t *testing.T) {
	orders := &stubOrderService{order: sampleOrder()}
	handlers := NewOrderHandlers(nil, orders, nil, nil, nil)
	router := orderRouter(handlers)

	body := `{"customer_email":"guest@example.com","lines":[{"product_id":"prod-1","quantity":1}],"shipping_address":{"recipient":"G","line1":"2 Side St","city":"Austin","postal_code":"73301","country":"US"}}`
	req := httptest.NewRequest(http.MethodPost, "/orders/", strings.NewReader(body))
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d", rr.Code)
	}
	if orders.createCmd.UserID != "" {
		t.Fatalf("expected empty user id for guest, got %q", orders.createCmd.UserID)
	}
	if orders.createCmd.CustomerEmail != "guest@example.com" {
		t.Fatalf("expected explicit email, got %q", orders.createCmd.CustomerEmail)
	}
}

func TestListOrdersSellerScope(t *testing.T) {
	orders := &stubOrderService{page: domain.CursorPage[services.Order]{
		Items:         []services.Order{sampleOrder()},
		NextPageToken: "tok-2",
	}}
	handlers := NewOrderHandlers(nil, orders, nil, nil, nil)
	router := orderRouter(handlers)

	req := httptest.NewRequest(http.MethodGet, "/orders/?status=pending,processing", nil)
	identity := &auth.Identity{UserID: "user-9", SellerID: "seller-1", Roles: []string{auth.RoleSeller}}
	req = req.WithContext(auth.WithIdentity(req.Context(), identity))
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if orders.listFilter.SellerID != "seller-1" || orders.listFilter.UserID != "" {
		t.Fatalf("expected seller scoping, got %+v", orders.listFilter)
	}
	if len(orders.listFilter.Status) != 2 {
		t.Fatalf("expected two status filters, got %v", orders.listFilter.Status)
	}
	var resp struct {
		Orders        []map[string]any `json:"orders"`
		NextPageToken string           `json:"next_page_token"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(resp.Orders) != 1 || resp.NextPageToken != "tok-2" {
		t.Fatalf("unexpected page %+v", resp)
	}
}

func TestListOrdersBuyerScope(t *testing.T) {
	orders := &stubOrderService{}
	handlers := NewOrderHandlers(nil, orders, nil, nil, nil)
	router := orderRouter(handlers)

	req := httptest.NewRequest(http.MethodGet, "/orders/", nil)
	identity := &auth.Identity{UserID: "user-9", Roles: []string{auth.RoleBuyer}}
	req = req.WithContext(auth.WithIdentity(req.Context(), identity))
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if orders.listFilter.UserID != "user-9" || orders.listFilter.SellerID != "" {
		t.Fatalf("expected buyer scoping, got %+v", orders.listFilter)
	}
}

func TestListOrdersUnknownStatus(t *testing.T) {
	handlers := NewOrderHandlers(nil, &stubOrderService{}, nil, nil, nil)
	router := orderRouter(handlers)

	req := httptest.NewRequest(http.MethodGet, "/orders/?status=bogus", nil)
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
	var body struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if body.Message != "unknown order status bogus" {
		t.Fatalf("unexpected message %q", body.Message)
	}
}

func TestGetOrderNotFound(t *testing.T) {
	handlers := NewOrderHandlers(nil, &stubOrderService{err: services.ErrNotFound}, nil, nil, nil)
	router := orderRouter(handlers)

	req := httptest.NewRequest(http.MethodGet, "/orders/missing", nil)
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rr.Code)
	}
}

func TestUpdateOrderStatus(t *testing.T) {
	shipped := sampleOrder()
	shipped.Status = domain.OrderStatusShipped
	orders := &stubOrderService{order: shipped}
	handlers := NewOrderHandlers(nil, orders, nil, nil, nil)
	router := orderRouter(handlers)

	req := httptest.NewRequest(http.MethodPost, "/orders/order-1:status", strings.NewReader(`{"status":"shipped"}`))
	identity := &auth.Identity{UserID: "seller-user", SellerID: "seller-1", Roles: []string{auth.RoleSeller}}
	req = req.WithContext(auth.WithIdentity(req.Context(), identity))
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if orders.statusCmd.OrderID != "order-1" || orders.statusCmd.Status != domain.OrderStatusShipped {
		t.Fatalf("unexpected command %+v", orders.statusCmd)
	}
	if orders.statusCmd.ActorID != "seller-user" {
		t.Fatalf("expected actor from identity, got %q", orders.statusCmd.ActorID)
	}
}

func TestRequestBalanceEmptyBody(t *testing.T) {
	expires := time.Date(2025, 5, 11, 12, 0, 0, 0, time.UTC)
	orders := &stubOrderService{link: services.BalancePaymentLink{
		OrderID:   "order-1",
		Amount:    6000,
		Currency:  "usd",
		URL:       "https://checkout.example.com/s/abc",
		SessionID: "cs_123",
		ExpiresAt: expires,
	}}
	handlers := NewOrderHandlers(nil, orders, nil, nil, nil)
	router := orderRouter(handlers)

	req := httptest.NewRequest(http.MethodPost, "/orders/order-1:request-balance", nil)
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if orders.linkCmd.OrderID != "order-1" {
		t.Fatalf("unexpected command %+v", orders.linkCmd)
	}
	var resp struct {
		PaymentLink struct {
			Amount    string `json:"amount"`
			Currency  string `json:"currency"`
			SessionID string `json:"session_id"`
		} `json:"payment_link"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp.PaymentLink.Amount != "60.00" || resp.PaymentLink.Currency != "USD" || resp.PaymentLink.SessionID != "cs_123" {
		t.Fatalf("unexpected link payload %+v", resp.PaymentLink)
	}
}

func TestRequestBalanceWithURLs(t *testing.T) {
	orders := &stubOrderService{}
	handlers := NewOrderHandlers(nil, orders, nil, nil, nil)
	router := orderRouter(handlers)

	body := `{"success_url":"https://shop.example.com/ok","cancel_url":"https://shop.example.com/back"}`
	req := httptest.NewRequest(http.MethodPost, "/orders/order-1:request-balance", strings.NewReader(body))
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if orders.linkCmd.SuccessURL != "https://shop.example.com/ok" || orders.linkCmd.CancelURL != "https://shop.example.com/back" {
		t.Fatalf("unexpected command %+v", orders.linkCmd)
	}
}

func TestProcessRefund(t *testing.T) {
	refunds := &stubRefundService{refund: domain.Refund{
		ID:       "refund-1",
		OrderID:  "order-1",
		Amount:   2500,
		Currency: "usd",
		Status:   domain.RefundStatusSucceeded,
		Lines:    []domain.RefundLine{{ItemID: "item-1", Quantity: 1, Amount: 2500}},
	}}
	handlers := NewOrderHandlers(nil, &stubOrderService{}, nil, refunds, nil)
	router := orderRouter(handlers)

	body := `{"selections":[{"item_id":"item-1","quantity":1}],"reason":"damaged"}`
	req := httptest.NewRequest(http.MethodPost, "/orders/order-1:refund", strings.NewReader(body))
	identity := &auth.Identity{UserID: "seller-user", SellerID: "seller-1", Roles: []string{auth.RoleSeller}}
	req = req.WithContext(auth.WithIdentity(req.Context(), identity))
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if refunds.cmd.OrderID != "order-1" || len(refunds.cmd.Selections) != 1 || refunds.cmd.Selections[0].ItemID != "item-1" {
		t.Fatalf("unexpected command %+v", refunds.cmd)
	}
	var resp struct {
		Refund struct {
			Amount string `json:"amount"`
			Status string `json:"status"`
			Lines  []struct {
				Amount string `json:"amount"`
			} `json:"lines"`
		} `json:"refund"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp.Refund.Amount != "25.00" || resp.Refund.Status != "succeeded" {
		t.Fatalf("unexpected refund payload %+v", resp.Refund)
	}
	if len(resp.Refund.Lines) != 1 || resp.Refund.Lines[0].Amount != "25.00" {
		t.Fatalf("unexpected refund lines %+v", resp.Refund.Lines)
	}
}

func TestPurchaseLabelFromOrder(t *testing.T) {
	labels := &stubLabelService{label: sampleLabel()}
	handlers := NewOrderHandlers(nil, &stubOrderService{}, nil, nil, labels)
	router := orderRouter(handlers)

	req := httptest.NewRequest(http.MethodPost, "/orders/order-1/labels", strings.NewReader(`{"warehouse_address_id":"wh-1"}`))
	identity := &auth.Identity{UserID: "seller-user", SellerID: "seller-1", Roles: []string{auth.RoleSeller}}
	req = req.WithContext(auth.WithIdentity(req.Context(), identity))
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if labels.purchaseCmd.OrderID != "order-1" || labels.purchaseCmd.SellerID != "seller-1" || labels.purchaseCmd.WarehouseAddressID != "wh-1" {
		t.Fatalf("unexpected command %+v", labels.purchaseCmd)
	}
}

func TestPurchaseLabelInsufficientFunds(t *testing.T) {
	labels := &stubLabelService{err: services.ErrInsufficientFunds}
	handlers := NewOrderHandlers(nil, &stubOrderService{}, nil, nil, labels)
	router := orderRouter(handlers)

	req := httptest.NewRequest(http.MethodPost, "/orders/order-1/labels", strings.NewReader(`{"warehouse_address_id":"wh-1"}`))
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected status 422, got %d", rr.Code)
	}
	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if body.Error != "insufficient_funds" {
		t.Fatalf("expected code insufficient_funds, got %s", body.Error)
	}
}

func TestListPayments(t *testing.T) {
	payment := &stubPaymentService{records: []services.PaymentRecord{
		{
			ID:       "pay-1",
			IntentID: "pi_123",
			Provider: "stripe",
			Stage:    domain.PaymentStageDeposit,
			Status:   "succeeded",
			Amount:   6000,
			Currency: "usd",
		},
	}}
	handlers := NewOrderHandlers(nil, &stubOrderService{}, payment, nil, nil)
	router := orderRouter(handlers)

	req := httptest.NewRequest(http.MethodGet, "/orders/order-1/payments", nil)
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if payment.gotOrder != "order-1" {
		t.Fatalf("expected order id order-1, got %q", payment.gotOrder)
	}
	var resp struct {
		Payments []struct {
			IntentID string `json:"intent_id"`
			Stage    string `json:"stage"`
			Amount   string `json:"amount"`
		} `json:"payments"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(resp.Payments) != 1 || resp.Payments[0].IntentID != "pi_123" || resp.Payments[0].Amount != "60.00" {
		t.Fatalf("unexpected payments %+v", resp.Payments)
	}
}
