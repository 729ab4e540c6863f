package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/tradepost/api/internal/domain"
	"github.com/tradepost/api/internal/platform/auth"
	"github.com/tradepost/api/internal/platform/httpx"
	"github.com/tradepost/api/internal/platform/pagination"
	"github.com/tradepost/api/internal/services"
)

const maxOrderBodySize = 64 * 1024

// OrderHandlers exposes the order lifecycle endpoints.
type OrderHandlers struct {
	authn   *auth.Authenticator
	orders  services.OrderService
	payment services.PaymentService
	refunds services.RefundService
	labels  services.LabelService
}

// NewOrderHandlers constructs the order endpoint group.
func NewOrderHandlers(authn *auth.Authenticator, orders services.OrderService, payment services.PaymentService, refunds services.RefundService, labels services.LabelService) *OrderHandlers {
	return &OrderHandlers{
		authn:   authn,
		orders:  orders,
		payment: payment,
		refunds: refunds,
		labels:  labels,
	}
}

// Routes wires the /orders endpoints onto the provided router. Creation and
// buyer-facing reads allow guests; seller actions require a seller or admin
// principal.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}

	optional := h.middleware(func(a *auth.Authenticator) func(http.Handler) http.Handler {
		return a.OptionalAuth()
	})
	sellerOnly := h.middleware(func(a *auth.Authenticator) func(http.Handler) http.Handler {
		return a.RequireAuth(auth.RoleSeller, auth.RoleAdmin)
	})

	r.With(optional...).Post("/", h.createOrder)
	r.With(sellerOnly...).Get("/", h.listOrders)
	r.With(optional...).Get("/{orderID}", h.getOrder)
	r.With(optional...).Post("/{orderID}:request-balance", h.requestBalance)
	r.With(sellerOnly...).Post("/{orderID}:status", h.updateStatus)
	r.With(sellerOnly...).Post("/{orderID}:refund", h.processRefund)
	r.With(sellerOnly...).Post("/{orderID}/labels", h.purchaseLabel)
	r.With(sellerOnly...).Get("/{orderID}/labels", h.listLabels)
	r.With(sellerOnly...).Get("/{orderID}/payments", h.listPayments)
	r.With(sellerOnly...).Get("/{orderID}/refunds", h.listRefunds)
}

func (h *OrderHandlers) middleware(build func(*auth.Authenticator) func(http.Handler) http.Handler) []func(http.Handler) http.Handler {
	if h.authn == nil {
		return nil
	}
	return []func(http.Handler) http.Handler{build(h.authn)}
}

type createOrderRequest struct {
	CustomerEmail   string            `json:"customer_email,omitempty"`
	Lines           []cartLinePayload `json:"lines"`
	ShippingAddress addressPayload    `json:"shipping_address"`
	BillingAddress  *addressPayload   `json:"billing_address,omitempty"`
	Metadata        map[string]any    `json:"metadata,omitempty"`
}

func (h *OrderHandlers) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("service_unavailable", "order service is unavailable", http.StatusServiceUnavailable))
		return
	}

	var req createOrderRequest
	if err := decodeJSONBody(r, maxOrderBodySize, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	cmd := services.CreateOrderCommand{
		CustomerEmail:   strings.TrimSpace(req.CustomerEmail),
		Lines:           toCartLines(req.Lines),
		ShippingAddress: req.ShippingAddress.toDomain(),
		Metadata:        req.Metadata,
	}
	if req.BillingAddress != nil {
		billing := req.BillingAddress.toDomain()
		cmd.BillingAddress = &billing
	}
	if identity, ok := auth.IdentityFromContext(ctx); ok {
		cmd.UserID = identity.UserID
		if cmd.CustomerEmail == "" {
			cmd.CustomerEmail = identity.Email
		}
	}

	order, err := h.orders.CreateOrder(ctx, cmd)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, map[string]any{"order": buildOrderPayload(order)})
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("service_unavailable", "order service is unavailable", http.StatusServiceUnavailable))
		return
	}

	order, err := h.orders.GetOrder(ctx, chi.URLParam(r, "orderID"))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, map[string]any{"order": buildOrderPayload(order)})
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("service_unavailable", "order service is unavailable", http.StatusServiceUnavailable))
		return
	}

	params, err := pagination.FromRequest(r, pagination.Options{MaxPageSize: 200})
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	filter := services.OrderListFilter{
		Pagination: domain.Pagination{PageSize: params.PageSize, PageToken: params.PageToken},
	}
	if identity, ok := auth.IdentityFromContext(ctx); ok {
		if identity.IsSeller() {
			filter.SellerID = identity.SellerID
		} else if !identity.HasRole(auth.RoleAdmin) {
			filter.UserID = identity.UserID
		}
	}
	for _, status := range strings.Split(r.URL.Query().Get("status"), ",") {
		status = strings.TrimSpace(status)
		if status == "" {
			continue
		}
		if !domain.ValidOrderStatus(domain.OrderStatus(status)) {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "unknown order status "+status, http.StatusBadRequest))
			return
		}
		filter.Status = append(filter.Status, domain.OrderStatus(status))
	}

	page, err := h.orders.ListOrders(ctx, filter)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	orders := make([]orderPayload, 0, len(page.Items))
	for _, order := range page.Items {
		orders = append(orders, buildOrderPayload(order))
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{
		"orders":          orders,
		"next_page_token": page.NextPageToken,
	})
}

type updateStatusRequest struct {
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

func (h *OrderHandlers) updateStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("service_unavailable", "order service is unavailable", http.StatusServiceUnavailable))
		return
	}

	var req updateStatusRequest
	if err := decodeJSONBody(r, maxOrderBodySize, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	cmd := services.UpdateOrderStatusCommand{
		OrderID: chi.URLParam(r, "orderID"),
		Status:  domain.OrderStatus(strings.TrimSpace(req.Status)),
		Reason:  strings.TrimSpace(req.Reason),
	}
	if identity, ok := auth.IdentityFromContext(ctx); ok {
		cmd.ActorID = identity.UserID
	}

	order, err := h.orders.UpdateStatus(ctx, cmd)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, map[string]any{"order": buildOrderPayload(order)})
}

type requestBalanceRequest struct {
	SuccessURL string `json:"success_url,omitempty"`
	CancelURL  string `json:"cancel_url,omitempty"`
}

func (h *OrderHandlers) requestBalance(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("service_unavailable", "order service is unavailable", http.StatusServiceUnavailable))
		return
	}

	// The body is optional: success/cancel URLs default server-side.
	var req requestBalanceRequest
	body, err := readLimitedBody(r, maxOrderBodySize)
	switch {
	case err == nil:
		if err := json.Unmarshal(body, &req); err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON payload", http.StatusBadRequest))
			return
		}
	case errors.Is(err, errEmptyBody):
	default:
		writeBodyError(ctx, w, err)
		return
	}

	link, err := h.orders.RequestBalancePayment(ctx, services.BalancePaymentCommand{
		OrderID:    chi.URLParam(r, "orderID"),
		SuccessURL: strings.TrimSpace(req.SuccessURL),
		CancelURL:  strings.TrimSpace(req.CancelURL),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, map[string]any{
		"payment_link": map[string]any{
			"order_id":   link.OrderID,
			"amount":     money(link.Amount, link.Currency),
			"currency":   strings.ToUpper(link.Currency),
			"url":        link.URL,
			"session_id": link.SessionID,
			"expires_at": formatTime(link.ExpiresAt),
		},
	})
}

type refundRequestPayload struct {
	Full       bool   `json:"full,omitempty"`
	Reason     string `json:"reason,omitempty"`
	Selections []struct {
		ItemID   string `json:"item_id"`
		Quantity int    `json:"quantity"`
	} `json:"selections,omitempty"`
}

func (h *OrderHandlers) processRefund(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.refunds == nil {
		httpx.WriteError(ctx, w, httpx.NewError("service_unavailable", "refund service is unavailable", http.StatusServiceUnavailable))
		return
	}

	var req refundRequestPayload
	if err := decodeJSONBody(r, maxOrderBodySize, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	cmd := services.RefundCommand{
		OrderID: chi.URLParam(r, "orderID"),
		Full:    req.Full,
		Reason:  strings.TrimSpace(req.Reason),
	}
	for _, sel := range req.Selections {
		cmd.Selections = append(cmd.Selections, services.RefundSelection{
			ItemID:   strings.TrimSpace(sel.ItemID),
			Quantity: sel.Quantity,
		})
	}
	if identity, ok := auth.IdentityFromContext(ctx); ok {
		cmd.ActorID = identity.UserID
	}

	refund, err := h.refunds.ProcessRefund(ctx, cmd)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, map[string]any{"refund": buildRefundPayload(refund)})
}

type purchaseLabelRequest struct {
	WarehouseAddressID string `json:"warehouse_address_id"`
}

func (h *OrderHandlers) purchaseLabel(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.labels == nil {
		httpx.WriteError(ctx, w, httpx.NewError("service_unavailable", "label service is unavailable", http.StatusServiceUnavailable))
		return
	}

	var req purchaseLabelRequest
	if err := decodeJSONBody(r, maxOrderBodySize, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	cmd := services.PurchaseLabelCommand{
		OrderID:            chi.URLParam(r, "orderID"),
		WarehouseAddressID: strings.TrimSpace(req.WarehouseAddressID),
	}
	if identity, ok := auth.IdentityFromContext(ctx); ok && identity.IsSeller() {
		cmd.SellerID = identity.SellerID
	}

	label, err := h.labels.Purchase(ctx, cmd)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, map[string]any{"label": buildLabelPayload(label)})
}

func (h *OrderHandlers) listLabels(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.labels == nil {
		httpx.WriteError(ctx, w, httpx.NewError("service_unavailable", "label service is unavailable", http.StatusServiceUnavailable))
		return
	}

	labels, err := h.labels.ListByOrder(ctx, chi.URLParam(r, "orderID"))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	payloads := make([]labelPayload, 0, len(labels))
	for _, label := range labels {
		payloads = append(payloads, buildLabelPayload(label))
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{"labels": payloads})
}

func (h *OrderHandlers) listPayments(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.payment == nil {
		httpx.WriteError(ctx, w, httpx.NewError("service_unavailable", "payment service is unavailable", http.StatusServiceUnavailable))
		return
	}

	records, err := h.payment.ListPayments(ctx, chi.URLParam(r, "orderID"))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	payments := make([]map[string]any, 0, len(records))
	for _, record := range records {
		payments = append(payments, map[string]any{
			"id":         record.ID,
			"intent_id":  record.IntentID,
			"provider":   record.Provider,
			"stage":      string(record.Stage),
			"status":     record.Status,
			"amount":     money(record.Amount, record.Currency),
			"refunded":   money(record.RefundedAmount, record.Currency),
			"currency":   strings.ToUpper(record.Currency),
			"created_at": formatTime(record.CreatedAt),
		})
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{"payments": payments})
}

func (h *OrderHandlers) listRefunds(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.refunds == nil {
		httpx.WriteError(ctx, w, httpx.NewError("service_unavailable", "refund service is unavailable", http.StatusServiceUnavailable))
		return
	}

	refunds, err := h.refunds.ListRefunds(ctx, chi.URLParam(r, "orderID"))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	payloads := make([]refundPayload, 0, len(refunds))
	for _, refund := range refunds {
		payloads = append(payloads, buildRefundPayload(refund))
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{"refunds": payloads})
}

// Payload builders ----------------------------------------------------------

type orderItemPayload struct {
	ID               string `json:"id"`
	ProductID        string `json:"product_id"`
	Name             string `json:"name"`
	VariantID        string `json:"variant_id,omitempty"`
	Size             string `json:"size,omitempty"`
	Color            string `json:"color,omitempty"`
	Type             string `json:"type"`
	UnitPrice        string `json:"unit_price"`
	Quantity         int    `json:"quantity"`
	RefundedQuantity int    `json:"refunded_quantity,omitempty"`
	Status           string `json:"status"`
}

type orderPayload struct {
	ID               string             `json:"id"`
	OrderNumber      string             `json:"order_number"`
	SellerID         string             `json:"seller_id"`
	UserID           string             `json:"user_id,omitempty"`
	CustomerEmail    string             `json:"customer_email,omitempty"`
	Status           string             `json:"status"`
	PaymentStatus    string             `json:"payment_status"`
	PaymentType      string             `json:"payment_type"`
	Currency         string             `json:"currency"`
	Items            []orderItemPayload `json:"items"`
	Subtotal         string             `json:"subtotal"`
	Shipping         string             `json:"shipping"`
	Tax              string             `json:"tax"`
	Total            string             `json:"total"`
	DepositAmount    string             `json:"deposit_amount,omitempty"`
	AmountPaid       string             `json:"amount_paid"`
	RemainingBalance string             `json:"remaining_balance"`
	RefundedAmount   string             `json:"refunded_amount,omitempty"`
	ShippingAddress  addressPayload     `json:"shipping_address"`
	BillingAddress   *addressPayload    `json:"billing_address,omitempty"`
	ShippingMethod   string             `json:"shipping_method,omitempty"`
	CancelReason     string             `json:"cancel_reason,omitempty"`
	CreatedAt        string             `json:"created_at"`
	UpdatedAt        string             `json:"updated_at"`
	PaidAt           string             `json:"paid_at,omitempty"`
	ShippedAt        string             `json:"shipped_at,omitempty"`
	DeliveredAt      string             `json:"delivered_at,omitempty"`
	CancelledAt      string             `json:"cancelled_at,omitempty"`
}

func buildOrderPayload(order domain.Order) orderPayload {
	payload := orderPayload{
		ID:               order.ID,
		OrderNumber:      order.OrderNumber,
		SellerID:         order.SellerID,
		UserID:           order.UserID,
		CustomerEmail:    order.CustomerEmail,
		Status:           string(order.Status),
		PaymentStatus:    string(order.PaymentStatus),
		PaymentType:      string(order.PaymentType),
		Currency:         strings.ToUpper(order.Currency),
		Items:            make([]orderItemPayload, 0, len(order.Items)),
		Subtotal:         money(order.Subtotal, order.Currency),
		Shipping:         money(order.ShippingAmount, order.Currency),
		Tax:              money(order.TaxAmount, order.Currency),
		Total:            money(order.Total, order.Currency),
		AmountPaid:       money(order.AmountPaid, order.Currency),
		RemainingBalance: money(order.RemainingBalance, order.Currency),
		ShippingAddress:  buildAddressPayload(order.ShippingAddress),
		ShippingMethod:   order.ShippingMethod,
		CreatedAt:        formatTime(order.CreatedAt),
		UpdatedAt:        formatTime(order.UpdatedAt),
		PaidAt:           formatTimePointer(order.PaidAt),
		ShippedAt:        formatTimePointer(order.ShippedAt),
		DeliveredAt:      formatTimePointer(order.DeliveredAt),
		CancelledAt:      formatTimePointer(order.CancelledAt),
	}
	if order.DepositAmount > 0 {
		payload.DepositAmount = money(order.DepositAmount, order.Currency)
	}
	if order.RefundedAmount > 0 {
		payload.RefundedAmount = money(order.RefundedAmount, order.Currency)
	}
	if order.BillingAddress != nil {
		billing := buildAddressPayload(*order.BillingAddress)
		payload.BillingAddress = &billing
	}
	if order.CancelReason != nil {
		payload.CancelReason = *order.CancelReason
	}
	for _, item := range order.Items {
		payload.Items = append(payload.Items, orderItemPayload{
			ID:               item.ID,
			ProductID:        item.ProductID,
			Name:             item.Name,
			VariantID:        item.VariantID,
			Size:             item.Size,
			Color:            item.Color,
			Type:             string(item.Type),
			UnitPrice:        money(item.UnitPrice, order.Currency),
			Quantity:         item.Quantity,
			RefundedQuantity: item.RefundedQuantity,
			Status:           string(item.Status),
		})
	}
	return payload
}

type refundLinePayload struct {
	ItemID   string `json:"item_id"`
	Quantity int    `json:"quantity"`
	Amount   string `json:"amount"`
}

type refundPayload struct {
	ID        string              `json:"id"`
	OrderID   string              `json:"order_id"`
	Amount    string              `json:"amount"`
	Currency  string              `json:"currency"`
	Status    string              `json:"status"`
	Reason    string              `json:"reason,omitempty"`
	Full      bool                `json:"full"`
	Lines     []refundLinePayload `json:"lines,omitempty"`
	CreatedAt string              `json:"created_at"`
}

func buildRefundPayload(refund domain.Refund) refundPayload {
	payload := refundPayload{
		ID:        refund.ID,
		OrderID:   refund.OrderID,
		Amount:    money(refund.Amount, refund.Currency),
		Currency:  strings.ToUpper(refund.Currency),
		Status:    string(refund.Status),
		Reason:    refund.Reason,
		Full:      refund.Full,
		CreatedAt: formatTime(refund.CreatedAt),
	}
	for _, line := range refund.Lines {
		payload.Lines = append(payload.Lines, refundLinePayload{
			ItemID:   line.ItemID,
			Quantity: line.Quantity,
			Amount:   money(line.Amount, refund.Currency),
		})
	}
	return payload
}
