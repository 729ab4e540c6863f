package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/tradepost/api/internal/platform/httpx"
	"github.com/tradepost/api/internal/services"
)

const maxCartBodySize = 32 * 1024

// CartHandlers exposes the server-side cart pricing endpoints. They never
// persist anything and never trust client amounts.
type CartHandlers struct {
	validator services.CartValidator
	orders    services.OrderService
}

// NewCartHandlers constructs handlers for cart validation and order quoting.
func NewCartHandlers(validator services.CartValidator, orders services.OrderService) *CartHandlers {
	return &CartHandlers{
		validator: validator,
		orders:    orders,
	}
}

// Routes wires the colon-suffixed cart actions onto the api router.
func (h *CartHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/cart:validate", h.validateCart)
	r.Post("/cart:summary", h.summary)
}

type cartLinePayload struct {
	ProductID string `json:"product_id"`
	VariantID string `json:"variant_id,omitempty"`
	Quantity  int    `json:"quantity"`
}

type validateCartRequest struct {
	Lines []cartLinePayload `json:"lines"`
}

type summaryRequest struct {
	Lines       []cartLinePayload `json:"lines"`
	Destination addressPayload    `json:"destination"`
}

func (h *CartHandlers) validateCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.validator == nil {
		httpx.WriteError(ctx, w, httpx.NewError("service_unavailable", "cart validation is unavailable", http.StatusServiceUnavailable))
		return
	}

	var req validateCartRequest
	if err := decodeJSONBody(r, maxCartBodySize, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	cart, err := h.validator.ValidateCart(ctx, toCartLines(req.Lines))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, map[string]any{"cart": buildValidatedCartPayload(cart)})
}

func (h *CartHandlers) summary(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("service_unavailable", "order pricing is unavailable", http.StatusServiceUnavailable))
		return
	}

	var req summaryRequest
	if err := decodeJSONBody(r, maxCartBodySize, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	summary, err := h.orders.CalculateSummary(ctx, services.SummaryCommand{
		Lines:       toCartLines(req.Lines),
		Destination: req.Destination.toDomain(),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, map[string]any{"summary": buildSummaryPayload(summary)})
}

func toCartLines(lines []cartLinePayload) []services.CartLine {
	out := make([]services.CartLine, 0, len(lines))
	for _, line := range lines {
		out = append(out, services.CartLine{
			ProductID: strings.TrimSpace(line.ProductID),
			VariantID: strings.TrimSpace(line.VariantID),
			Quantity:  line.Quantity,
		})
	}
	return out
}

type validatedLinePayload struct {
	ProductID      string `json:"product_id"`
	VariantID      string `json:"variant_id,omitempty"`
	Name           string `json:"name"`
	Size           string `json:"size,omitempty"`
	Color          string `json:"color,omitempty"`
	Type           string `json:"type"`
	UnitPrice      string `json:"unit_price"`
	Quantity       int    `json:"quantity"`
	LineTotal      string `json:"line_total"`
	DepositPercent int64  `json:"deposit_percent,omitempty"`
	WeightGrams    int    `json:"weight_grams,omitempty"`
}

type validatedCartPayload struct {
	SellerID        string                 `json:"seller_id"`
	Currency        string                 `json:"currency"`
	ProductType     string                 `json:"product_type"`
	Subtotal        string                 `json:"subtotal"`
	DepositRequired bool                   `json:"deposit_required"`
	Lines           []validatedLinePayload `json:"lines"`
}

func buildValidatedCartPayload(cart services.ValidatedCart) validatedCartPayload {
	payload := validatedCartPayload{
		SellerID:        cart.SellerID,
		Currency:        strings.ToUpper(cart.Currency),
		ProductType:     string(cart.ProductType),
		Subtotal:        money(cart.Subtotal, cart.Currency),
		DepositRequired: cart.DepositRequired,
		Lines:           make([]validatedLinePayload, 0, len(cart.Lines)),
	}
	for _, line := range cart.Lines {
		payload.Lines = append(payload.Lines, validatedLinePayload{
			ProductID:      line.ProductID,
			VariantID:      line.VariantID,
			Name:           line.Name,
			Size:           line.Size,
			Color:          line.Color,
			Type:           string(line.Type),
			UnitPrice:      money(line.UnitPrice, cart.Currency),
			Quantity:       line.Quantity,
			LineTotal:      money(line.UnitPrice*int64(line.Quantity), cart.Currency),
			DepositPercent: line.DepositPercent,
			WeightGrams:    line.WeightGrams,
		})
	}
	return payload
}

type pricingPayload struct {
	Currency         string `json:"currency"`
	Subtotal         string `json:"subtotal"`
	Shipping         string `json:"shipping"`
	Tax              string `json:"tax"`
	Total            string `json:"total"`
	PaymentType      string `json:"payment_type"`
	DepositAmount    string `json:"deposit_amount,omitempty"`
	RemainingBalance string `json:"remaining_balance,omitempty"`
}

type shippingQuotePayload struct {
	Cost          string `json:"cost"`
	Method        string `json:"method"`
	EstimatedDays int    `json:"estimated_days,omitempty"`
}

type summaryPayload struct {
	SellerID string               `json:"seller_id"`
	Pricing  pricingPayload       `json:"pricing"`
	Shipping shippingQuotePayload `json:"shipping"`
}

func buildSummaryPayload(summary services.OrderSummary) summaryPayload {
	return summaryPayload{
		SellerID: summary.SellerID,
		Pricing:  buildPricingPayload(summary.Pricing),
		Shipping: shippingQuotePayload{
			Cost:          money(summary.Shipping.Cost, summary.Pricing.Currency),
			Method:        summary.Shipping.Method,
			EstimatedDays: summary.Shipping.EstimatedDays,
		},
	}
}

func buildPricingPayload(pricing services.PricingBreakdown) pricingPayload {
	payload := pricingPayload{
		Currency:    strings.ToUpper(pricing.Currency),
		Subtotal:    money(pricing.Subtotal, pricing.Currency),
		Shipping:    money(pricing.Shipping, pricing.Currency),
		Tax:         money(pricing.Tax, pricing.Currency),
		Total:       money(pricing.Total, pricing.Currency),
		PaymentType: string(pricing.PaymentType),
	}
	if pricing.DepositAmount > 0 {
		payload.DepositAmount = money(pricing.DepositAmount, pricing.Currency)
		payload.RemainingBalance = money(pricing.RemainingBalance, pricing.Currency)
	}
	return payload
}
