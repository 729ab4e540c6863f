package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	domain "github.com/tradepost/api/internal/domain"
	"github.com/tradepost/api/internal/services"
)

type stubCartValidator struct {
	cart  services.ValidatedCart
	err   error
	lines []services.CartLine
}

func (s *stubCartValidator) ValidateCart(_ context.Context, lines []services.CartLine) (services.ValidatedCart, error) {
	s.lines = lines
	if s.err != nil {
		return services.ValidatedCart{}, s.err
	}
	return s.cart, nil
}

func TestValidateCart(t *testing.T) {
	validator := &stubCartValidator{
		cart: services.ValidatedCart{
			SellerID:    "seller-1",
			Currency:    "usd",
			ProductType: domain.ProductTypeInStock,
			Subtotal:    7500,
			Lines: []services.ValidatedLine{
				{
					ProductID: "prod-1",
					Name:      "Linen shirt",
					Kind:      domain.LineItemKindVariant,
					VariantID: "var-1",
					Size:      "M",
					Type:      domain.ProductTypeInStock,
					UnitPrice: 2500,
					Quantity:  3,
				},
			},
		},
	}
	handlers := NewCartHandlers(validator, nil)

	body := `{"lines":[{"product_id":" prod-1 ","variant_id":"var-1","quantity":3}]}`
	req := httptest.NewRequest(http.MethodPost, "/cart:validate", strings.NewReader(body))
	rr := httptest.NewRecorder()

	handlers.validateCart(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if len(validator.lines) != 1 || validator.lines[0].ProductID != "prod-1" {
		t.Fatalf("expected trimmed product id, got %+v", validator.lines)
	}
	var resp struct {
		Cart struct {
			SellerID string `json:"seller_id"`
			Currency string `json:"currency"`
			Subtotal string `json:"subtotal"`
			Lines    []struct {
				UnitPrice string `json:"unit_price"`
				LineTotal string `json:"line_total"`
			} `json:"lines"`
		} `json:"cart"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp.Cart.Currency != "USD" {
		t.Fatalf("expected currency USD, got %s", resp.Cart.Currency)
	}
	if resp.Cart.Subtotal != "75.00" {
		t.Fatalf("expected subtotal 75.00, got %s", resp.Cart.Subtotal)
	}
	if len(resp.Cart.Lines) != 1 {
		t.Fatalf("expected one line, got %d", len(resp.Cart.Lines))
	}
	if resp.Cart.Lines[0].UnitPrice != "25.00" || resp.Cart.Lines[0].LineTotal != "75.00" {
		t.Fatalf("unexpected line amounts %+v", resp.Cart.Lines[0])
	}
}

func TestValidateCartInvalidJSON(t *testing.T) {
	handlers := NewCartHandlers(&stubCartValidator{}, nil)

	req := httptest.NewRequest(http.MethodPost, "/cart:validate", strings.NewReader("{not json"))
	rr := httptest.NewRecorder()

	handlers.validateCart(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestValidateCartServiceError(t *testing.T) {
	handlers := NewCartHandlers(&stubCartValidator{err: services.ErrConflict}, nil)

	req := httptest.NewRequest(http.MethodPost, "/cart:validate", strings.NewReader(`{"lines":[]}`))
	rr := httptest.NewRecorder()

	handlers.validateCart(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", rr.Code)
	}
	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if body.Error != "conflict" {
		t.Fatalf("expected code conflict, got %s", body.Error)
	}
}

func TestValidateCartWithoutService(t *testing.T) {
	handlers := NewCartHandlers(nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/cart:validate", strings.NewReader(`{"lines":[]}`))
	rr := httptest.NewRecorder()

	handlers.validateCart(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rr.Code)
	}
}

func TestCartSummary(t *testing.T) {
	orders := &stubOrderService{
		summary: services.OrderSummary{
			SellerID: "seller-1",
			Pricing: services.PricingBreakdown{
				Currency:         "usd",
				Subtotal:         10000,
				Shipping:         1200,
				Tax:              800,
				Total:            12000,
				PaymentType:      domain.PaymentTypeDeposit,
				DepositAmount:    6000,
				RemainingBalance: 6000,
			},
			Shipping: services.ShippingQuote{Cost: 1200, Method: "usps_priority", EstimatedDays: 3},
		},
	}
	handlers := NewCartHandlers(&stubCartValidator{}, orders)

	body := `{"lines":[{"product_id":"prod-1","quantity":1}],"destination":{"recipient":"A Buyer","line1":"1 Main St","city":"Portland","postal_code":"97201","country":"US"}}`
	req := httptest.NewRequest(http.MethodPost, "/cart:summary", strings.NewReader(body))
	rr := httptest.NewRecorder()

	handlers.summary(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if orders.summaryCmd.Destination.Country != "US" {
		t.Fatalf("expected destination country US, got %q", orders.summaryCmd.Destination.Country)
	}
	var resp struct {
		Summary struct {
			Pricing struct {
				Total            string `json:"total"`
				PaymentType      string `json:"payment_type"`
				DepositAmount    string `json:"deposit_amount"`
				RemainingBalance string `json:"remaining_balance"`
			} `json:"pricing"`
			Shipping struct {
				Cost          string `json:"cost"`
				Method        string `json:"method"`
				EstimatedDays int    `json:"estimated_days"`
			} `json:"shipping"`
		} `json:"summary"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp.Summary.Pricing.Total != "120.00" {
		t.Fatalf("expected total 120.00, got %s", resp.Summary.Pricing.Total)
	}
	if resp.Summary.Pricing.DepositAmount != "60.00" || resp.Summary.Pricing.RemainingBalance != "60.00" {
		t.Fatalf("unexpected deposit split %+v", resp.Summary.Pricing)
	}
	if resp.Summary.Shipping.Method != "usps_priority" || resp.Summary.Shipping.EstimatedDays != 3 {
		t.Fatalf("unexpected shipping quote %+v", resp.Summary.Shipping)
	}
}

func TestCartSummaryFullPaymentOmitsDeposit(t *testing.T) {
	orders := &stubOrderService{
		summary: services.OrderSummary{
			SellerID: "seller-1",
			Pricing: services.PricingBreakdown{
				Currency:    "usd",
				Subtotal:    5000,
				Total:       5000,
				PaymentType: domain.PaymentTypeFull,
			},
		},
	}
	handlers := NewCartHandlers(&stubCartValidator{}, orders)

	req := httptest.NewRequest(http.MethodPost, "/cart:summary", strings.NewReader(`{"lines":[{"product_id":"prod-1","quantity":1}]}`))
	rr := httptest.NewRecorder()

	handlers.summary(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	var resp struct {
		Summary struct {
			Pricing map[string]any `json:"pricing"`
		} `json:"summary"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if _, ok := resp.Summary.Pricing["deposit_amount"]; ok {
		t.Fatalf("expected deposit_amount to be omitted for full payment")
	}
}
