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
	"github.com/tradepost/api/internal/platform/auth"
	"github.com/tradepost/api/internal/services"
)

type stubLabelService struct {
	label        domain.ShippingLabel
	labels       []domain.ShippingLabel
	cancelResult services.LabelCancelResult
	refund       domain.LabelRefund
	report       services.ReconcileReport
	err          error

	purchaseCmd services.PurchaseLabelCommand
	cancelCmd   services.CancelLabelCommand
	gotLabelID  string
	gotLimit    int
}

func (s *stubLabelService) Purchase(_ context.Context, cmd services.PurchaseLabelCommand) (domain.ShippingLabel, error) {
	s.purchaseCmd = cmd
	return s.label, s.err
}

func (s *stubLabelService) Cancel(_ context.Context, cmd services.CancelLabelCommand) (services.LabelCancelResult, error) {
	s.cancelCmd = cmd
	return s.cancelResult, s.err
}

func (s *stubLabelService) ResolveRefund(_ context.Context, labelID string) (domain.LabelRefund, error) {
	s.gotLabelID = labelID
	return s.refund, s.err
}

func (s *stubLabelService) ResolvePending(_ context.Context, limit int) (services.ReconcileReport, error) {
	s.gotLimit = limit
	return s.report, s.err
}

func (s *stubLabelService) GetLabel(_ context.Context, labelID string) (domain.ShippingLabel, error) {
	s.gotLabelID = labelID
	return s.label, s.err
}

func (s *stubLabelService) ListByOrder(_ context.Context, _ string) ([]domain.ShippingLabel, error) {
	return s.labels, s.err
}

func sampleLabel() domain.ShippingLabel {
	now := time.Date(2025, 5, 12, 14, 0, 0, 0, time.UTC)
	return domain.ShippingLabel{
		ID:             "label-1",
		OrderID:        "order-1",
		SellerID:       "seller-1",
		Carrier:        "usps",
		Service:        "Priority",
		TrackingNumber: "9400100000000000000001",
		LabelURL:       "https://labels.example.com/label-1.pdf",
		BaseCost:       850,
		MarkupPercent:  10,
		TotalCharged:   935,
		Currency:       "usd",
		Status:         domain.LabelStatusPurchased,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func labelRouter(h *LabelHandlers) chi.Router {
	r := chi.NewRouter()
	r.Route("/labels", h.Routes)
	return r
}

func TestGetLabel(t *testing.T) {
	labels := &stubLabelService{label: sampleLabel()}
	handlers := NewLabelHandlers(nil, labels)
	router := labelRouter(handlers)

	req := httptest.NewRequest(http.MethodGet, "/labels/label-1", nil)
	identity := &auth.Identity{UserID: "seller-user", SellerID: "seller-1", Roles: []string{auth.RoleSeller}}
	req = req.WithContext(auth.WithIdentity(req.Context(), identity))
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if labels.gotLabelID != "label-1" {
		t.Fatalf("expected label id label-1, got %q", labels.gotLabelID)
	}
	var resp struct {
		Label struct {
			ID           string `json:"id"`
			BaseCost     string `json:"base_cost"`
			TotalCharged string `json:"total_charged"`
			Currency     string `json:"currency"`
			Status       string `json:"status"`
		} `json:"label"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp.Label.BaseCost != "8.50" || resp.Label.TotalCharged != "9.35" {
		t.Fatalf("unexpected label amounts %+v", resp.Label)
	}
	if resp.Label.Currency != "USD" || resp.Label.Status != "purchased" {
		t.Fatalf("unexpected label payload %+v", resp.Label)
	}
}

func TestGetLabelForeignSeller(t *testing.T) {
	labels := &stubLabelService{label: sampleLabel()}
	handlers := NewLabelHandlers(nil, labels)
	router := labelRouter(handlers)

	req := httptest.NewRequest(http.MethodGet, "/labels/label-1", nil)
	identity := &auth.Identity{UserID: "other", SellerID: "seller-2", Roles: []string{auth.RoleSeller}}
	req = req.WithContext(auth.WithIdentity(req.Context(), identity))
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404 for foreign seller, got %d", rr.Code)
	}
}

func TestCancelLabelEmptyBody(t *testing.T) {
	resolved := time.Date(2025, 5, 13, 8, 0, 0, 0, time.UTC)
	label := sampleLabel()
	label.Status = domain.LabelStatusRefundRequested
	labels := &stubLabelService{cancelResult: services.LabelCancelResult{
		Label: label,
		Refund: domain.LabelRefund{
			ID:        "lr-1",
			LabelID:   "label-1",
			Amount:    935,
			Status:    domain.LabelRefundStatusPending,
			CreatedAt: resolved,
		},
	}}
	handlers := NewLabelHandlers(nil, labels)
	router := labelRouter(handlers)

	req := httptest.NewRequest(http.MethodPost, "/labels/label-1:cancel", nil)
	identity := &auth.Identity{UserID: "seller-user", SellerID: "seller-1", Roles: []string{auth.RoleSeller}}
	req = req.WithContext(auth.WithIdentity(req.Context(), identity))
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if labels.cancelCmd.LabelID != "label-1" || labels.cancelCmd.SellerID != "seller-1" {
		t.Fatalf("unexpected command %+v", labels.cancelCmd)
	}
	var resp struct {
		Label struct {
			Status string `json:"status"`
		} `json:"label"`
		Refund struct {
			Amount string `json:"amount"`
			Status string `json:"status"`
		} `json:"refund"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp.Label.Status != "refund_requested" {
		t.Fatalf("expected refund_requested, got %s", resp.Label.Status)
	}
	if resp.Refund.Amount != "9.35" || resp.Refund.Status != "pending" {
		t.Fatalf("unexpected refund payload %+v", resp.Refund)
	}
}

func TestCancelLabelWithReason(t *testing.T) {
	labels := &stubLabelService{cancelResult: services.LabelCancelResult{Label: sampleLabel()}}
	handlers := NewLabelHandlers(nil, labels)
	router := labelRouter(handlers)

	req := httptest.NewRequest(http.MethodPost, "/labels/label-1:cancel", strings.NewReader(`{"reason":"address changed"}`))
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if labels.cancelCmd.Reason != "address changed" {
		t.Fatalf("expected reason to pass through, got %q", labels.cancelCmd.Reason)
	}
}

func TestCancelLabelConflict(t *testing.T) {
	labels := &stubLabelService{err: services.ErrConflict}
	handlers := NewLabelHandlers(nil, labels)
	router := labelRouter(handlers)

	req := httptest.NewRequest(http.MethodPost, "/labels/label-1:cancel", nil)
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", rr.Code)
	}
}
