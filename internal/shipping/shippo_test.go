package shipping

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	domain "github.com/tradepost/api/internal/domain"
	config "github.com/tradepost/api/internal/platform/config"
)

func newTestClient(t *testing.T, handler http.Handler) (*ShippoClient, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := NewShippoClient(config.CarrierConfig{
		Endpoint: srv.URL,
		APIToken: "shippo_test_token",
		Timeout:  5 * time.Second,
	})
	if err != nil {
		t.Fatalf("NewShippoClient() error = %v", err)
	}
	return client, srv
}

func TestShippoClientRates(t *testing.T) {
	var gotAuth string
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/shipments/" {
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")

		var req shipmentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode shipment request: %v", err)
		}
		if req.AddressTo.Country != "DE" {
			t.Fatalf("address_to country = %q, want DE", req.AddressTo.Country)
		}
		if req.Async {
			t.Fatalf("expected synchronous shipment creation")
		}

		json.NewEncoder(w).Encode(map[string]any{
			"object_id": "shp_1",
			"status":    "SUCCESS",
			"rates": []map[string]any{
				{
					"object_id":      "rate_cheap",
					"amount":         "7.90",
					"currency":       "usd",
					"provider":       "usps",
					"servicelevel":   map[string]any{"name": "Priority"},
					"estimated_days": 3,
				},
				{
					"object_id": "rate_bad",
					"amount":    "not-a-number",
					"currency":  "USD",
					"provider":  "dhl",
				},
			},
		})
	}))

	rates, err := client.Rates(context.Background(), RateRequest{
		From:   domain.Address{Recipient: "Warehouse", Line1: "1 Dock St", City: "Austin", PostalCode: "73301", Country: "US"},
		To:     domain.Address{Recipient: "Kai", Line1: "Hauptstr 5", City: "Berlin", PostalCode: "10115", Country: "DE"},
		Parcel: Parcel{WeightGrams: 450, LengthCM: 20, WidthCM: 15, HeightCM: 10},
	})
	if err != nil {
		t.Fatalf("Rates() error = %v", err)
	}
	if gotAuth != "ShippoToken shippo_test_token" {
		t.Fatalf("Authorization = %q", gotAuth)
	}
	if len(rates) != 1 {
		t.Fatalf("len(rates) = %d, want 1 (unparseable rate skipped)", len(rates))
	}
	got := rates[0]
	if got.ObjectID != "rate_cheap" || got.Amount != 790 || got.Currency != "USD" {
		t.Fatalf("rate = %+v", got)
	}
	if got.Carrier != "usps" || got.Service != "Priority" || got.EstimatedDays != 3 {
		t.Fatalf("rate detail = %+v", got)
	}
}

func TestShippoClientRatesEmpty(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"object_id": "shp_1", "rates": []any{}})
	}))

	if _, err := client.Rates(context.Background(), RateRequest{}); err != ErrNoRates {
		t.Fatalf("Rates() error = %v, want ErrNoRates", err)
	}
}

func TestShippoClientPurchase(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/transactions/" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		var req transactionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode transaction request: %v", err)
		}
		if req.Rate != "rate_cheap" {
			t.Fatalf("rate = %q", req.Rate)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"object_id":       "txn_1",
			"status":          "SUCCESS",
			"tracking_number": "9400100000000000000000",
			"label_url":       "https://deliver.example/labels/txn_1.pdf",
			"rate": map[string]any{
				"object_id":    "rate_cheap",
				"amount":       "7.90",
				"currency":     "USD",
				"provider":     "usps",
				"servicelevel": map[string]any{"name": "Priority"},
			},
		})
	}))

	label, err := client.Purchase(context.Background(), PurchaseRequest{RateObjectID: "rate_cheap"})
	if err != nil {
		t.Fatalf("Purchase() error = %v", err)
	}
	if label.TransactionID != "txn_1" || label.TrackingNumber != "9400100000000000000000" {
		t.Fatalf("label = %+v", label)
	}
	if label.Amount != 790 || label.Currency != "USD" {
		t.Fatalf("label cost = %d %s", label.Amount, label.Currency)
	}
}

func TestShippoClientPurchaseFailure(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"object_id": "txn_2",
			"status":    "ERROR",
			"messages":  []map[string]any{{"text": "rate expired"}},
		})
	}))

	if _, err := client.Purchase(context.Background(), PurchaseRequest{RateObjectID: "rate_old"}); err == nil {
		t.Fatalf("Purchase() expected error for ERROR status")
	}
}

func TestShippoClientRefundStates(t *testing.T) {
	tests := []struct {
		carrierStatus string
		want          RefundState
	}{
		{"QUEUED", RefundQueued},
		{"PENDING", RefundQueued},
		{"SUCCESS", RefundSucceeded},
		{"ERROR", RefundRejected},
	}

	for _, tt := range tests {
		t.Run(tt.carrierStatus, func(t *testing.T) {
			client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/refunds/" {
					t.Fatalf("unexpected path %s", r.URL.Path)
				}
				json.NewEncoder(w).Encode(map[string]any{"object_id": "rfnd_1", "status": tt.carrierStatus})
			}))

			outcome, err := client.RequestRefund(context.Background(), RefundRequest{TransactionID: "txn_1"})
			if err != nil {
				t.Fatalf("RequestRefund() error = %v", err)
			}
			if outcome.State != tt.want {
				t.Fatalf("state = %q, want %q", outcome.State, tt.want)
			}
		})
	}
}

func TestShippoClientErrorStatus(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"detail":"invalid token"}`, http.StatusUnauthorized)
	}))

	if _, err := client.RefundStatus(context.Background(), "rfnd_1"); err == nil {
		t.Fatalf("RefundStatus() expected error for 401 response")
	}
}
