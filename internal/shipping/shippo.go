package shipping

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	domain "github.com/tradepost/api/internal/domain"
	config "github.com/tradepost/api/internal/platform/config"
)

const defaultTimeout = 20 * time.Second

// ShippoClient talks to the Shippo REST API.
type ShippoClient struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewShippoClient builds a client from the carrier configuration.
func NewShippoClient(cfg config.CarrierConfig) (*ShippoClient, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, fmt.Errorf("shipping: carrier endpoint is required")
	}
	if strings.TrimSpace(cfg.APIToken) == "" {
		return nil, fmt.Errorf("shipping: carrier api token is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &ShippoClient{
		baseURL: strings.TrimRight(cfg.Endpoint, "/"),
		token:   cfg.APIToken,
		http:    &http.Client{Timeout: timeout},
	}, nil
}

type shippoAddress struct {
	Name    string `json:"name"`
	Street1 string `json:"street1"`
	Street2 string `json:"street2,omitempty"`
	City    string `json:"city"`
	State   string `json:"state,omitempty"`
	Zip     string `json:"zip"`
	Country string `json:"country"`
	Phone   string `json:"phone,omitempty"`
}

type shippoParcel struct {
	Length       string `json:"length"`
	Width        string `json:"width"`
	Height       string `json:"height"`
	DistanceUnit string `json:"distance_unit"`
	Weight       string `json:"weight"`
	MassUnit     string `json:"mass_unit"`
}

type shipmentRequest struct {
	AddressFrom shippoAddress  `json:"address_from"`
	AddressTo   shippoAddress  `json:"address_to"`
	Parcels     []shippoParcel `json:"parcels"`
	Async       bool           `json:"async"`
}

type shippoRate struct {
	ObjectID     string `json:"object_id"`
	Amount       string `json:"amount"`
	Currency     string `json:"currency"`
	Provider     string `json:"provider"`
	ServiceLevel struct {
		Name string `json:"name"`
	} `json:"servicelevel"`
	EstimatedDays int `json:"estimated_days"`
}

type shipmentResponse struct {
	ObjectID string       `json:"object_id"`
	Status   string       `json:"status"`
	Rates    []shippoRate `json:"rates"`
}

type transactionRequest struct {
	Rate          string `json:"rate"`
	LabelFileType string `json:"label_file_type,omitempty"`
	Async         bool   `json:"async"`
}

type transactionResponse struct {
	ObjectID       string     `json:"object_id"`
	Status         string     `json:"status"`
	TrackingNumber string     `json:"tracking_number"`
	LabelURL       string     `json:"label_url"`
	Rate           shippoRate `json:"rate"`
	Messages       []struct {
		Text string `json:"text"`
	} `json:"messages"`
}

type refundRequest struct {
	Transaction string `json:"transaction"`
	Async       bool   `json:"async"`
}

type refundResponse struct {
	ObjectID string `json:"object_id"`
	Status   string `json:"status"`
}

// Rates creates a synchronous shipment and returns its purchasable rates.
func (c *ShippoClient) Rates(ctx context.Context, req RateRequest) ([]Rate, error) {
	payload := shipmentRequest{
		AddressFrom: toShippoAddress(req.From),
		AddressTo:   toShippoAddress(req.To),
		Parcels: []shippoParcel{{
			Length:       formatDimension(req.Parcel.LengthCM),
			Width:        formatDimension(req.Parcel.WidthCM),
			Height:       formatDimension(req.Parcel.HeightCM),
			DistanceUnit: "cm",
			Weight:       formatWeight(req.Parcel.WeightGrams),
			MassUnit:     "g",
		}},
		Async: false,
	}

	var resp shipmentResponse
	if err := c.post(ctx, "/shipments/", payload, &resp); err != nil {
		return nil, err
	}
	if len(resp.Rates) == 0 {
		return nil, ErrNoRates
	}

	rates := make([]Rate, 0, len(resp.Rates))
	for _, r := range resp.Rates {
		amount, err := domain.ParseAmount(r.Amount, r.Currency)
		if err != nil {
			continue
		}
		rates = append(rates, Rate{
			ObjectID:      r.ObjectID,
			Carrier:       r.Provider,
			Service:       r.ServiceLevel.Name,
			Amount:        amount,
			Currency:      strings.ToUpper(r.Currency),
			EstimatedDays: r.EstimatedDays,
		})
	}
	if len(rates) == 0 {
		return nil, ErrNoRates
	}
	return rates, nil
}

// Purchase buys a label transaction for a quoted rate.
func (c *ShippoClient) Purchase(ctx context.Context, req PurchaseRequest) (Label, error) {
	format := req.LabelFormat
	if format == "" {
		format = "PDF"
	}
	payload := transactionRequest{Rate: req.RateObjectID, LabelFileType: format, Async: false}

	var resp transactionResponse
	if err := c.post(ctx, "/transactions/", payload, &resp); err != nil {
		return Label{}, err
	}
	if !strings.EqualFold(resp.Status, "SUCCESS") {
		detail := "no detail"
		if len(resp.Messages) > 0 {
			detail = resp.Messages[0].Text
		}
		return Label{}, fmt.Errorf("shipping: label purchase %s: %s", strings.ToLower(resp.Status), detail)
	}

	amount, err := domain.ParseAmount(resp.Rate.Amount, resp.Rate.Currency)
	if err != nil {
		return Label{}, fmt.Errorf("shipping: parse label cost: %w", err)
	}
	return Label{
		TransactionID:  resp.ObjectID,
		TrackingNumber: resp.TrackingNumber,
		LabelURL:       resp.LabelURL,
		Carrier:        resp.Rate.Provider,
		Service:        resp.Rate.ServiceLevel.Name,
		Amount:         amount,
		Currency:       strings.ToUpper(resp.Rate.Currency),
	}, nil
}

// RequestRefund asks the carrier to void a purchased label. Carriers usually
// queue the request and decide asynchronously.
func (c *ShippoClient) RequestRefund(ctx context.Context, req RefundRequest) (RefundOutcome, error) {
	payload := refundRequest{Transaction: req.TransactionID, Async: false}

	var resp refundResponse
	if err := c.post(ctx, "/refunds/", payload, &resp); err != nil {
		return RefundOutcome{}, err
	}
	return RefundOutcome{RefundID: resp.ObjectID, State: mapRefundStatus(resp.Status)}, nil
}

// RefundStatus re-reads a previously created refund object.
func (c *ShippoClient) RefundStatus(ctx context.Context, refundID string) (RefundOutcome, error) {
	var resp refundResponse
	if err := c.get(ctx, "/refunds/"+refundID, &resp); err != nil {
		return RefundOutcome{}, err
	}
	return RefundOutcome{RefundID: resp.ObjectID, State: mapRefundStatus(resp.Status)}, nil
}

func (c *ShippoClient) post(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("shipping: encode request: %w", err)
	}
	endpoint, err := url.JoinPath(c.baseURL, path)
	if err != nil {
		return fmt.Errorf("shipping: build url: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("shipping: build request: %w", err)
	}
	return c.do(req, out)
}

func (c *ShippoClient) get(ctx context.Context, path string, out any) error {
	endpoint, err := url.JoinPath(c.baseURL, path)
	if err != nil {
		return fmt.Errorf("shipping: build url: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("shipping: build request: %w", err)
	}
	return c.do(req, out)
}

func (c *ShippoClient) do(req *http.Request, out any) error {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "ShippoToken "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("shipping: carrier request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("shipping: carrier status %d: %s", resp.StatusCode, drainError(resp.Body))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("shipping: decode response: %w", err)
	}
	return nil
}

func toShippoAddress(addr domain.Address) shippoAddress {
	out := shippoAddress{
		Name:    addr.Recipient,
		Street1: addr.Line1,
		City:    addr.City,
		Zip:     addr.PostalCode,
		Country: addr.Country,
	}
	if addr.Line2 != nil {
		out.Street2 = *addr.Line2
	}
	if addr.State != nil {
		out.State = *addr.State
	}
	if addr.Phone != nil {
		out.Phone = *addr.Phone
	}
	return out
}

func mapRefundStatus(status string) RefundState {
	switch strings.ToUpper(status) {
	case "SUCCESS":
		return RefundSucceeded
	case "ERROR", "REJECTED":
		return RefundRejected
	default:
		return RefundQueued
	}
}

func formatDimension(cm float64) string {
	if cm <= 0 {
		cm = 1
	}
	return fmt.Sprintf("%.1f", cm)
}

func formatWeight(grams int) string {
	if grams <= 0 {
		grams = 1
	}
	return fmt.Sprintf("%d", grams)
}

func drainError(r io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(r, 2048))
	if err != nil || len(bytes.TrimSpace(data)) == 0 {
		return "no body"
	}
	return string(bytes.TrimSpace(data))
}
