package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	domain "github.com/tradepost/api/internal/domain"
	pfirestore "github.com/tradepost/api/internal/platform/firestore"
)

const sellerCollection = "sellers"

// SellerRepository persists merchant profiles in Firestore.
type SellerRepository struct {
	base *pfirestore.BaseRepository[sellerDocument]
}

// NewSellerRepository constructs a Firestore-backed seller repository.
func NewSellerRepository(provider *pfirestore.Provider) (*SellerRepository, error) {
	if provider == nil {
		return nil, errors.New("seller repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[sellerDocument](provider, sellerCollection, nil, nil)
	return &SellerRepository{base: base}, nil
}

// FindByID loads a seller profile together with its shipping configuration.
func (r *SellerRepository) FindByID(ctx context.Context, sellerID string) (domain.Seller, error) {
	if r == nil || r.base == nil {
		return domain.Seller{}, errors.New("seller repository not initialised")
	}
	id := strings.TrimSpace(sellerID)
	if id == "" {
		return domain.Seller{}, errors.New("seller id is required")
	}

	doc, err := r.base.Get(ctx, id)
	if err != nil {
		return domain.Seller{}, err
	}
	seller := toDomainSeller(doc.Data)
	seller.ID = doc.ID
	return seller, nil
}

// Upsert writes the full seller document.
func (r *SellerRepository) Upsert(ctx context.Context, seller domain.Seller) (domain.Seller, error) {
	if r == nil || r.base == nil {
		return domain.Seller{}, errors.New("seller repository not initialised")
	}
	if strings.TrimSpace(seller.ID) == "" {
		return domain.Seller{}, errors.New("seller id is required")
	}

	now := time.Now().UTC()
	doc := fromDomainSeller(seller, now)
	if _, err := r.base.Set(ctx, seller.ID, doc); err != nil {
		return domain.Seller{}, err
	}
	saved := toDomainSeller(doc)
	saved.ID = seller.ID
	return saved, nil
}

type sellerDocument struct {
	Name             string              `firestore:"name"`
	Currency         string              `firestore:"currency"`
	FlatShippingRate *int64              `firestore:"flatShippingRate,omitempty"`
	ShippingZones    []zoneDocument      `firestore:"shippingZones"`
	Warehouses       []warehouseDocument `firestore:"warehouses"`
	CreatedAt        time.Time           `firestore:"createdAt"`
	UpdatedAt        time.Time           `firestore:"updatedAt"`
}

type zoneDocument struct {
	Continent     string `firestore:"continent"`
	Country       string `firestore:"country"`
	City          string `firestore:"city"`
	Rate          int64  `firestore:"rate"`
	Method        string `firestore:"method"`
	EstimatedDays int    `firestore:"estimatedDays"`
}

type warehouseDocument struct {
	ID      string          `firestore:"id"`
	Label   string          `firestore:"label"`
	Address addressDocument `firestore:"address"`
}

type addressDocument struct {
	Recipient  string  `firestore:"recipient"`
	Line1      string  `firestore:"line1"`
	Line2      *string `firestore:"line2,omitempty"`
	City       string  `firestore:"city"`
	State      *string `firestore:"state,omitempty"`
	PostalCode string  `firestore:"postalCode"`
	Country    string  `firestore:"country"`
	Phone      *string `firestore:"phone,omitempty"`
}

func toDomainSeller(doc sellerDocument) domain.Seller {
	seller := domain.Seller{
		Name:             doc.Name,
		Currency:         strings.ToUpper(strings.TrimSpace(doc.Currency)),
		FlatShippingRate: doc.FlatShippingRate,
		CreatedAt:        doc.CreatedAt,
		UpdatedAt:        doc.UpdatedAt,
	}
	for _, z := range doc.ShippingZones {
		seller.ShippingZones = append(seller.ShippingZones, domain.ShippingZone{
			Continent:     z.Continent,
			Country:       z.Country,
			City:          z.City,
			Rate:          z.Rate,
			Method:        z.Method,
			EstimatedDays: z.EstimatedDays,
		})
	}
	for _, w := range doc.Warehouses {
		seller.Warehouses = append(seller.Warehouses, domain.WarehouseAddress{
			ID:      w.ID,
			Label:   w.Label,
			Address: toDomainAddress(w.Address),
		})
	}
	return seller
}

func fromDomainSeller(seller domain.Seller, now time.Time) sellerDocument {
	doc := sellerDocument{
		Name:             strings.TrimSpace(seller.Name),
		Currency:         strings.ToUpper(strings.TrimSpace(seller.Currency)),
		FlatShippingRate: seller.FlatShippingRate,
		CreatedAt:        seller.CreatedAt,
		UpdatedAt:        now,
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	for _, z := range seller.ShippingZones {
		doc.ShippingZones = append(doc.ShippingZones, zoneDocument{
			Continent:     z.Continent,
			Country:       z.Country,
			City:          z.City,
			Rate:          z.Rate,
			Method:        z.Method,
			EstimatedDays: z.EstimatedDays,
		})
	}
	for _, w := range seller.Warehouses {
		doc.Warehouses = append(doc.Warehouses, warehouseDocument{
			ID:      w.ID,
			Label:   w.Label,
			Address: fromDomainAddress(w.Address),
		})
	}
	return doc
}

func toDomainAddress(doc addressDocument) domain.Address {
	return domain.Address{
		Recipient:  doc.Recipient,
		Line1:      doc.Line1,
		Line2:      doc.Line2,
		City:       doc.City,
		State:      doc.State,
		PostalCode: doc.PostalCode,
		Country:    strings.ToUpper(strings.TrimSpace(doc.Country)),
		Phone:      doc.Phone,
	}
}

func fromDomainAddress(addr domain.Address) addressDocument {
	return addressDocument{
		Recipient:  strings.TrimSpace(addr.Recipient),
		Line1:      strings.TrimSpace(addr.Line1),
		Line2:      addr.Line2,
		City:       strings.TrimSpace(addr.City),
		State:      addr.State,
		PostalCode: strings.TrimSpace(addr.PostalCode),
		Country:    strings.ToUpper(strings.TrimSpace(addr.Country)),
		Phone:      addr.Phone,
	}
}
