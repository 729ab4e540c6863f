package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	domain "github.com/tradepost/api/internal/domain"
	pfirestore "github.com/tradepost/api/internal/platform/firestore"
	"github.com/tradepost/api/internal/repositories"
)

const productCollection = "products"

// ProductRepository persists catalog entries in Firestore.
type ProductRepository struct {
	base *pfirestore.BaseRepository[productDocument]
}

// NewProductRepository constructs a Firestore-backed product repository.
func NewProductRepository(provider *pfirestore.Provider) (*ProductRepository, error) {
	if provider == nil {
		return nil, errors.New("product repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[productDocument](provider, productCollection, nil, nil)
	return &ProductRepository{base: base}, nil
}

// FindByID loads a single product.
func (r *ProductRepository) FindByID(ctx context.Context, productID string) (domain.Product, error) {
	if r == nil || r.base == nil {
		return domain.Product{}, errors.New("product repository not initialised")
	}
	id := strings.TrimSpace(productID)
	if id == "" {
		return domain.Product{}, errors.New("product id is required")
	}
	doc, err := r.base.Get(ctx, id)
	if err != nil {
		return domain.Product{}, err
	}
	product := toDomainProduct(doc.Data)
	product.ID = doc.ID
	return product, nil
}

// FindMany loads the given products keyed by ID. Missing products are simply
// absent from the result so callers can report them per line.
func (r *ProductRepository) FindMany(ctx context.Context, productIDs []string) (map[string]domain.Product, error) {
	if r == nil || r.base == nil {
		return nil, errors.New("product repository not initialised")
	}

	result := make(map[string]domain.Product, len(productIDs))
	seen := make(map[string]struct{}, len(productIDs))
	for _, raw := range productIDs {
		id := strings.TrimSpace(raw)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}

		doc, err := r.base.Get(ctx, id)
		if err != nil {
			var repoErr repositories.RepositoryError
			if errors.As(err, &repoErr) && repoErr.IsNotFound() {
				continue
			}
			return nil, err
		}
		product := toDomainProduct(doc.Data)
		product.ID = doc.ID
		result[id] = product
	}
	return result, nil
}

// Update writes the full product document.
func (r *ProductRepository) Update(ctx context.Context, product domain.Product) error {
	if r == nil || r.base == nil {
		return errors.New("product repository not initialised")
	}
	if strings.TrimSpace(product.ID) == "" {
		return errors.New("product id is required")
	}
	doc := fromDomainProduct(product, time.Now().UTC())
	_, err := r.base.Set(ctx, product.ID, doc)
	return err
}

type productDocument struct {
	SellerID         string            `firestore:"sellerId"`
	Name             string            `firestore:"name"`
	Type             string            `firestore:"type"`
	Price            int64             `firestore:"price"`
	Currency         string            `firestore:"currency"`
	Stock            int               `firestore:"stock"`
	Active           bool              `firestore:"active"`
	DiscountPercent  int64             `firestore:"discountPercent"`
	PromotionActive  bool              `firestore:"promotionActive"`
	DepositPercent   int64             `firestore:"depositPercent"`
	MinOrderQuantity int               `firestore:"minOrderQuantity"`
	WeightGrams      int               `firestore:"weightGrams"`
	Variants         []variantDocument `firestore:"variants"`
	CreatedAt        time.Time         `firestore:"createdAt"`
	UpdatedAt        time.Time         `firestore:"updatedAt"`
}

type variantDocument struct {
	ID         string `firestore:"id"`
	Size       string `firestore:"size"`
	Color      string `firestore:"color"`
	PriceDelta int64  `firestore:"priceDelta"`
	Stock      int    `firestore:"stock"`
}

func toDomainProduct(doc productDocument) domain.Product {
	product := domain.Product{
		SellerID:         doc.SellerID,
		Name:             doc.Name,
		Type:             domain.ProductType(doc.Type),
		Price:            doc.Price,
		Currency:         strings.ToUpper(strings.TrimSpace(doc.Currency)),
		Stock:            doc.Stock,
		Active:           doc.Active,
		DiscountPercent:  doc.DiscountPercent,
		PromotionActive:  doc.PromotionActive,
		DepositPercent:   doc.DepositPercent,
		MinOrderQuantity: doc.MinOrderQuantity,
		WeightGrams:      doc.WeightGrams,
		CreatedAt:        doc.CreatedAt,
		UpdatedAt:        doc.UpdatedAt,
	}
	for _, v := range doc.Variants {
		product.Variants = append(product.Variants, domain.ProductVariant{
			ID:         v.ID,
			Size:       v.Size,
			Color:      v.Color,
			PriceDelta: v.PriceDelta,
			Stock:      v.Stock,
		})
	}
	return product
}

func fromDomainProduct(product domain.Product, now time.Time) productDocument {
	doc := productDocument{
		SellerID:         strings.TrimSpace(product.SellerID),
		Name:             strings.TrimSpace(product.Name),
		Type:             string(product.Type),
		Price:            product.Price,
		Currency:         strings.ToUpper(strings.TrimSpace(product.Currency)),
		Stock:            product.Stock,
		Active:           product.Active,
		DiscountPercent:  product.DiscountPercent,
		PromotionActive:  product.PromotionActive,
		DepositPercent:   product.DepositPercent,
		MinOrderQuantity: product.MinOrderQuantity,
		WeightGrams:      product.WeightGrams,
		CreatedAt:        product.CreatedAt,
		UpdatedAt:        now,
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	for _, v := range product.Variants {
		doc.Variants = append(doc.Variants, variantDocument{
			ID:         v.ID,
			Size:       v.Size,
			Color:      v.Color,
			PriceDelta: v.PriceDelta,
			Stock:      v.Stock,
		})
	}
	return doc
}
