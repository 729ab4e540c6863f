package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	domain "github.com/tradepost/api/internal/domain"
	"github.com/tradepost/api/internal/repositories"
)

// CartValidatorDeps bundles collaborators required to construct the validator.
type CartValidatorDeps struct {
	Products repositories.ProductRepository
	Logger   func(ctx context.Context, event string, fields map[string]any)
}

type cartValidator struct {
	products repositories.ProductRepository
	logger   func(context.Context, string, map[string]any)
}

// NewCartValidator wires a validator over the product repository.
func NewCartValidator(deps CartValidatorDeps) (CartValidator, error) {
	if deps.Products == nil {
		return nil, errors.New("cart validator: product repository is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &cartValidator{products: deps.Products, logger: logger}, nil
}

func (v *cartValidator) ValidateCart(ctx context.Context, lines []CartLine) (ValidatedCart, error) {
	if len(lines) == 0 {
		return ValidatedCart{}, fmt.Errorf("%w: cart must contain at least one line", ErrValidation)
	}

	for _, line := range lines {
		if strings.TrimSpace(line.ProductID) == "" {
			return ValidatedCart{}, fmt.Errorf("%w: product id is required", ErrValidation)
		}
		if line.Quantity <= 0 {
			return ValidatedCart{}, fmt.Errorf("%w: quantity for product %s must be a positive integer", ErrValidation, line.ProductID)
		}
	}

	ids := make([]string, 0, len(lines))
	for _, line := range lines {
		ids = append(ids, line.ProductID)
	}
	products, err := v.products.FindMany(ctx, ids)
	if err != nil {
		return ValidatedCart{}, translateRepoError("cart.load products", err)
	}
	byID := make(map[string]Product, len(products))
	for _, p := range products {
		byID[p.ID] = p
	}

	cart := ValidatedCart{}
	for _, line := range lines {
		product, ok := byID[line.ProductID]
		if !ok || !product.Active {
			return ValidatedCart{}, fmt.Errorf("%w: product %s", ErrNotFound, line.ProductID)
		}

		if cart.SellerID == "" {
			cart.SellerID = product.SellerID
			cart.Currency = strings.ToUpper(product.Currency)
			cart.ProductType = product.Type
		} else {
			if product.SellerID != cart.SellerID {
				return ValidatedCart{}, fmt.Errorf("%w: cart mixes sellers %s and %s", ErrConflict, cart.SellerID, product.SellerID)
			}
			if product.Type != cart.ProductType {
				return ValidatedCart{}, fmt.Errorf("%w: cart mixes fulfillment types %s and %s", ErrConflict, cart.ProductType, product.Type)
			}
		}

		validated, err := v.validateLine(product, line)
		if err != nil {
			return ValidatedCart{}, err
		}

		cart.Lines = append(cart.Lines, validated)
		cart.Subtotal += validated.UnitPrice * int64(validated.Quantity)
		if product.RequiresDeposit() {
			cart.DepositRequired = true
		}
	}

	v.logger(ctx, "cart_validated", map[string]any{
		"sellerId": cart.SellerID,
		"lines":    len(cart.Lines),
		"subtotal": cart.Subtotal,
	})
	return cart, nil
}

func (v *cartValidator) validateLine(product Product, line CartLine) (ValidatedLine, error) {
	validated := ValidatedLine{
		ProductID:   product.ID,
		Name:        product.Name,
		Kind:        domain.LineItemKindSimple,
		Type:        product.Type,
		Quantity:    line.Quantity,
		WeightGrams: product.WeightGrams,
	}

	price := product.Price
	stock := product.Stock
	if line.VariantID != "" {
		variant, ok := product.Variant(line.VariantID)
		if !ok {
			return ValidatedLine{}, fmt.Errorf("%w: product %s variant %s", ErrNotFound, product.ID, line.VariantID)
		}
		validated.Kind = domain.LineItemKindVariant
		validated.VariantID = variant.ID
		validated.Size = variant.Size
		validated.Color = variant.Color
		price += variant.PriceDelta
		stock = variant.Stock
	}

	if price <= 0 {
		return ValidatedLine{}, fmt.Errorf("%w: product %s has no purchasable price", ErrValidation, product.ID)
	}
	if product.PromotionActive && product.DiscountPercent > 0 {
		price -= domain.ApplyPercent(price, product.DiscountPercent)
		if price < 0 {
			price = 0
		}
	}
	validated.UnitPrice = price

	switch product.Type {
	case domain.ProductTypeInStock, domain.ProductTypeWholesale:
		if line.Quantity > stock {
			return ValidatedLine{}, fmt.Errorf("%w: product %s has %d in stock, requested %d", ErrConflict, product.ID, stock, line.Quantity)
		}
	}
	if product.Type == domain.ProductTypeWholesale && product.MinOrderQuantity > 0 && line.Quantity < product.MinOrderQuantity {
		return ValidatedLine{}, fmt.Errorf("%w: product %s requires a minimum quantity of %d", ErrValidation, product.ID, product.MinOrderQuantity)
	}
	if product.RequiresDeposit() {
		validated.DepositPercent = product.DepositPercent
	}
	return validated, nil
}
