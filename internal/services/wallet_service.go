package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/tradepost/api/internal/domain"
	"github.com/tradepost/api/internal/repositories"
)

// WalletServiceDeps bundles collaborators required to construct the wallet service.
type WalletServiceDeps struct {
	Sellers     repositories.SellerRepository
	Wallet      repositories.WalletRepository
	Currency    string
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type walletService struct {
	sellers  repositories.SellerRepository
	wallet   repositories.WalletRepository
	currency string
	clock    func() time.Time
	newID    func() string
	logger   func(context.Context, string, map[string]any)
}

// NewWalletService wires dependencies into a concrete WalletService implementation.
func NewWalletService(deps WalletServiceDeps) (WalletService, error) {
	if deps.Sellers == nil {
		return nil, errors.New("wallet service: seller repository is required")
	}
	if deps.Wallet == nil {
		return nil, errors.New("wallet service: wallet repository is required")
	}

	currency := strings.ToLower(strings.TrimSpace(deps.Currency))
	if currency == "" {
		currency = "usd"
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return strings.ToLower(ulid.Make().String())
		}
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &walletService{
		sellers:  deps.Sellers,
		wallet:   deps.Wallet,
		currency: currency,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

func (s *walletService) Balance(ctx context.Context, sellerID string) (WalletBalance, error) {
	sellerID = strings.TrimSpace(sellerID)
	if sellerID == "" {
		return WalletBalance{}, fmt.Errorf("%w: seller id is required", ErrValidation)
	}
	seller, err := s.sellers.FindByID(ctx, sellerID)
	if err != nil {
		return WalletBalance{}, translateRepoError("wallet.load seller", err)
	}
	balance, err := s.wallet.Balance(ctx, seller.ID)
	if err != nil {
		return WalletBalance{}, translateRepoError("wallet.balance", err)
	}
	return WalletBalance{SellerID: seller.ID, Balance: balance, Currency: s.currency}, nil
}

func (s *walletService) ListEntries(ctx context.Context, sellerID string, pager Pagination) (domain.CursorPage[WalletEntry], error) {
	sellerID = strings.TrimSpace(sellerID)
	if sellerID == "" {
		return domain.CursorPage[WalletEntry]{}, fmt.Errorf("%w: seller id is required", ErrValidation)
	}
	page, err := s.wallet.List(ctx, sellerID, pager)
	if err != nil {
		return domain.CursorPage[WalletEntry]{}, translateRepoError("wallet.list", err)
	}
	return page, nil
}

func (s *walletService) TopUp(ctx context.Context, cmd TopUpCommand) (WalletEntry, error) {
	sellerID := strings.TrimSpace(cmd.SellerID)
	if sellerID == "" {
		return WalletEntry{}, fmt.Errorf("%w: seller id is required", ErrValidation)
	}
	if cmd.Amount <= 0 {
		return WalletEntry{}, fmt.Errorf("%w: top-up amount must be positive, got %d", ErrValidation, cmd.Amount)
	}
	currency := strings.ToLower(strings.TrimSpace(cmd.Currency))
	if currency == "" {
		currency = s.currency
	}
	if currency != s.currency {
		return WalletEntry{}, fmt.Errorf("%w: wallet currency is %s, got %s", ErrValidation, s.currency, currency)
	}

	seller, err := s.sellers.FindByID(ctx, sellerID)
	if err != nil {
		return WalletEntry{}, translateRepoError("wallet.load seller", err)
	}

	entry := WalletEntry{
		ID:        walletEntryIDPrefix + s.newID(),
		SellerID:  seller.ID,
		Type:      domain.WalletEntryCredit,
		Amount:    cmd.Amount,
		Currency:  currency,
		Reference: strings.TrimSpace(cmd.Reference),
		Note:      strings.TrimSpace(cmd.Note),
		CreatedAt: s.clock(),
	}
	if err := s.wallet.Append(ctx, entry); err != nil {
		return WalletEntry{}, translateRepoError("wallet.append", err)
	}

	s.logger(ctx, "wallet_topped_up", map[string]any{"sellerId": seller.ID, "amount": cmd.Amount, "entryId": entry.ID})
	return entry, nil
}
