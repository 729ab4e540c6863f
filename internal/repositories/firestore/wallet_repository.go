package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/tradepost/api/internal/domain"
	pfirestore "github.com/tradepost/api/internal/platform/firestore"
)

const walletCollection = "wallet_entries"

// WalletRepository is the append-only seller wallet ledger backed by Firestore.
type WalletRepository struct {
	base *pfirestore.BaseRepository[walletEntryDocument]
}

// NewWalletRepository constructs a Firestore-backed wallet repository.
func NewWalletRepository(provider *pfirestore.Provider) (*WalletRepository, error) {
	if provider == nil {
		return nil, errors.New("wallet repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[walletEntryDocument](provider, walletCollection, nil, nil)
	return &WalletRepository{base: base}, nil
}

// Append writes a new ledger entry. Entries are immutable once written.
func (r *WalletRepository) Append(ctx context.Context, entry domain.WalletEntry) error {
	if r == nil || r.base == nil {
		return errors.New("wallet repository not initialised")
	}
	if strings.TrimSpace(entry.ID) == "" {
		return errors.New("wallet entry id is required")
	}
	if entry.Amount <= 0 {
		return errors.New("wallet entry amount must be positive")
	}
	if entry.Type != domain.WalletEntryDebit && entry.Type != domain.WalletEntryCredit {
		return fmt.Errorf("unknown wallet entry type %q", entry.Type)
	}
	_, err := r.base.Create(ctx, entry.ID, fromDomainWalletEntry(entry))
	return err
}

// Balance sums the ledger for a seller. Inside a transaction the read is
// consistent with concurrent debits.
func (r *WalletRepository) Balance(ctx context.Context, sellerID string) (int64, error) {
	if r == nil || r.base == nil {
		return 0, errors.New("wallet repository not initialised")
	}
	id := strings.TrimSpace(sellerID)
	if id == "" {
		return 0, errors.New("seller id is required")
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("sellerId", "==", id)
	})
	if err != nil {
		return 0, err
	}

	var balance int64
	for _, doc := range docs {
		entry := toDomainWalletEntry(doc.Data)
		balance += entry.Signed()
	}
	return balance, nil
}

// List pages through ledger entries for a seller, newest first.
func (r *WalletRepository) List(ctx context.Context, sellerID string, pager domain.Pagination) (domain.CursorPage[domain.WalletEntry], error) {
	if r == nil || r.base == nil {
		return domain.CursorPage[domain.WalletEntry]{}, errors.New("wallet repository not initialised")
	}
	id := strings.TrimSpace(sellerID)
	if id == "" {
		return domain.CursorPage[domain.WalletEntry]{}, errors.New("seller id is required")
	}

	limit := pager.PageSize
	if limit < 0 {
		limit = 0
	}
	fetchLimit := limit
	if limit > 0 {
		fetchLimit = limit + 1
	}

	var startAfter []any
	if token := strings.TrimSpace(pager.PageToken); token != "" {
		ts, docID, err := decodeListToken(token)
		if err != nil {
			return domain.CursorPage[domain.WalletEntry]{}, fmt.Errorf("wallet repository: invalid page token: %w", err)
		}
		startAfter = []any{ts, docID}
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		q = q.Where("sellerId", "==", id)
		q = q.OrderBy("createdAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Desc)
		if len(startAfter) == 2 {
			q = q.StartAfter(startAfter...)
		}
		if fetchLimit > 0 {
			q = q.Limit(fetchLimit)
		}
		return q
	})
	if err != nil {
		return domain.CursorPage[domain.WalletEntry]{}, err
	}

	nextToken := ""
	if limit > 0 && len(docs) == fetchLimit {
		last := docs[len(docs)-1]
		ts := last.Data.CreatedAt
		if ts.IsZero() {
			ts = last.CreateTime
		}
		nextToken = encodeListToken(ts, last.ID)
		docs = docs[:len(docs)-1]
	}

	items := make([]domain.WalletEntry, 0, len(docs))
	for _, doc := range docs {
		entry := toDomainWalletEntry(doc.Data)
		entry.ID = doc.ID
		items = append(items, entry)
	}
	return domain.CursorPage[domain.WalletEntry]{Items: items, NextPageToken: nextToken}, nil
}

type walletEntryDocument struct {
	SellerID  string    `firestore:"sellerId"`
	Type      string    `firestore:"type"`
	Amount    int64     `firestore:"amount"`
	Currency  string    `firestore:"currency"`
	Reference string    `firestore:"reference,omitempty"`
	Note      string    `firestore:"note,omitempty"`
	CreatedAt time.Time `firestore:"createdAt"`
}

func fromDomainWalletEntry(entry domain.WalletEntry) walletEntryDocument {
	return walletEntryDocument{
		SellerID:  strings.TrimSpace(entry.SellerID),
		Type:      string(entry.Type),
		Amount:    entry.Amount,
		Currency:  strings.ToUpper(strings.TrimSpace(entry.Currency)),
		Reference: strings.TrimSpace(entry.Reference),
		Note:      strings.TrimSpace(entry.Note),
		CreatedAt: entry.CreatedAt,
	}
}

func toDomainWalletEntry(doc walletEntryDocument) domain.WalletEntry {
	return domain.WalletEntry{
		SellerID:  doc.SellerID,
		Type:      domain.WalletEntryType(doc.Type),
		Amount:    doc.Amount,
		Currency:  doc.Currency,
		Reference: doc.Reference,
		Note:      doc.Note,
		CreatedAt: doc.CreatedAt,
	}
}
