package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/tradepost/api/internal/domain"
	"github.com/tradepost/api/internal/platform/auth"
	"github.com/tradepost/api/internal/platform/httpx"
	"github.com/tradepost/api/internal/platform/pagination"
	"github.com/tradepost/api/internal/services"
)

const maxWalletBodySize = 16 * 1024

// WalletHandlers exposes the seller ledger endpoints.
type WalletHandlers struct {
	authn  *auth.Authenticator
	wallet services.WalletService
}

// NewWalletHandlers constructs the wallet endpoint group.
func NewWalletHandlers(authn *auth.Authenticator, wallet services.WalletService) *WalletHandlers {
	return &WalletHandlers{
		authn:  authn,
		wallet: wallet,
	}
}

// Routes wires the wallet endpoints onto the api router. Balance and
// statement are seller-facing; top-ups are an admin operation.
func (h *WalletHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}

	seller := h.middleware(auth.RoleSeller, auth.RoleAdmin)
	admin := h.middleware(auth.RoleAdmin)

	r.With(seller...).Get("/wallet", h.balance)
	r.With(seller...).Get("/wallet/entries", h.listEntries)
	r.With(admin...).Post("/wallet:topup", h.topUp)
}

func (h *WalletHandlers) middleware(roles ...string) []func(http.Handler) http.Handler {
	if h.authn == nil {
		return nil
	}
	return []func(http.Handler) http.Handler{h.authn.RequireAuth(roles...)}
}

// resolveSellerID picks the ledger owner: sellers are scoped to themselves,
// admins name a seller via query parameter.
func resolveSellerID(r *http.Request) string {
	if identity, ok := auth.IdentityFromContext(r.Context()); ok && identity.IsSeller() {
		return identity.SellerID
	}
	return strings.TrimSpace(r.URL.Query().Get("seller_id"))
}

func (h *WalletHandlers) balance(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.wallet == nil {
		httpx.WriteError(ctx, w, httpx.NewError("service_unavailable", "wallet service is unavailable", http.StatusServiceUnavailable))
		return
	}

	balance, err := h.wallet.Balance(ctx, resolveSellerID(r))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, map[string]any{
		"wallet": map[string]any{
			"seller_id": balance.SellerID,
			"balance":   money(balance.Balance, balance.Currency),
			"currency":  strings.ToUpper(balance.Currency),
		},
	})
}

func (h *WalletHandlers) listEntries(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.wallet == nil {
		httpx.WriteError(ctx, w, httpx.NewError("service_unavailable", "wallet service is unavailable", http.StatusServiceUnavailable))
		return
	}

	params, err := pagination.FromRequest(r, pagination.Options{MaxPageSize: 200})
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	page, err := h.wallet.ListEntries(ctx, resolveSellerID(r), domain.Pagination{
		PageSize:  params.PageSize,
		PageToken: params.PageToken,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	entries := make([]map[string]any, 0, len(page.Items))
	for _, entry := range page.Items {
		entries = append(entries, buildWalletEntryPayload(entry))
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{
		"entries":         entries,
		"next_page_token": page.NextPageToken,
	})
}

type topUpRequest struct {
	SellerID  string `json:"seller_id"`
	Amount    string `json:"amount"`
	Currency  string `json:"currency,omitempty"`
	Reference string `json:"reference,omitempty"`
	Note      string `json:"note,omitempty"`
}

func (h *WalletHandlers) topUp(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.wallet == nil {
		httpx.WriteError(ctx, w, httpx.NewError("service_unavailable", "wallet service is unavailable", http.StatusServiceUnavailable))
		return
	}

	var req topUpRequest
	if err := decodeJSONBody(r, maxWalletBodySize, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	amount, err := domain.ParseAmount(strings.TrimSpace(req.Amount), req.Currency)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "amount must be a decimal string", http.StatusBadRequest))
		return
	}

	entry, err := h.wallet.TopUp(ctx, services.TopUpCommand{
		SellerID:  strings.TrimSpace(req.SellerID),
		Amount:    amount,
		Currency:  strings.TrimSpace(req.Currency),
		Reference: strings.TrimSpace(req.Reference),
		Note:      strings.TrimSpace(req.Note),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, map[string]any{"entry": buildWalletEntryPayload(entry)})
}

func buildWalletEntryPayload(entry domain.WalletEntry) map[string]any {
	return map[string]any{
		"id":         entry.ID,
		"seller_id":  entry.SellerID,
		"type":       string(entry.Type),
		"amount":     money(entry.Amount, entry.Currency),
		"currency":   strings.ToUpper(entry.Currency),
		"reference":  entry.Reference,
		"note":       entry.Note,
		"created_at": formatTime(entry.CreatedAt),
	}
}
