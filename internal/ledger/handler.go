package ledger

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"ripple-trading/internal/docstore"
	"ripple-trading/internal/httputil"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

type balanceView struct {
	Available decimal.Decimal `json:"available"`
	Reserved  decimal.Decimal `json:"reserved"`
}

func (h *Handler) Balances(w http.ResponseWriter, r *http.Request, userID string) {
	l, err := h.svc.Balances(r.Context(), userID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	out := make(map[string]balanceView, len(l.Available))
	for asset, amount := range l.Available {
		v := out[asset]
		v.Available = amount
		out[asset] = v
	}
	for asset, amount := range l.Reserved {
		v := out[asset]
		v.Reserved = amount
		out[asset] = v
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}

type bonusAccountView struct {
	Exists    bool             `json:"exists"`
	Amount    *decimal.Decimal `json:"amount,omitempty"`
	Currency  string           `json:"currency,omitempty"`
	Active    bool             `json:"active"`
	Purpose   string           `json:"purpose,omitempty"`
	ExpiresAt string           `json:"expires_at,omitempty"`
	History   []BonusUsage     `json:"history,omitempty"`
}

func (h *Handler) Bonus(w http.ResponseWriter, r *http.Request, userID string) {
	b, ok, err := h.svc.BonusAccountFor(r.Context(), userID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if !ok {
		httputil.WriteJSON(w, http.StatusOK, bonusAccountView{Exists: false})
		return
	}
	view := bonusAccountView{
		Exists:   true,
		Amount:   &b.Amount,
		Currency: b.Currency,
		Active:   b.Active,
		Purpose:  b.Purpose,
		History:  b.History,
	}
	if b.ExpiresAt != nil {
		view.ExpiresAt = b.ExpiresAt.UTC().Format(time.RFC3339)
	}
	httputil.WriteJSON(w, http.StatusOK, view)
}

type accountRequest struct {
	UserID string `json:"user_id"`
}

// EnsureAccount initializes the ledger document for a user. Called by
// the identity system at account creation.
func (h *Handler) EnsureAccount(w http.ResponseWriter, r *http.Request) {
	var req accountRequest
	if err := httputil.ReadJSON(r, &req); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	if strings.TrimSpace(req.UserID) == "" {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: "user_id is required"})
		return
	}
	if err := h.svc.EnsureInitialized(r.Context(), req.UserID); err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]bool{"initialized": true})
}

type depositRequest struct {
	UserID string `json:"user_id"`
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
}

// Deposit credits available balance on behalf of the external deposit
// pipeline.
func (h *Handler) Deposit(w http.ResponseWriter, r *http.Request) {
	var req depositRequest
	if err := httputil.ReadJSON(r, &req); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	amount, err := decimal.NewFromString(strings.TrimSpace(req.Amount))
	if err != nil || !amount.GreaterThan(decimal.Zero) {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: "amount must be positive"})
		return
	}
	asset := strings.ToUpper(strings.TrimSpace(req.Asset))
	if req.UserID == "" || asset == "" {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: "user_id and asset are required"})
		return
	}
	err = h.svc.store.RunTransaction(r.Context(), func(ctx context.Context, tx docstore.Tx) error {
		return h.svc.Credit(ctx, tx, req.UserID, asset, amount)
	})
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]bool{"credited": true})
}

type bonusRequest struct {
	UserID    string `json:"user_id"`
	Amount    string `json:"amount"`
	Currency  string `json:"currency"`
	Active    bool   `json:"active"`
	Purpose   string `json:"purpose"`
	ExpiresAt string `json:"expires_at"`
}

// PutBonus writes a bonus account on behalf of the external promotions
// process.
func (h *Handler) PutBonus(w http.ResponseWriter, r *http.Request) {
	var req bonusRequest
	if err := httputil.ReadJSON(r, &req); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	amount, err := decimal.NewFromString(strings.TrimSpace(req.Amount))
	if err != nil || amount.IsNegative() {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: "amount must be non-negative"})
		return
	}
	if req.UserID == "" {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: "user_id is required"})
		return
	}
	b := BonusAccount{
		UserID:   req.UserID,
		Amount:   amount,
		Currency: strings.ToUpper(strings.TrimSpace(req.Currency)),
		Active:   req.Active,
		Purpose:  req.Purpose,
	}
	if req.ExpiresAt != "" {
		t, err := time.Parse(time.RFC3339, req.ExpiresAt)
		if err != nil {
			httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: "invalid expires_at"})
			return
		}
		b.ExpiresAt = &t
	}
	if err := h.svc.PutBonusAccount(r.Context(), b); err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]bool{"saved": true})
}
