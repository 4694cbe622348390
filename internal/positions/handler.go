package positions

import (
	"net/http"
	"strings"

	"github.com/shopspring/decimal"

	"ripple-trading/internal/httputil"
	"ripple-trading/internal/types"
)

// PriceSource is the oracle's last-price cache.
type PriceSource interface {
	Last(symbol string) (decimal.Decimal, bool)
}

type Handler struct {
	svc    *Service
	prices PriceSource
}

func NewHandler(svc *Service, prices PriceSource) *Handler {
	return &Handler{svc: svc, prices: prices}
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request, userID string) {
	var status types.PositionStatus
	switch strings.ToUpper(r.URL.Query().Get("status")) {
	case "":
	case string(types.PositionOpen):
		status = types.PositionOpen
	case string(types.PositionClosed):
		status = types.PositionClosed
	default:
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: "invalid status"})
		return
	}
	out, err := h.svc.List(r.Context(), userID, status)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request, userID, positionID string) {
	pos, err := h.svc.Get(r.Context(), userID, positionID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, pos)
}

type closeRequest struct {
	Price string `json:"price"`
}

type closeResponse struct {
	PnL                  decimal.Decimal `json:"pnl"`
	ReturnAmount         decimal.Decimal `json:"return_amount"`
	BonusUsed            decimal.Decimal `json:"bonus_used"`
	LiquidationProtected bool            `json:"liquidation_protected"`
}

// Close settles a position at the given price, falling back to the
// oracle's last tick when the request omits one. API closes are always
// user-initiated.
func (h *Handler) Close(w http.ResponseWriter, r *http.Request, userID, positionID string) {
	var req closeRequest
	if err := httputil.ReadJSON(r, &req); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	var price decimal.Decimal
	if req.Price != "" {
		p, err := decimal.NewFromString(strings.TrimSpace(req.Price))
		if err != nil {
			httputil.WriteError(w, types.ErrInvalidPrice)
			return
		}
		price = p
	} else {
		pos, err := h.svc.Get(r.Context(), userID, positionID)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		p, ok := h.prices.Last(pos.Symbol)
		if !ok {
			httputil.WriteError(w, types.ErrInvalidPrice)
			return
		}
		price = p
	}
	res, err := h.svc.Close(r.Context(), userID, positionID, price, CloseOptions{Manual: true})
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, closeResponse{
		PnL:                  res.PnL,
		ReturnAmount:         res.ReturnAmount,
		BonusUsed:            res.BonusUsed,
		LiquidationProtected: res.LiquidationProtected,
	})
}
