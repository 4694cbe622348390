package orders

import (
	"net/http"
	"strings"

	"github.com/shopspring/decimal"

	"ripple-trading/internal/httputil"
	"ripple-trading/internal/positions"
	"ripple-trading/internal/types"
)

// PriceSource is the oracle's last-price cache.
type PriceSource interface {
	Last(symbol string) (decimal.Decimal, bool)
}

type Handler struct {
	engine    *Engine
	positions *positions.Service
	prices    PriceSource
}

func NewHandler(engine *Engine, posSvc *positions.Service, prices PriceSource) *Handler {
	return &Handler{engine: engine, positions: posSvc, prices: prices}
}

type placeRequest struct {
	Symbol   string `json:"symbol"`
	Side     string `json:"side"`
	Type     string `json:"type"`
	Mode     string `json:"mode"`
	Size     string `json:"size"`
	Leverage string `json:"leverage"`
	Margin   string `json:"margin"`
	Price    string `json:"price"`
}

// Place opens a position. Market requests open immediately at the
// given (or last oracle) price; limit requests become pending orders.
func (h *Handler) Place(w http.ResponseWriter, r *http.Request, userID string) {
	var req placeRequest
	if err := httputil.ReadJSON(r, &req); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	side, ok := types.ParseSide(req.Side)
	if !ok {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: "invalid side"})
		return
	}
	mode, ok := types.ParseMode(req.Mode)
	if !ok {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: "invalid mode"})
		return
	}
	size, err := parseAmount(req.Size)
	if err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: "invalid size"})
		return
	}
	margin, err := parseAmount(req.Margin)
	if err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: "invalid margin"})
		return
	}
	leverage := decimal.NewFromInt(1)
	if req.Leverage != "" {
		if leverage, err = parseAmount(req.Leverage); err != nil {
			httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: "invalid leverage"})
			return
		}
	}

	orderType := strings.ToLower(strings.TrimSpace(req.Type))
	switch orderType {
	case "limit":
		price, err := parseAmount(req.Price)
		if err != nil {
			httputil.WriteError(w, types.ErrInvalidPrice)
			return
		}
		order, err := h.engine.Create(r.Context(), userID, CreateRequest{
			Symbol:      req.Symbol,
			Side:        side,
			Size:        size,
			Leverage:    leverage,
			Margin:      margin,
			Mode:        mode,
			TargetPrice: price,
		})
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		httputil.WriteJSON(w, http.StatusCreated, map[string]string{"order_id": order.ID, "status": string(order.Status)})
	case "", "market":
		price, err := h.resolvePrice(req.Price, req.Symbol)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		pos, err := h.positions.Open(r.Context(), userID, positions.OpenRequest{
			Symbol:     req.Symbol,
			Side:       side,
			Size:       size,
			Leverage:   leverage,
			Margin:     margin,
			Mode:       mode,
			EntryPrice: price,
		})
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		httputil.WriteJSON(w, http.StatusCreated, map[string]string{"position_id": pos.ID, "status": string(pos.Status)})
	default:
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: "invalid type"})
	}
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request, userID string) {
	symbol := r.URL.Query().Get("symbol")
	pending, err := h.engine.ListPending(r.Context(), userID, symbol)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, pending)
}

func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request, userID, orderID string) {
	if err := h.engine.Cancel(r.Context(), userID, orderID); err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]bool{"success": true})
}

type checkRequest struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
}

// Check runs the user's pending orders for a symbol against a price,
// executing any that trigger.
func (h *Handler) Check(w http.ResponseWriter, r *http.Request, userID string) {
	var req checkRequest
	if err := httputil.ReadJSON(r, &req); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	price, err := h.resolvePrice(req.Price, req.Symbol)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	executed, err := h.engine.CheckAndExecute(r.Context(), userID, req.Symbol, price)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]int{"executed": executed})
}

func (h *Handler) resolvePrice(raw, symbol string) (decimal.Decimal, error) {
	if raw != "" {
		price, err := parseAmount(raw)
		if err != nil {
			return decimal.Decimal{}, types.ErrInvalidPrice
		}
		return price, nil
	}
	if h.prices != nil {
		if price, ok := h.prices.Last(symbol); ok {
			return price, nil
		}
	}
	return decimal.Decimal{}, types.ErrInvalidPrice
}

func parseAmount(raw string) (decimal.Decimal, error) {
	v, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Decimal{}, err
	}
	return v, nil
}
