package oracle

import (
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"ripple-trading/internal/httputil"
)

// Handler accepts pushed ticks on the internal surface, for
// deployments where the oracle posts instead of streaming.
type Handler struct {
	bus *Bus
}

func NewHandler(bus *Bus) *Handler {
	return &Handler{bus: bus}
}

type tickRequest struct {
	Symbol string          `json:"symbol"`
	Price  decimal.Decimal `json:"price"`
}

func (h *Handler) PushTick(w http.ResponseWriter, r *http.Request) {
	var req tickRequest
	if err := httputil.ReadJSON(r, &req); err != nil {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: err.Error()})
		return
	}
	symbol := strings.ToUpper(strings.TrimSpace(req.Symbol))
	if symbol == "" || !req.Price.GreaterThan(decimal.Zero) {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{Error: "symbol and positive price required"})
		return
	}
	h.bus.Publish(Tick{Symbol: symbol, Price: req.Price, At: time.Now().UTC()})
	httputil.WriteJSON(w, http.StatusAccepted, map[string]bool{"accepted": true})
}
