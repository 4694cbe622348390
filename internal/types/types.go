package types

import "strings"

type Side string

type TradeMode string

type PositionStatus string

type OrderStatus string

type Origin string

const (
	// Historical wire values: long positions are emitted as "buy",
	// short positions as "sell".
	SideLong  Side = "buy"
	SideShort Side = "sell"
)

const (
	ModeSpot    TradeMode = "spot"
	ModeFutures TradeMode = "futures"
)

const (
	PositionOpen   PositionStatus = "OPEN"
	PositionClosed PositionStatus = "CLOSED"
)

const (
	// Pending is the only stored order status; execution and
	// cancellation both delete the order document.
	OrderPending OrderStatus = "PENDING"
)

const (
	OriginMarket Origin = "market"
	OriginLimit  Origin = "limit"
)

// ParseSide accepts both the stored wire values and the long/short
// aliases older callers still send.
func ParseSide(raw string) (Side, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "buy", "long":
		return SideLong, true
	case "sell", "short":
		return SideShort, true
	default:
		return "", false
	}
}

func ParseMode(raw string) (TradeMode, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "spot":
		return ModeSpot, true
	case "futures":
		return ModeFutures, true
	default:
		return "", false
	}
}
