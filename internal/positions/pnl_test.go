package positions

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"ripple-trading/internal/types"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestComputePnL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		side       types.Side
		mode       types.TradeMode
		size       string
		leverage   string
		entry      string
		close      string
		want       string
	}{
		{
			name: "spot long profit",
			side: types.SideLong, mode: types.ModeSpot,
			size: "2", leverage: "1", entry: "100", close: "150",
			want: "100",
		},
		{
			name: "spot long loss",
			side: types.SideLong, mode: types.ModeSpot,
			size: "2", leverage: "1", entry: "100", close: "80",
			want: "-40",
		},
		{
			name: "spot short profit on drop",
			side: types.SideShort, mode: types.ModeSpot,
			size: "3", leverage: "1", entry: "50", close: "40",
			want: "30",
		},
		{
			name: "spot ignores leverage",
			side: types.SideLong, mode: types.ModeSpot,
			size: "1", leverage: "10", entry: "100", close: "110",
			want: "10",
		},
		{
			name: "futures short loss with leverage",
			side: types.SideShort, mode: types.ModeFutures,
			size: "1", leverage: "5", entry: "100", close: "110",
			want: "-50",
		},
		{
			name: "futures long profit with leverage",
			side: types.SideLong, mode: types.ModeFutures,
			size: "0.5", leverage: "10", entry: "200", close: "210",
			want: "50",
		},
		{
			name: "futures leverage below one is clamped",
			side: types.SideLong, mode: types.ModeFutures,
			size: "1", leverage: "0", entry: "100", close: "120",
			want: "20",
		},
		{
			name: "fractional result rounds to cents",
			side: types.SideLong, mode: types.ModeFutures,
			size: "0.333", leverage: "3", entry: "100", close: "101",
			want: "1",
		},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			pos := Position{
				ID:         "p1",
				Side:       tc.side,
				Mode:       tc.mode,
				Size:       d(tc.size),
				Leverage:   d(tc.leverage),
				EntryPrice: d(tc.entry),
			}
			got := ComputePnL(pos, d(tc.close), zap.NewNop())
			require.True(t, got.Equal(d(tc.want)), "got %s, want %s", got, tc.want)
		})
	}
}

func TestComputePnLInvalidInputs(t *testing.T) {
	t.Parallel()

	base := Position{
		ID:         "p1",
		Side:       types.SideLong,
		Mode:       types.ModeFutures,
		Size:       d("1"),
		Leverage:   d("5"),
		EntryPrice: d("100"),
	}

	t.Run("zero close price", func(t *testing.T) {
		t.Parallel()
		require.True(t, ComputePnL(base, decimal.Zero, zap.NewNop()).IsZero())
	})
	t.Run("negative close price", func(t *testing.T) {
		t.Parallel()
		require.True(t, ComputePnL(base, d("-10"), zap.NewNop()).IsZero())
	})
	t.Run("zero entry price", func(t *testing.T) {
		t.Parallel()
		pos := base
		pos.EntryPrice = decimal.Zero
		require.True(t, ComputePnL(pos, d("110"), zap.NewNop()).IsZero())
	})
	t.Run("zero size", func(t *testing.T) {
		t.Parallel()
		pos := base
		pos.Size = decimal.Zero
		require.True(t, ComputePnL(pos, d("110"), zap.NewNop()).IsZero())
	})
	t.Run("nil logger does not panic", func(t *testing.T) {
		t.Parallel()
		require.True(t, ComputePnL(Position{}, decimal.Zero, nil).IsZero())
	})
}
