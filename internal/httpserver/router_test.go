package httpserver

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"ripple-trading/internal/auth"
	"ripple-trading/internal/docstore"
	"ripple-trading/internal/ledger"
	"ripple-trading/internal/oracle"
	"ripple-trading/internal/orders"
	"ripple-trading/internal/positions"
)

const internalToken = "internal-test-token"

type testServer struct {
	srv  *httptest.Server
	auth *auth.Service
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	store := docstore.NewMemory()
	log := zap.NewNop()
	ledgerSvc := ledger.NewService(store, log)
	posSvc := positions.NewService(store, ledgerSvc, log, positions.Config{})
	engine := orders.NewEngine(store, ledgerSvc, posSvc, log, "USDT")
	authSvc := auth.NewService("ripple-trading", []byte("test-secret"), time.Hour)
	bus := oracle.NewBus()
	prices := oracle.NewPrices(bus)
	t.Cleanup(prices.Close)

	router := NewRouter(RouterDeps{
		AuthService:     authSvc,
		LedgerHandler:   ledger.NewHandler(ledgerSvc),
		PositionHandler: positions.NewHandler(posSvc, prices),
		OrderHandler:    orders.NewHandler(engine, posSvc, prices),
		OracleHandler:   oracle.NewHandler(bus),
		InternalToken:   internalToken,
	})
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return &testServer{srv: srv, auth: authSvc}
}

func (ts *testServer) do(t *testing.T, method, path, token string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, ts.srv.URL+path, &buf)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := ts.srv.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (ts *testServer) internal(t *testing.T, path string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, json.NewEncoder(&buf).Encode(body))
	req, err := http.NewRequest(http.MethodPost, ts.srv.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("X-Internal-Token", internalToken)
	resp, err := ts.srv.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, out any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
}

func (ts *testServer) signIn(t *testing.T, userID string) string {
	t.Helper()
	resp := ts.internal(t, "/v1/internal/accounts", map[string]string{"user_id": userID})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	token, err := ts.auth.SignToken(userID)
	require.NoError(t, err)
	return token
}

func TestRouterRejectsMissingToken(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)

	resp := ts.do(t, http.MethodGet, "/v1/balances", "", nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = ts.do(t, http.MethodGet, "/v1/balances", "garbage", nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestRouterRejectsBadInternalToken(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)

	req, err := http.NewRequest(http.MethodPost, ts.srv.URL+"/v1/internal/ticks", bytes.NewBufferString(`{}`))
	require.NoError(t, err)
	req.Header.Set("X-Internal-Token", "wrong")
	resp, err := ts.srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHealth(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)
	resp, err := ts.srv.Client().Get(ts.srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestMarketPositionLifecycle(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)
	token := ts.signIn(t, "u1")

	resp := ts.internal(t, "/v1/internal/deposits", map[string]string{
		"user_id": "u1", "asset": "USDT", "amount": "500",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = ts.do(t, http.MethodPost, "/v1/positions", token, map[string]string{
		"symbol": "BTC-USDT",
		"side":   "buy",
		"type":   "market",
		"mode":   "spot",
		"size":   "2",
		"margin": "200",
		"price":  "100",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var opened struct {
		PositionID string `json:"position_id"`
		Status     string `json:"status"`
	}
	decodeBody(t, resp, &opened)
	require.NotEmpty(t, opened.PositionID)
	require.Equal(t, "OPEN", opened.Status)

	resp = ts.do(t, http.MethodPost, "/v1/positions/"+opened.PositionID+"/close", token, map[string]string{
		"price": "150",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var closed struct {
		PnL          string `json:"pnl"`
		ReturnAmount string `json:"return_amount"`
	}
	decodeBody(t, resp, &closed)
	require.Equal(t, "100", closed.PnL)
	require.Equal(t, "300", closed.ReturnAmount)

	resp = ts.do(t, http.MethodGet, "/v1/balances", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var balances map[string]struct {
		Available string `json:"available"`
		Reserved  string `json:"reserved"`
	}
	decodeBody(t, resp, &balances)
	require.Equal(t, "600", balances["USDT"].Available)
}

func TestLimitOrderLifecycle(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)
	token := ts.signIn(t, "u1")

	resp := ts.internal(t, "/v1/internal/deposits", map[string]string{
		"user_id": "u1", "asset": "USDT", "amount": "300",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = ts.do(t, http.MethodPost, "/v1/positions", token, map[string]string{
		"symbol": "BTC-USDT",
		"side":   "buy",
		"type":   "limit",
		"size":   "1",
		"margin": "100",
		"price":  "95",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var placed struct {
		OrderID string `json:"order_id"`
		Status  string `json:"status"`
	}
	decodeBody(t, resp, &placed)
	require.NotEmpty(t, placed.OrderID)
	require.Equal(t, "PENDING", placed.Status)

	resp = ts.do(t, http.MethodPost, "/v1/orders/check", token, map[string]string{
		"symbol": "BTC-USDT", "price": "96",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var check struct {
		Executed int `json:"executed"`
	}
	decodeBody(t, resp, &check)
	require.Equal(t, 0, check.Executed)

	resp = ts.do(t, http.MethodPost, "/v1/orders/check", token, map[string]string{
		"symbol": "BTC-USDT", "price": "94",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decodeBody(t, resp, &check)
	require.Equal(t, 1, check.Executed)

	resp = ts.do(t, http.MethodGet, "/v1/orders", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var pending []json.RawMessage
	decodeBody(t, resp, &pending)
	require.Empty(t, pending)

	resp = ts.do(t, http.MethodGet, "/v1/positions?status=OPEN", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var open []struct {
		OrderID    string `json:"order_id"`
		EntryPrice string `json:"entry_price"`
	}
	decodeBody(t, resp, &open)
	require.Len(t, open, 1)
	require.Equal(t, placed.OrderID, open[0].OrderID)
	require.Equal(t, "94", open[0].EntryPrice)
}

func TestCancelOrderRestoresBalance(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)
	token := ts.signIn(t, "u1")

	resp := ts.internal(t, "/v1/internal/deposits", map[string]string{
		"user_id": "u1", "asset": "USDT", "amount": "100",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = ts.do(t, http.MethodPost, "/v1/positions", token, map[string]string{
		"symbol": "BTC-USDT", "side": "buy", "type": "limit",
		"size": "1", "margin": "100", "price": "95",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var placed struct {
		OrderID string `json:"order_id"`
	}
	decodeBody(t, resp, &placed)

	resp = ts.do(t, http.MethodDelete, "/v1/orders/"+placed.OrderID, token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = ts.do(t, http.MethodGet, "/v1/balances", token, nil)
	var balances map[string]struct {
		Available string `json:"available"`
		Reserved  string `json:"reserved"`
	}
	decodeBody(t, resp, &balances)
	require.Equal(t, "100", balances["USDT"].Available)
	require.Equal(t, "0", balances["USDT"].Reserved)

	resp = ts.do(t, http.MethodDelete, "/v1/orders/"+placed.OrderID, token, nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestBonusEndpoint(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)
	token := ts.signIn(t, "u1")

	resp := ts.do(t, http.MethodGet, "/v1/bonus", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var view struct {
		Exists bool `json:"exists"`
	}
	decodeBody(t, resp, &view)
	require.False(t, view.Exists)

	resp = ts.internal(t, "/v1/internal/bonuses", map[string]any{
		"user_id":  "u1",
		"amount":   "50",
		"currency": "USDT",
		"active":   true,
		"purpose":  ledger.PurposeLiquidationProtection,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = ts.do(t, http.MethodGet, "/v1/bonus", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var full struct {
		Exists bool   `json:"exists"`
		Amount string `json:"amount"`
	}
	decodeBody(t, resp, &full)
	require.True(t, full.Exists)
	require.Equal(t, "50", full.Amount)
}

func TestCloseUsesOraclePriceWhenOmitted(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t)
	token := ts.signIn(t, "u1")

	resp := ts.internal(t, "/v1/internal/deposits", map[string]string{
		"user_id": "u1", "asset": "USDT", "amount": "200",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = ts.do(t, http.MethodPost, "/v1/positions", token, map[string]string{
		"symbol": "BTC-USDT", "side": "buy", "type": "market",
		"mode": "spot", "size": "1", "margin": "100", "price": "100",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var opened struct {
		PositionID string `json:"position_id"`
	}
	decodeBody(t, resp, &opened)

	resp = ts.internal(t, "/v1/internal/ticks", map[string]string{
		"symbol": "BTC-USDT", "price": "130",
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	// The price cache is fed asynchronously off the bus.
	require.Eventually(t, func() bool {
		resp := ts.do(t, http.MethodPost, "/v1/positions/"+opened.PositionID+"/close", token, map[string]string{})
		if resp.StatusCode != http.StatusOK {
			return false
		}
		var closed struct {
			PnL string `json:"pnl"`
		}
		decodeBody(t, resp, &closed)
		return closed.PnL == "30"
	}, 2*time.Second, 20*time.Millisecond)
}
