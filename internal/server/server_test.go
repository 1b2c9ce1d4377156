package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"msx-grid-bot-go/internal/calendar"
	"msx-grid-bot-go/internal/engine"
	"msx-grid-bot-go/internal/exchange"
	"msx-grid-bot-go/internal/models"
	"msx-grid-bot-go/internal/persistence"
)

type openSource struct{}

func (openSource) FetchStatus() (*calendar.Status, error) {
	return &calendar.Status{Open: true, NextChange: time.Now().Add(time.Hour)}, nil
}

func newTestServer(t *testing.T) (*Server, *exchange.SimExchange) {
	t.Helper()
	sim := exchange.NewSimExchange()
	sim.SetPrice("ETHUSDT", 3350)
	cfg := &models.Config{TickIntervalSec: 1, MinOrderNotional: 10, DataDir: t.TempDir()}
	files, err := persistence.NewLayer(cfg.DataDir)
	require.NoError(t, err)
	eng := engine.New(cfg, sim, calendar.New(openSource{}), files, nil)
	return NewServer(eng, ":0"), sim
}

func doJSON(t *testing.T, s *Server, method, path string, body interface{}) map[string]interface{} {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func startBody() map[string]interface{} {
	return map[string]interface{}{
		"symbol":            "ETHUSDT",
		"min_price":         3000,
		"max_price":         3700,
		"direction":         "long",
		"grid_spacing":      0.005,
		"investment_amount": 10000,
		"leverage":          10,
		"asset_type":        "crypto",
		"market_type":       "contract",
	}
}

func TestHandleStart(t *testing.T) {
	s, _ := newTestServer(t)

	resp := doJSON(t, s, "POST", "/api/start", startBody())
	assert.Equal(t, "success", resp["status"])

	params, ok := resp["params"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "ETHUSDT", params["symbol"])
	assert.Equal(t, 100000.0, params["total_capital"])
}

func TestHandleStartInvalidConfig(t *testing.T) {
	s, _ := newTestServer(t)

	body := startBody()
	body["grid_spacing"] = 0
	resp := doJSON(t, s, "POST", "/api/start", body)
	assert.Equal(t, "failed", resp["status"])
	assert.Contains(t, resp["message"], "grid_spacing")
}

func TestHandleStartDuplicate(t *testing.T) {
	s, _ := newTestServer(t)

	doJSON(t, s, "POST", "/api/start", startBody())
	resp := doJSON(t, s, "POST", "/api/start", startBody())
	assert.Equal(t, "failed", resp["status"])
}

func TestHandleStopAndDelete(t *testing.T) {
	s, _ := newTestServer(t)
	doJSON(t, s, "POST", "/api/start", startBody())

	// 未停止前不允许删除
	resp := doJSON(t, s, "POST", "/api/delete", map[string]interface{}{"symbol": "ETHUSDT"})
	assert.Equal(t, "failed", resp["status"])

	resp = doJSON(t, s, "POST", "/api/stop", map[string]interface{}{"symbol": "ETHUSDT"})
	assert.Equal(t, "success", resp["status"])

	resp = doJSON(t, s, "POST", "/api/delete", map[string]interface{}{"symbol": "ETHUSDT"})
	assert.Equal(t, "success", resp["status"])

	resp = doJSON(t, s, "POST", "/api/stop", map[string]interface{}{"symbol": "ETHUSDT"})
	assert.Equal(t, "failed", resp["status"])
}

func TestHandleStopWithoutSymbolStopsAll(t *testing.T) {
	s, sim := newTestServer(t)
	sim.SetPrice("BTCUSDT", 60000)
	doJSON(t, s, "POST", "/api/start", startBody())
	btc := startBody()
	btc["symbol"] = "BTCUSDT"
	btc["min_price"] = 50000
	btc["max_price"] = 70000
	doJSON(t, s, "POST", "/api/start", btc)

	// 不带symbol的stop停止全部策略
	resp := doJSON(t, s, "POST", "/api/stop", map[string]interface{}{})
	assert.Equal(t, "success", resp["status"])

	resp = doJSON(t, s, "GET", "/api/status", nil)
	all, ok := resp["data"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, 2.0, all["stopped"])
	assert.Equal(t, 0.0, all["running"])
}

func TestHandleStatus(t *testing.T) {
	s, _ := newTestServer(t)
	doJSON(t, s, "POST", "/api/start", startBody())

	resp := doJSON(t, s, "GET", "/api/status?symbol=ETHUSDT", nil)
	assert.Equal(t, "success", resp["status"])
	data, ok := resp["data"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "ETHUSDT", data["symbol"])

	resp = doJSON(t, s, "GET", "/api/status", nil)
	assert.Equal(t, "success", resp["status"])
	all, ok := resp["data"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, 1.0, all["total"])

	resp = doJSON(t, s, "GET", "/api/status?symbol=BTCUSDT", nil)
	assert.Equal(t, "failed", resp["status"])
}

func TestHandleFreeBalance(t *testing.T) {
	s, sim := newTestServer(t)
	sim.SetBalance(12345.5)

	resp := doJSON(t, s, "GET", "/api/free_balance", nil)
	assert.Equal(t, "success", resp["status"])
	data, ok := resp["data"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, 12345.5, data["balance"])
}
