package exchange

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"msx-grid-bot-go/internal/models"
)

func newTestExchange(handler http.Handler) (*MSXExchange, *httptest.Server) {
	srv := httptest.NewServer(handler)
	ex := NewMSXExchange(srv.URL, "", "test-token", time.Millisecond, 5*time.Second)
	ex.gate.sleep = func(time.Duration) {}
	return ex, srv
}

func envelope(code int, msg string, data interface{}) []byte {
	b, _ := json.Marshal(map[string]interface{}{"code": code, "msg": msg, "data": data})
	return b
}

func TestRawOrderSideMapping(t *testing.T) {
	cases := []struct {
		name     string
		longFlag int
		openType int
		side     models.Side
		open     models.OpenType
	}{
		{"开多为买", 1, 1, models.SideBuy, models.OpenTypeOpen},
		{"开空为卖", 2, 1, models.SideSell, models.OpenTypeOpen},
		{"平多为卖", 1, 2, models.SideSell, models.OpenTypeClose},
		{"平空为买", 2, 2, models.SideBuy, models.OpenTypeClose},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := rawOrder{LongFlag: tc.longFlag, OpenType: tc.openType}
			o := r.toOrder()
			assert.Equal(t, tc.side, o.Side)
			assert.Equal(t, tc.open, o.OpenType)
		})
	}
}

func TestRawOrderParsing(t *testing.T) {
	// 交易所以字符串编码数字字段，状态码也是字符串
	blob := []byte(`{
		"id": 987654,
		"symbol": " ETHUSDT ",
		"price": "3383.0",
		"vol": "0.714286",
		"longFlag": 1,
		"openType": 2,
		"status": "2",
		"ctime": 1756100060000,
		"avgPrice": "3383.5",
		"realPnl": "12.08",
		"realFee": "0.12"
	}`)
	var r rawOrder
	require.NoError(t, json.Unmarshal(blob, &r))
	o := r.toOrder()
	assert.Equal(t, "987654", o.ID)
	assert.Equal(t, "ETHUSDT", o.Symbol)
	assert.Equal(t, models.SideSell, o.Side)
	assert.Equal(t, models.OrderStatusFilled, o.Status)
	assert.Equal(t, 3383.0, o.Price)
	assert.Equal(t, 0.714286, o.Volume)
	assert.Equal(t, 3383.5, o.AvgPrice)
	assert.Equal(t, 12.08, o.PNL)
	assert.Equal(t, 0.12, o.Fee)
	assert.Equal(t, int64(1756100060000), o.Timestamp)
}

func TestFloatStringEmptyAndNull(t *testing.T) {
	var f floatString
	require.NoError(t, f.UnmarshalJSON([]byte(`""`)))
	assert.Equal(t, 0.0, float64(f))
	require.NoError(t, f.UnmarshalJSON([]byte(`null`)))
	assert.Equal(t, 0.0, float64(f))
	require.NoError(t, f.UnmarshalJSON([]byte(`"3350.5"`)))
	assert.Equal(t, 3350.5, float64(f))
}

func TestRequestMapsAPIError(t *testing.T) {
	ex, srv := newTestExchange(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(envelope(6005, "market closed", nil))
	}))
	defer srv.Close()

	_, err := ex.FetchOpenOrders("ETHUSDT")
	require.Error(t, err)
	var apiErr *models.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 6005, apiErr.Code)
}

func TestRateLimitRetriesOnceAndPenalizes(t *testing.T) {
	calls := 0
	ex, srv := newTestExchange(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.Write(envelope(1006, "too many requests", nil))
			return
		}
		w.Write(envelope(0, "", []interface{}{}))
	}))
	defer srv.Close()

	before := ex.gate.MinInterval()
	_, err := ex.FetchOpenOrders("ETHUSDT")
	require.NoError(t, err)
	assert.Equal(t, 2, calls, "限流后应立即重试一次")
	assert.Equal(t, before*2, ex.gate.MinInterval())
}

func TestRateLimitExhaustedReturnsError(t *testing.T) {
	ex, srv := newTestExchange(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(envelope(1006, "too many requests", nil))
	}))
	defer srv.Close()

	_, err := ex.FetchOpenOrders("ETHUSDT")
	require.Error(t, err)
	assert.True(t, models.IsRateLimit(err))
}

func TestHTTP429TreatedAsRateLimit(t *testing.T) {
	calls := 0
	ex, srv := newTestExchange(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write(envelope(0, "", []interface{}{}))
	}))
	defer srv.Close()

	_, err := ex.FetchOpenOrders("ETHUSDT")
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestFetchOpenOrdersFiltersSymbol(t *testing.T) {
	data := []map[string]interface{}{
		{"id": 1, "symbol": "ETHUSDT", "price": "3383", "vol": "0.7", "longFlag": 1, "openType": 1},
		{"id": 2, "symbol": "BTCUSDT", "price": "60000", "vol": "0.1", "longFlag": 1, "openType": 1},
	}
	ex, srv := newTestExchange(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/co/stock/order/limit", r.URL.Path)
		w.Write(envelope(0, "", data))
	}))
	defer srv.Close()

	orders, err := ex.FetchOpenOrders("ETHUSDT")
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, "1", orders[0].ID)
}

func TestFetchClosedOrdersUnwrapsList(t *testing.T) {
	// 历史订单接口的数据在 data.list 内，挂单接口则是裸数组
	data := map[string]interface{}{
		"list": []map[string]interface{}{
			{"id": 3, "symbol": "ETHUSDT", "price": "3383", "vol": "0.7", "longFlag": 1, "openType": 1, "status": "2", "ctime": 100},
		},
	}
	ex, srv := newTestExchange(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/co/stock/order/hisPage", r.URL.Path)
		w.Write(envelope(0, "", data))
	}))
	defer srv.Close()

	orders, err := ex.FetchClosedOrders("ETHUSDT")
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, models.OrderStatusFilled, orders[0].Status)
}

func TestFetchPositionsAndAccount(t *testing.T) {
	data := map[string]interface{}{
		"balance":        "5000.5",
		"AcctBalance":    "10000",
		"assetValuation": "10200",
		"pnlTotal":       "200",
		"posList": []map[string]interface{}{
			{"id": 42, "symbol": "ETHUSDT", "longFlag": 1, "posMargin": "1000", "nowVolTotal": "14.9254",
				"nowAmtTotal": "50000", "pnl": "-7.5", "liqPrice": "2700", "avgPrice": "3350", "ctime": 100},
			{"id": 43, "symbol": "BTCUSDT", "longFlag": 2, "nowVolTotal": "0.1"},
		},
	}
	ex, srv := newTestExchange(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/co/pos/list", r.URL.Path)
		w.Write(envelope(0, "", data))
	}))
	defer srv.Close()

	positions, err := ex.FetchPositions("ETHUSDT")
	require.NoError(t, err)
	require.Len(t, positions, 1)
	pos := positions[0]
	assert.Equal(t, int64(42), pos.ID)
	assert.Equal(t, "long", pos.Side)
	assert.Equal(t, 14.9254, pos.Size)
	assert.Equal(t, 1000.0, pos.Margin)
	assert.Equal(t, -7.5, pos.UnrealizedPNL)

	all, err := ex.FetchPositions("")
	require.NoError(t, err)
	assert.Len(t, all, 2)
	assert.Equal(t, "short", all[1].Side)

	acct, err := ex.FetchAccount()
	require.NoError(t, err)
	assert.Equal(t, 5000.5, acct.Balance)
	assert.Equal(t, 10000.0, acct.AcctBalance)
	assert.Equal(t, 200.0, acct.TotalPNL)
}

func TestCreateOrderPayload(t *testing.T) {
	var payload map[string]interface{}
	ex, srv := newTestExchange(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &payload))
		w.Write(envelope(0, "", map[string]interface{}{"id": 555}))
	}))
	defer srv.Close()

	order, err := ex.CreateOrder(&OrderRequest{
		Symbol:       "ETHUSDT",
		Side:         models.SideSell,
		OrderType:    "limit",
		Price:        3417,
		Volume:       0.714286,
		OpenType:     models.OpenTypeClose,
		ContractType: 3,
		Leverage:     10,
		PositionID:   42,
	})
	require.NoError(t, err)
	assert.Equal(t, "555", order.ID)
	assert.Equal(t, models.OrderStatusPending, order.Status)

	// 卖出平多：方向指向被平的多头持仓
	assert.Equal(t, float64(1), payload["side"])
	assert.Equal(t, float64(2), payload["openType"])
	assert.Equal(t, float64(1), payload["orderType"])
	assert.Equal(t, "0.714286", payload["vol"])
	assert.Equal(t, "3417", payload["price"])
	assert.Equal(t, "10", payload["leverage"])
	assert.Equal(t, float64(42), payload["posId"])
}

func TestCreateOrderBackfillsMissingID(t *testing.T) {
	ex, srv := newTestExchange(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/co/stock/order/trade":
			// 下单成功但不回传订单ID
			w.Write(envelope(0, "", nil))
		case "/api/v1/co/stock/order/limit":
			w.Write(envelope(0, "", []map[string]interface{}{
				{"id": 777, "symbol": "ETHUSDT", "price": "3383", "vol": "0.7", "longFlag": 1, "openType": 1, "ctime": 100},
			}))
		}
	}))
	defer srv.Close()

	order, err := ex.CreateOrder(&OrderRequest{
		Symbol:    "ETHUSDT",
		Side:      models.SideBuy,
		OrderType: "limit",
		Price:     3383,
		Volume:    0.7,
		OpenType:  models.OpenTypeOpen,
		Leverage:  10,
	})
	require.NoError(t, err)
	assert.Equal(t, "777", order.ID)
}
