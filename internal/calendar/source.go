package calendar

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

// 交易所的休市错误码
const codeMarketClosed = 6005

// HTTPSource 通过交易所的 isTrade 接口查询交易时段
type HTTPSource struct {
	client *resty.Client
	url    string
}

// NewHTTPSource 创建一个基于HTTP的交易时段查询来源
func NewHTTPSource(url string, timeout time.Duration) *HTTPSource {
	return &HTTPSource{
		client: resty.New().SetTimeout(timeout),
		url:    url,
	}
}

// FetchStatus 查询当前交易状态。
// 响应格式：正常时 {"code":0,"data":{"isTrade":bool,"startTradeTime":秒}}，
// 休市中返回 {"code":6005}。
func (s *HTTPSource) FetchStatus() (*Status, error) {
	resp, err := s.client.R().Get(s.url)
	if err != nil {
		return nil, err
	}
	var env struct {
		Code int `json:"code"`
		Data struct {
			IsTrade        bool  `json:"isTrade"`
			StartTradeTime int64 `json:"startTradeTime"`
		} `json:"data"`
	}
	if err := json.Unmarshal(resp.Body(), &env); err != nil {
		return nil, fmt.Errorf("解析交易时段响应失败: %w", err)
	}
	if env.Code == codeMarketClosed {
		return &Status{Open: false}, nil
	}
	if env.Code != 0 {
		return nil, fmt.Errorf("交易时段接口返回错误, code=%d", env.Code)
	}
	st := &Status{Open: env.Data.IsTrade}
	if env.Data.StartTradeTime > 0 {
		st.NextChange = time.Unix(env.Data.StartTradeTime, 0)
	}
	return st, nil
}
