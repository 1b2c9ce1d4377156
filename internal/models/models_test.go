package models

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() StrategyConfig {
	return StrategyConfig{
		Symbol:           "ETHUSDT",
		MinPrice:         3000,
		MaxPrice:         3700,
		Direction:        DirectionLong,
		GridSpacing:      0.005,
		InvestmentAmount: 10000,
		Leverage:         10,
		AssetType:        AssetCrypto,
		MarketType:       MarketContract,
	}
}

func TestStrategyConfigNormalize(t *testing.T) {
	c := StrategyConfig{
		Symbol:     "  ethusdt ",
		Direction:  "LONG",
		AssetType:  "Crypto",
		MarketType: "CONTRACT",
	}
	c.Normalize()
	assert.Equal(t, "ETHUSDT", c.Symbol)
	assert.Equal(t, DirectionLong, c.Direction)
	assert.Equal(t, AssetCrypto, c.AssetType)
	assert.Equal(t, MarketContract, c.MarketType)
}

func TestDeriveContractType(t *testing.T) {
	cases := []struct {
		asset  AssetType
		market MarketType
		want   int
	}{
		{AssetCrypto, MarketSpot, 0},
		{AssetStock, MarketSpot, 0},
		{AssetStock, MarketContract, 1},
		{AssetCrypto, MarketContract, 3},
	}
	for _, tc := range cases {
		c := StrategyConfig{AssetType: tc.asset, MarketType: tc.market}
		c.Normalize()
		assert.Equal(t, tc.want, c.ContractType, "asset=%s market=%s", tc.asset, tc.market)
	}
}

func TestStrategyConfigValidate(t *testing.T) {
	c := validConfig()
	require.NoError(t, c.Validate())

	cases := []struct {
		name   string
		mutate func(*StrategyConfig)
	}{
		{"symbol为空", func(c *StrategyConfig) { c.Symbol = "" }},
		{"min_price为0", func(c *StrategyConfig) { c.MinPrice = 0 }},
		{"max_price为0", func(c *StrategyConfig) { c.MaxPrice = 0 }},
		{"min不小于max", func(c *StrategyConfig) { c.MinPrice = c.MaxPrice }},
		{"方向非法", func(c *StrategyConfig) { c.Direction = "up" }},
		{"间距为0", func(c *StrategyConfig) { c.GridSpacing = 0 }},
		{"间距为1", func(c *StrategyConfig) { c.GridSpacing = 1 }},
		{"间距为负", func(c *StrategyConfig) { c.GridSpacing = -0.01 }},
		{"投资额为0", func(c *StrategyConfig) { c.InvestmentAmount = 0 }},
		{"杠杆为0", func(c *StrategyConfig) { c.Leverage = 0 }},
		{"杠杆为101", func(c *StrategyConfig) { c.Leverage = 101 }},
		{"标的类型非法", func(c *StrategyConfig) { c.AssetType = "forex" }},
		{"市场类型非法", func(c *StrategyConfig) { c.MarketType = "margin" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := validConfig()
			tc.mutate(&c)
			err := c.Validate()
			require.Error(t, err)
			var cfgErr *ConfigError
			assert.True(t, errors.As(err, &cfgErr))
		})
	}
}

func TestTotalCapital(t *testing.T) {
	c := validConfig()
	assert.Equal(t, 100000.0, c.TotalCapital())

	c.Leverage = 1
	assert.Equal(t, 10000.0, c.TotalCapital())
}

func TestFailedOrderSentinel(t *testing.T) {
	o := FailedOrder("ETHUSDT", SideBuy, 3383, 0.714286, "network timeout")
	assert.Empty(t, o.ID)
	assert.Equal(t, OrderStatusFailed, o.Status)
	assert.Equal(t, "network timeout", o.Msg)
}

func TestErrorPredicates(t *testing.T) {
	wrapped := func(err error) error { return errors.Join(errors.New("outer"), err) }

	assert.True(t, IsFatalInit(wrapped(&FatalInitError{Reason: "below min notional"})))
	assert.False(t, IsFatalInit(errors.New("plain")))

	assert.True(t, IsRateLimit(wrapped(&RateLimitError{Code: 1006})))
	assert.False(t, IsRateLimit(errors.New("plain")))
}

func TestConfigApplyDefaults(t *testing.T) {
	c := &Config{}
	c.ApplyDefaults()
	assert.Equal(t, 1, c.TickIntervalSec)
	assert.Equal(t, 10.0, c.MinOrderNotional)
	assert.Equal(t, 100, c.MinRequestIntervalMs)
	assert.Equal(t, 15, c.HTTPTimeoutSec)
	assert.Equal(t, "data", c.DataDir)

	// 已设置的值不被覆盖
	c2 := &Config{TickIntervalSec: 5, MinOrderNotional: 20}
	c2.ApplyDefaults()
	assert.Equal(t, 5, c2.TickIntervalSec)
	assert.Equal(t, 20.0, c2.MinOrderNotional)
}
