package config

import (
	"sync/atomic"
	"time"
)

// Live is the process-wide arbitrage config holder. The config is replaced
// as a whole on every update, so concurrent readers never observe a
// partially merged value.
type Live struct {
	p atomic.Pointer[ArbitrageConfig]
}

// NewLive creates a Live holder seeded with cfg.
func NewLive(cfg ArbitrageConfig) *Live {
	l := &Live{}
	c := cfg
	l.p.Store(&c)
	return l
}

// Get returns the current config by value.
func (l *Live) Get() ArbitrageConfig {
	return *l.p.Load()
}

// Set replaces the whole config.
func (l *Live) Set(cfg ArbitrageConfig) {
	c := cfg
	l.p.Store(&c)
}

// Apply merges a patch into the current config and swaps the result in.
// Unset patch fields keep their current values.
func (l *Live) Apply(p Patch) ArbitrageConfig {
	cur := l.Get()
	next := p.mergeInto(cur)
	l.Set(next)
	return next
}

// Patch is a partial arbitrage config update. Nil fields are left
// untouched by Apply.
type Patch struct {
	MinProfitPct        *float64
	HighProfitPct       *float64
	AutoExecute         *bool
	MaxConcurrentTrades *int
	BalanceReservePct   *float64
	MaxTradeNotionalUSD *float64
	RiskLevel           *string
	MaxExecutionTime    *time.Duration
	MaxLegGap           *time.Duration
	StalenessWindow     *time.Duration
	RetentionWindow     *time.Duration
	MaxSlippageBps      *float64
	Compensation        *string
}

func (p Patch) mergeInto(cfg ArbitrageConfig) ArbitrageConfig {
	if p.MinProfitPct != nil {
		cfg.MinProfitPct = *p.MinProfitPct
	}
	if p.HighProfitPct != nil {
		cfg.HighProfitPct = *p.HighProfitPct
	}
	if p.AutoExecute != nil {
		cfg.AutoExecute = *p.AutoExecute
	}
	if p.MaxConcurrentTrades != nil {
		cfg.MaxConcurrentTrades = *p.MaxConcurrentTrades
	}
	if p.BalanceReservePct != nil {
		cfg.BalanceReservePct = *p.BalanceReservePct
	}
	if p.MaxTradeNotionalUSD != nil {
		cfg.MaxTradeNotionalUSD = *p.MaxTradeNotionalUSD
	}
	if p.RiskLevel != nil {
		cfg.RiskLevel = *p.RiskLevel
	}
	if p.MaxExecutionTime != nil {
		cfg.MaxExecutionTime = duration{*p.MaxExecutionTime}
	}
	if p.MaxLegGap != nil {
		cfg.MaxLegGap = duration{*p.MaxLegGap}
	}
	if p.StalenessWindow != nil {
		cfg.StalenessWindow = duration{*p.StalenessWindow}
	}
	if p.RetentionWindow != nil {
		cfg.RetentionWindow = duration{*p.RetentionWindow}
	}
	if p.MaxSlippageBps != nil {
		cfg.MaxSlippageBps = *p.MaxSlippageBps
	}
	if p.Compensation != nil {
		cfg.Compensation = *p.Compensation
	}
	return cfg
}
