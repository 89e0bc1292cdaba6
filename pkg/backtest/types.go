// Package backtest replays aligned price history through the pair engine bar by bar
package backtest

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/yourusername/quantlink-pairs/pkg/strategy"
	"github.com/yourusername/quantlink-pairs/pkg/strategy/spread"
)

// Trade 一笔成交及其实现盈亏
type Trade struct {
	Instrument string             `json:"instrument"`
	Direction  strategy.Direction `json:"direction"`
	Size       decimal.Decimal    `json:"size"`
	Price      decimal.Decimal    `json:"price"`
	Commission decimal.Decimal    `json:"commission"`
	PnL        decimal.Decimal    `json:"pnl"`
	Closed     bool               `json:"closed"` // 该成交使持仓归零
	Timestamp  time.Time          `json:"timestamp"`
}

// SignalPoint 导出的信号流，Code 为 -2/-1/1/0（hold/sell/buy/clear）
type SignalPoint struct {
	Index     int                    `json:"index"`
	Timestamp time.Time              `json:"timestamp"`
	ZScore    *float64               `json:"zscore,omitempty"`
	Reason    spread.Reason          `json:"reason,omitempty"`
	Signal    strategy.Signal        `json:"signal"`
	Code      int                    `json:"code"`
	State     strategy.PositionState `json:"state"`
	Actions   []string               `json:"actions,omitempty"`
}

// PairReport 单个配对的回放结果
type PairReport struct {
	Pair        spread.Pair             `json:"pair"`
	FinalState  strategy.PositionState  `json:"final_state"`
	SignalCount map[strategy.Signal]int `json:"signal_count"`
	Transitions int                     `json:"transitions"`
	Signals     []SignalPoint           `json:"signals"`
}

// EquityPoint 每根 bar 结束时的权益
type EquityPoint struct {
	Timestamp time.Time       `json:"timestamp"`
	Equity    decimal.Decimal `json:"equity"`
}

// Result 一次回放的完整结果
type Result struct {
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
	Bars      int       `json:"bars"`

	InitialCash     decimal.Decimal            `json:"initial_cash"`
	FinalEquity     decimal.Decimal            `json:"final_equity"`
	RealizedPnL     decimal.Decimal            `json:"realized_pnl"`
	TotalCommission decimal.Decimal            `json:"total_commission"`
	MaxDrawdown     float64                    `json:"max_drawdown"`
	OpenPositions   map[string]decimal.Decimal `json:"open_positions,omitempty"`

	Pairs  []PairReport  `json:"pairs"`
	Trades []Trade       `json:"trades"`
	Equity []EquityPoint `json:"equity,omitempty"`
	Errors []string      `json:"errors,omitempty"`
}

// TotalReturn (FinalEquity - InitialCash) / InitialCash
func (r *Result) TotalReturn() float64 {
	if r.InitialCash.IsZero() {
		return 0
	}
	ret, _ := r.FinalEquity.Sub(r.InitialCash).Div(r.InitialCash).Float64()
	return ret
}
