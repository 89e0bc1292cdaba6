package backtest

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/yourusername/quantlink-pairs/pkg/executor"
	"github.com/yourusername/quantlink-pairs/pkg/strategy"
)

type holding struct {
	qty      decimal.Decimal // 带符号
	avgPrice decimal.Decimal
}

// Statistics 按成交维护现金、持仓均价与实现盈亏
type Statistics struct {
	broker      executor.BrokerOptions
	cash        decimal.Decimal
	holdings    map[string]*holding
	lastPrices  map[string]decimal.Decimal
	realized    decimal.Decimal
	commission  decimal.Decimal
	trades      []Trade
	equity      []EquityPoint
	peakEquity  decimal.Decimal
	maxDrawdown float64
}

// NewStatistics 以券商初始资金开始记账
func NewStatistics(broker executor.BrokerOptions) *Statistics {
	return &Statistics{
		broker:     broker,
		cash:       broker.StartingCash,
		holdings:   make(map[string]*holding),
		lastPrices: make(map[string]decimal.Decimal),
		peakEquity: broker.StartingCash,
	}
}

// OnFill 记录一笔成交，返回对应的交易记录
// 成交减少持仓时按均价结算实现盈亏，持仓归零时 Closed 为 true
func (s *Statistics) OnFill(fill strategy.Fill) Trade {
	commission := fill.Price.Mul(fill.Size).Mul(s.broker.CommissionPercent)
	signed := fill.Size.Mul(decimal.NewFromInt(fill.Direction.Sign()))

	h, ok := s.holdings[fill.Instrument]
	if !ok {
		h = &holding{}
		s.holdings[fill.Instrument] = h
	}

	pnl := decimal.Zero
	switch {
	case h.qty.IsZero() || h.qty.Sign() == signed.Sign():
		// 开仓或加仓，更新均价
		total := h.qty.Add(signed)
		h.avgPrice = h.avgPrice.Mul(h.qty.Abs()).Add(fill.Price.Mul(fill.Size)).Div(total.Abs())
		h.qty = total
	default:
		closing := decimal.Min(fill.Size, h.qty.Abs())
		pnl = fill.Price.Sub(h.avgPrice).Mul(closing).Mul(decimal.NewFromInt(int64(h.qty.Sign())))
		remaining := h.qty.Add(signed)
		if remaining.Sign() != 0 && remaining.Sign() != h.qty.Sign() {
			// 反手，剩余部分按成交价开仓
			h.avgPrice = fill.Price
		}
		h.qty = remaining
	}
	if h.qty.IsZero() {
		h.avgPrice = decimal.Zero
	}

	s.cash = s.cash.Sub(signed.Mul(fill.Price)).Sub(commission)
	s.realized = s.realized.Add(pnl)
	s.commission = s.commission.Add(commission)

	trade := Trade{
		Instrument: fill.Instrument,
		Direction:  fill.Direction,
		Size:       fill.Size,
		Price:      fill.Price,
		Commission: commission,
		PnL:        pnl,
		Closed:     h.qty.IsZero(),
		Timestamp:  fill.Timestamp,
	}
	s.trades = append(s.trades, trade)
	return trade
}

// UpdatePrice 更新最新价，用于估值
func (s *Statistics) UpdatePrice(instrument string, price float64) {
	s.lastPrices[instrument] = decimal.NewFromFloat(price)
}

// Equity 现金加持仓市值
func (s *Statistics) Equity() decimal.Decimal {
	equity := s.cash
	for inst, h := range s.holdings {
		if h.qty.IsZero() {
			continue
		}
		px, ok := s.lastPrices[inst]
		if !ok {
			px = h.avgPrice
		}
		equity = equity.Add(h.qty.Mul(px))
	}
	return equity
}

// MarkToMarket 记录权益曲线并更新最大回撤
func (s *Statistics) MarkToMarket(ts time.Time) {
	equity := s.Equity()
	s.equity = append(s.equity, EquityPoint{Timestamp: ts, Equity: equity})

	if equity.GreaterThan(s.peakEquity) {
		s.peakEquity = equity
	}
	if s.peakEquity.IsPositive() {
		dd, _ := s.peakEquity.Sub(equity).Div(s.peakEquity).Float64()
		if dd > s.maxDrawdown {
			s.maxDrawdown = dd
		}
	}
}

// Position 带符号持仓
func (s *Statistics) Position(instrument string) decimal.Decimal {
	if h, ok := s.holdings[instrument]; ok {
		return h.qty
	}
	return decimal.Zero
}

// Fill 汇总到结果
func (s *Statistics) Fill(r *Result) {
	r.InitialCash = s.broker.StartingCash
	r.FinalEquity = s.Equity()
	r.RealizedPnL = s.realized
	r.TotalCommission = s.commission
	r.MaxDrawdown = s.maxDrawdown
	r.Trades = append([]Trade(nil), s.trades...)
	r.Equity = append([]EquityPoint(nil), s.equity...)

	open := make(map[string]decimal.Decimal)
	for inst, h := range s.holdings {
		if !h.qty.IsZero() {
			open[inst] = h.qty
		}
	}
	if len(open) > 0 {
		r.OpenPositions = open
	}
}
