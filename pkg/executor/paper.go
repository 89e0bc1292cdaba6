// Package executor provides reference Executor implementations: an in-memory paper
// executor and a NATS publisher
package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/yourusername/quantlink-pairs/pkg/strategy"
)

// ErrInvalidSize is returned when an open request has a non-positive size
var ErrInvalidSize = errors.New("position size must be positive")

// BrokerOptions 模拟券商参数，只由执行器使用
type BrokerOptions struct {
	StartingCash      decimal.Decimal `yaml:"starting_cash" json:"starting_cash"`
	SlippagePercent   decimal.Decimal `yaml:"slippage_percent" json:"slippage_percent"`
	CommissionPercent decimal.Decimal `yaml:"commission_percent" json:"commission_percent"`
}

// DefaultBrokerOptions 初始资金 50000，滑点 0.01%，佣金 0.2%
func DefaultBrokerOptions() BrokerOptions {
	return BrokerOptions{
		StartingCash:      decimal.NewFromInt(50000),
		SlippagePercent:   decimal.RequireFromString("0.0001"),
		CommissionPercent: decimal.RequireFromString("0.002"),
	}
}

// PriceSource 返回品种最新价格
type PriceSource func(instrument string) (float64, bool)

// Paper 内存模拟执行器：维护带符号持仓并记录成交
type Paper struct {
	broker BrokerOptions
	logger zerolog.Logger

	mu        sync.RWMutex
	prices    PriceSource
	positions map[string]decimal.Decimal
	fills     []strategy.Fill
	now       func() time.Time
}

var _ strategy.Executor = (*Paper)(nil)

// NewPaper 创建模拟执行器
func NewPaper(broker BrokerOptions, logger zerolog.Logger) *Paper {
	return &Paper{
		broker:    broker,
		logger:    logger.With().Str("component", "paper_executor").Logger(),
		positions: make(map[string]decimal.Decimal),
		now:       time.Now,
	}
}

// SetPriceSource 设置成交价来源，回放时由调度器提供当前 bar 价格
func (p *Paper) SetPriceSource(src PriceSource) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.prices = src
}

// SetClock 设置成交时间来源
func (p *Paper) SetClock(now func() time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.now = now
}

// OpenPosition 按方向增减持仓，反向开仓可抵消已有持仓
func (p *Paper) OpenPosition(ctx context.Context, instrument string, direction strategy.Direction, size decimal.Decimal) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !size.IsPositive() {
		return fmt.Errorf("%w: %s", ErrInvalidSize, size)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	delta := size.Mul(decimal.NewFromInt(direction.Sign()))
	if pos := p.positions[instrument].Add(delta); pos.IsZero() {
		delete(p.positions, instrument)
	} else {
		p.positions[instrument] = pos
	}
	p.recordFillLocked(instrument, direction, size)
	return nil
}

// ClosePosition 平掉全部持仓，无持仓时为空操作
func (p *Paper) ClosePosition(ctx context.Context, instrument string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	pos := p.positions[instrument]
	if pos.IsZero() {
		return nil
	}

	direction := strategy.DirectionShort
	if pos.IsNegative() {
		direction = strategy.DirectionLong
	}
	delete(p.positions, instrument)
	p.recordFillLocked(instrument, direction, pos.Abs())
	return nil
}

// PositionSize 带符号持仓
func (p *Paper) PositionSize(ctx context.Context, instrument string) (decimal.Decimal, error) {
	if err := ctx.Err(); err != nil {
		return decimal.Zero, err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.positions[instrument], nil
}

// Positions 返回全部非零持仓副本
func (p *Paper) Positions() map[string]decimal.Decimal {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make(map[string]decimal.Decimal, len(p.positions))
	for k, v := range p.positions {
		out[k] = v
	}
	return out
}

// Fills 返回成交记录副本
func (p *Paper) Fills() []strategy.Fill {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]strategy.Fill, len(p.fills))
	copy(out, p.fills)
	return out
}

// FillsSince 返回第 offset 条之后的成交
func (p *Paper) FillsSince(offset int) []strategy.Fill {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if offset < 0 {
		offset = 0
	}
	if offset >= len(p.fills) {
		return nil
	}
	out := make([]strategy.Fill, len(p.fills)-offset)
	copy(out, p.fills[offset:])
	return out
}

// Broker 返回券商参数
func (p *Paper) Broker() BrokerOptions {
	return p.broker
}

func (p *Paper) recordFillLocked(instrument string, direction strategy.Direction, size decimal.Decimal) {
	fill := strategy.Fill{
		Instrument: instrument,
		Direction:  direction,
		Size:       size,
		Timestamp:  p.now(),
	}

	if p.prices != nil {
		if px, ok := p.prices(instrument); ok {
			price := decimal.NewFromFloat(px)
			// 滑点按方向不利调整
			slip := price.Mul(p.broker.SlippagePercent)
			if direction == strategy.DirectionLong {
				price = price.Add(slip)
			} else {
				price = price.Sub(slip)
			}
			fill.Price = price
		}
	}
	p.fills = append(p.fills, fill)

	commission := fill.Price.Mul(size).Mul(p.broker.CommissionPercent)
	p.logger.Debug().
		Str("instrument", instrument).
		Str("direction", direction.String()).
		Str("size", size.String()).
		Str("price", fill.Price.String()).
		Str("commission", commission.String()).
		Msg("paper fill")
}
