package executor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/yourusername/quantlink-pairs/pkg/strategy"
)

// Publisher 消息发布接口，*nats.Conn 满足该接口
type Publisher interface {
	Publish(subject string, data []byte) error
}

// PositionRequest 发布到 NATS 的持仓变更请求
type PositionRequest struct {
	ID         string              `json:"id"`
	Action     string              `json:"action"` // open | close
	Instrument string              `json:"instrument"`
	Direction  *strategy.Direction `json:"direction,omitempty"`
	Size       decimal.Decimal     `json:"size"`
	Timestamp  time.Time           `json:"timestamp"`
}

// NATS 将持仓请求发布到 <subject>.<instrument>，并维护本地持仓视图
type NATS struct {
	pub     Publisher
	subject string
	logger  zerolog.Logger

	mu        sync.RWMutex
	positions map[string]decimal.Decimal
}

var _ strategy.Executor = (*NATS)(nil)

// NewNATS 创建 NATS 执行器
func NewNATS(pub Publisher, subject string, logger zerolog.Logger) *NATS {
	return &NATS{
		pub:       pub,
		subject:   subject,
		logger:    logger.With().Str("component", "nats_executor").Str("subject", subject).Logger(),
		positions: make(map[string]decimal.Decimal),
	}
}

// OpenPosition 发布开仓请求
func (n *NATS) OpenPosition(ctx context.Context, instrument string, direction strategy.Direction, size decimal.Decimal) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !size.IsPositive() {
		return fmt.Errorf("%w: %s", ErrInvalidSize, size)
	}

	dir := direction
	req := PositionRequest{
		Action:     "open",
		Instrument: instrument,
		Direction:  &dir,
		Size:       size,
	}
	if err := n.publish(req); err != nil {
		return err
	}

	n.mu.Lock()
	if pos := n.positions[instrument].Add(size.Mul(decimal.NewFromInt(direction.Sign()))); pos.IsZero() {
		delete(n.positions, instrument)
	} else {
		n.positions[instrument] = pos
	}
	n.mu.Unlock()
	return nil
}

// ClosePosition 发布平仓请求，本地视图无持仓时为空操作
func (n *NATS) ClosePosition(ctx context.Context, instrument string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	n.mu.RLock()
	pos := n.positions[instrument]
	n.mu.RUnlock()
	if pos.IsZero() {
		return nil
	}

	if err := n.publish(PositionRequest{Action: "close", Instrument: instrument, Size: pos.Abs()}); err != nil {
		return err
	}

	n.mu.Lock()
	delete(n.positions, instrument)
	n.mu.Unlock()
	return nil
}

// PositionSize 本地视图中的带符号持仓
func (n *NATS) PositionSize(_ context.Context, instrument string) (decimal.Decimal, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.positions[instrument], nil
}

// Flatten 收到平仓回报后将本地视图中该品种清零，不发布请求
func (n *NATS) Flatten(instrument string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.positions, instrument)
}

// Positions 返回本地持仓视图副本
func (n *NATS) Positions() map[string]decimal.Decimal {
	n.mu.RLock()
	defer n.mu.RUnlock()

	out := make(map[string]decimal.Decimal, len(n.positions))
	for k, v := range n.positions {
		out[k] = v
	}
	return out
}

// Restore 用快照覆盖本地持仓视图，不发布请求
func (n *NATS) Restore(positions map[string]decimal.Decimal) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.positions = make(map[string]decimal.Decimal, len(positions))
	for k, v := range positions {
		if !v.IsZero() {
			n.positions[k] = v
		}
	}
}

func (n *NATS) publish(req PositionRequest) error {
	req.ID = uuid.NewString()
	req.Timestamp = time.Now().UTC()

	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal position request: %w", err)
	}

	subject := n.subject + "." + req.Instrument
	if err := n.pub.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}

	n.logger.Info().
		Str("id", req.ID).
		Str("action", req.Action).
		Str("instrument", req.Instrument).
		Str("size", req.Size.String()).
		Msg("position request published")
	return nil
}
