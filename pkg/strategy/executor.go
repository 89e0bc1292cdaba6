package strategy

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Direction 开仓方向
type Direction int

const (
	DirectionLong Direction = iota
	DirectionShort
)

func (d Direction) String() string {
	switch d {
	case DirectionLong:
		return "long"
	case DirectionShort:
		return "short"
	default:
		return "unknown"
	}
}

// MarshalText 以名称序列化
func (d Direction) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText 从名称解析
func (d *Direction) UnmarshalText(text []byte) error {
	switch string(text) {
	case "long":
		*d = DirectionLong
	case "short":
		*d = DirectionShort
	default:
		return fmt.Errorf("unknown direction %q", string(text))
	}
	return nil
}

// Sign 多头 +1，空头 -1
func (d Direction) Sign() int64 {
	if d == DirectionShort {
		return -1
	}
	return 1
}

// Executor 接收持仓变更请求的外部执行器
type Executor interface {
	// OpenPosition 按方向开仓 size
	OpenPosition(ctx context.Context, instrument string, direction Direction, size decimal.Decimal) error

	// ClosePosition 平掉该品种的全部持仓
	ClosePosition(ctx context.Context, instrument string) error

	// PositionSize 返回带符号的持仓，空头为负
	PositionSize(ctx context.Context, instrument string) (decimal.Decimal, error)
}

// Stage 出错时所处的执行阶段
type Stage string

const (
	StageOpen      Stage = "open"
	StageClose     Stage = "close"
	StageReconcile Stage = "reconcile"
)

// ExecutionError 执行器调用失败，携带配对、阶段和品种
type ExecutionError struct {
	Pair       string
	Stage      Stage
	Instrument string
	Err        error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("pair %s: %s %s: %v", e.Pair, e.Stage, e.Instrument, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// IsExecutionError 判断是否为执行器错误
func IsExecutionError(err error) bool {
	var execErr *ExecutionError
	return errors.As(err, &execErr)
}
