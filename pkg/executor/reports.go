package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/yourusername/quantlink-pairs/pkg/strategy"
)

// 回报类型
const (
	ReportFill   = "fill"
	ReportClosed = "closed"
)

// Subscriber *nats.Conn 满足该接口
type Subscriber interface {
	Subscribe(subject string, cb nats.MsgHandler) (*nats.Subscription, error)
}

// ExecutionReport 下游网关发布的成交/平仓回报
type ExecutionReport struct {
	Type       string              `json:"type"` // fill | closed
	Instrument string              `json:"instrument"`
	Direction  *strategy.Direction `json:"direction,omitempty"`
	Size       decimal.Decimal     `json:"size"`
	Price      decimal.Decimal     `json:"price"`
	PnL        decimal.Decimal     `json:"pnl"`
	Timestamp  time.Time           `json:"timestamp"`
}

// Fill 转换为成交回报
func (r ExecutionReport) Fill() strategy.Fill {
	f := strategy.Fill{
		Instrument: r.Instrument,
		Size:       r.Size,
		Price:      r.Price,
		Timestamp:  r.Timestamp,
	}
	if r.Direction != nil {
		f.Direction = *r.Direction
	}
	return f
}

// TradeClosed 转换为平仓回报
func (r ExecutionReport) TradeClosed() strategy.TradeClosed {
	return strategy.TradeClosed{Instrument: r.Instrument, PnL: r.PnL, Timestamp: r.Timestamp}
}

// DecodeReport 解析并校验 JSON 回报
func DecodeReport(data []byte) (ExecutionReport, error) {
	var r ExecutionReport
	if err := json.Unmarshal(data, &r); err != nil {
		return ExecutionReport{}, fmt.Errorf("failed to decode execution report: %w", err)
	}
	if r.Instrument == "" {
		return ExecutionReport{}, errors.New("execution report without instrument")
	}
	switch r.Type {
	case ReportFill:
		if r.Direction == nil {
			return ExecutionReport{}, errors.New("fill report without direction")
		}
	case ReportClosed:
	default:
		return ExecutionReport{}, fmt.Errorf("unknown execution report type %q", r.Type)
	}
	return r, nil
}

// ReportHandler 处理一条回报，返回错误只记录日志
type ReportHandler func(ctx context.Context, report ExecutionReport) error

// ReportFeed 订阅回报主题，按到达顺序串行交给 handler
type ReportFeed struct {
	sub     Subscriber
	subject string
	buffer  int
	logger  zerolog.Logger
}

// NewReportFeed 创建回报订阅
func NewReportFeed(sub Subscriber, subject string, buffer int, logger zerolog.Logger) *ReportFeed {
	if buffer <= 0 {
		buffer = 256
	}
	return &ReportFeed{
		sub:     sub,
		subject: subject,
		buffer:  buffer,
		logger:  logger.With().Str("component", "report_feed").Str("subject", subject).Logger(),
	}
}

// Run 订阅并处理回报，直到 ctx 取消
// 回报不可丢：队列满时 NATS 回调阻塞等待，ctx 取消后放弃
func (f *ReportFeed) Run(ctx context.Context, handle ReportHandler) error {
	reports := make(chan ExecutionReport, f.buffer)

	subscription, err := f.sub.Subscribe(f.subject, func(msg *nats.Msg) {
		report, err := DecodeReport(msg.Data)
		if err != nil {
			f.logger.Warn().Err(err).Msg("dropping malformed report")
			return
		}
		select {
		case reports <- report:
		case <-ctx.Done():
		}
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", f.subject, err)
	}
	defer func() {
		if subscription != nil {
			_ = subscription.Unsubscribe()
		}
	}()

	f.logger.Info().Msg("subscribed")

	for {
		select {
		case <-ctx.Done():
			f.logger.Info().Msg("report feed stopped")
			return nil
		case report := <-reports:
			if err := handle(ctx, report); err != nil {
				f.logger.Error().Err(err).Str("type", report.Type).Str("instrument", report.Instrument).Msg("report handler failed")
			}
		}
	}
}
