package marketdata

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/yourusername/quantlink-pairs/pkg/strategy"
)

// Subscriber *nats.Conn 满足该接口
type Subscriber interface {
	Subscribe(subject string, cb nats.MsgHandler) (*nats.Subscription, error)
}

// BarHandler 处理一根 bar，返回错误只记录日志不中断订阅
type BarHandler func(ctx context.Context, bar strategy.Bar) error

// BarMessage NATS 上的 bar 消息
type BarMessage struct {
	Timestamp time.Time          `json:"timestamp"`
	Prices    map[string]float64 `json:"prices"`
}

// DecodeBar 解析 JSON bar 消息
func DecodeBar(data []byte) (strategy.Bar, error) {
	var msg BarMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return strategy.Bar{}, fmt.Errorf("failed to decode bar: %w", err)
	}
	if msg.Timestamp.IsZero() {
		return strategy.Bar{}, errors.New("bar without timestamp")
	}
	if len(msg.Prices) == 0 {
		return strategy.Bar{}, errors.New("bar without prices")
	}
	return strategy.Bar{Timestamp: msg.Timestamp, Prices: msg.Prices}, nil
}

// EncodeBar 序列化 bar
func EncodeBar(bar strategy.Bar) ([]byte, error) {
	return json.Marshal(BarMessage{Timestamp: bar.Timestamp, Prices: bar.Prices})
}

// NATSFeed 订阅 bar 主题，按到达顺序串行交给 handler
type NATSFeed struct {
	sub     Subscriber
	subject string
	buffer  int
	logger  zerolog.Logger
}

// NewNATSFeed 创建 bar 订阅，buffer 为待处理 bar 的队列长度
func NewNATSFeed(sub Subscriber, subject string, buffer int, logger zerolog.Logger) *NATSFeed {
	if buffer <= 0 {
		buffer = 256
	}
	return &NATSFeed{
		sub:     sub,
		subject: subject,
		buffer:  buffer,
		logger:  logger.With().Str("component", "bar_feed").Str("subject", subject).Logger(),
	}
}

// Run 订阅并处理 bar，直到 ctx 取消
// 队列满时丢弃新 bar 并记录告警，避免阻塞 NATS 回调
func (f *NATSFeed) Run(ctx context.Context, handle BarHandler) error {
	bars := make(chan strategy.Bar, f.buffer)

	subscription, err := f.sub.Subscribe(f.subject, func(msg *nats.Msg) {
		bar, err := DecodeBar(msg.Data)
		if err != nil {
			f.logger.Warn().Err(err).Msg("dropping malformed bar")
			return
		}
		select {
		case bars <- bar:
		default:
			f.logger.Warn().Time("timestamp", bar.Timestamp).Msg("bar queue full, dropping bar")
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

	var last time.Time
	for {
		select {
		case <-ctx.Done():
			f.logger.Info().Msg("feed stopped")
			return nil
		case bar := <-bars:
			if !last.IsZero() && !bar.Timestamp.After(last) {
				f.logger.Warn().Time("timestamp", bar.Timestamp).Time("last", last).Msg("dropping stale bar")
				continue
			}
			last = bar.Timestamp
			if err := handle(ctx, bar); err != nil {
				f.logger.Error().Err(err).Time("timestamp", bar.Timestamp).Msg("bar handler failed")
			}
		}
	}
}
