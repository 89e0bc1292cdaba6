package executor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/quantlink-pairs/pkg/strategy"
)

type captureSubscriber struct {
	mu      sync.Mutex
	subject string
	handler nats.MsgHandler
}

func (c *captureSubscriber) Subscribe(subject string, cb nats.MsgHandler) (*nats.Subscription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subject = subject
	c.handler = cb
	return nil, nil
}

func (c *captureSubscriber) deliver(data string) bool {
	c.mu.Lock()
	cb := c.handler
	c.mu.Unlock()
	if cb == nil {
		return false
	}
	cb(&nats.Msg{Data: []byte(data)})
	return true
}

func TestDecodeReport(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		wantErr string
		check   func(t *testing.T, r ExecutionReport)
	}{
		{
			name: "fill",
			data: `{"type":"fill","instrument":"AAA","direction":"short","size":"100","price":"26.5","timestamp":"2024-03-01T01:00:00Z"}`,
			check: func(t *testing.T, r ExecutionReport) {
				f := r.Fill()
				assert.Equal(t, "AAA", f.Instrument)
				assert.Equal(t, strategy.DirectionShort, f.Direction)
				assert.True(t, f.Size.Equal(hundred))
				assert.True(t, f.Price.Equal(decimal.RequireFromString("26.5")))
			},
		},
		{
			name: "closed",
			data: `{"type":"closed","instrument":"BBB","pnl":"-12.25"}`,
			check: func(t *testing.T, r ExecutionReport) {
				tc := r.TradeClosed()
				assert.Equal(t, "BBB", tc.Instrument)
				assert.True(t, tc.PnL.Equal(decimal.RequireFromString("-12.25")))
			},
		},
		{name: "malformed", data: `{"type":`, wantErr: "failed to decode"},
		{name: "missing instrument", data: `{"type":"closed"}`, wantErr: "without instrument"},
		{name: "fill without direction", data: `{"type":"fill","instrument":"AAA"}`, wantErr: "without direction"},
		{name: "unknown type", data: `{"type":"cancel","instrument":"AAA"}`, wantErr: "unknown execution report type"},
		{name: "unknown direction", data: `{"type":"fill","instrument":"AAA","direction":"up"}`, wantErr: "unknown direction"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := DecodeReport([]byte(tt.data))
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			tt.check(t, r)
		})
	}
}

func TestReportFeed_RunDeliversInOrder(t *testing.T) {
	sub := &captureSubscriber{}
	feed := NewReportFeed(sub, "pairs.reports", 0, zerolog.Nop())

	var (
		mu  sync.Mutex
		got []string
	)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- feed.Run(ctx, func(_ context.Context, r ExecutionReport) error {
			mu.Lock()
			defer mu.Unlock()
			got = append(got, r.Type+" "+r.Instrument)
			return nil
		})
	}()

	require.Eventually(t, func() bool {
		return sub.deliver(`{"type":"fill","instrument":"AAA","direction":"long","size":"100"}`)
	}, time.Second, 5*time.Millisecond)
	sub.deliver(`not json`)
	sub.deliver(`{"type":"closed","instrument":"AAA"}`)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2
	}, time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, "pairs.reports", sub.subject)
	assert.Equal(t, []string{"fill AAA", "closed AAA"}, got)
}
