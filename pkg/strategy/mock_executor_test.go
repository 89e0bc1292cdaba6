package strategy

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
)

// mockExecutor testify mock
type mockExecutor struct {
	mock.Mock
}

func (m *mockExecutor) OpenPosition(ctx context.Context, instrument string, direction Direction, size decimal.Decimal) error {
	args := m.Called(ctx, instrument, direction, size)
	return args.Error(0)
}

func (m *mockExecutor) ClosePosition(ctx context.Context, instrument string) error {
	args := m.Called(ctx, instrument)
	return args.Error(0)
}

func (m *mockExecutor) PositionSize(ctx context.Context, instrument string) (decimal.Decimal, error) {
	args := m.Called(ctx, instrument)
	return args.Get(0).(decimal.Decimal), args.Error(1)
}

// recordingExecutor 记录全部调用并维护带符号持仓
type recordingExecutor struct {
	mu        sync.Mutex
	calls     []string
	positions map[string]decimal.Decimal
	failOn    string
}

func newRecordingExecutor() *recordingExecutor {
	return &recordingExecutor{positions: make(map[string]decimal.Decimal)}
}

func (r *recordingExecutor) OpenPosition(_ context.Context, instrument string, direction Direction, size decimal.Decimal) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	call := fmt.Sprintf("open %s %s %s", instrument, direction, size)
	if r.failOn == instrument {
		return fmt.Errorf("rejected %s", instrument)
	}
	r.calls = append(r.calls, call)
	r.positions[instrument] = r.positions[instrument].Add(size.Mul(decimal.NewFromInt(direction.Sign())))
	return nil
}

func (r *recordingExecutor) ClosePosition(_ context.Context, instrument string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failOn == instrument {
		return fmt.Errorf("rejected %s", instrument)
	}
	r.calls = append(r.calls, "close "+instrument)
	delete(r.positions, instrument)
	return nil
}

func (r *recordingExecutor) PositionSize(_ context.Context, instrument string) (decimal.Decimal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.positions[instrument], nil
}

func (r *recordingExecutor) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.calls))
	copy(out, r.calls)
	return out
}
