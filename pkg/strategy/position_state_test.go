package strategy

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/quantlink-pairs/pkg/strategy/spread"
)

var (
	testPair  = spread.Pair{A: "AAA", B: "BBB"}
	testStake = decimal.NewFromInt(100)
)

func actionStrings(actions []Action) []string {
	out := make([]string, 0, len(actions))
	for _, a := range actions {
		out = append(out, a.String())
	}
	return out
}

func TestTransition_TotalTable(t *testing.T) {
	openShort := []string{"open A short", "open B long"}
	openLong := []string{"open A long", "open B short"}
	closeBoth := []string{"close A", "close B"}

	tests := []struct {
		state   PositionState
		signal  Signal
		to      PositionState
		actions []string
	}{
		{StateFlat, SignalSell, StateShortSpread, openShort},
		{StateFlat, SignalBuy, StateLongSpread, openLong},
		{StateFlat, SignalClear, StateFlat, nil},
		{StateFlat, SignalHold, StateFlat, nil},

		{StateLongSpread, SignalSell, StateShortSpread, append(append([]string{}, closeBoth...), openShort...)},
		{StateLongSpread, SignalBuy, StateLongSpread, nil},
		{StateLongSpread, SignalClear, StateFlat, closeBoth},
		{StateLongSpread, SignalHold, StateLongSpread, nil},

		{StateShortSpread, SignalSell, StateShortSpread, nil},
		{StateShortSpread, SignalBuy, StateLongSpread, append(append([]string{}, closeBoth...), openLong...)},
		{StateShortSpread, SignalClear, StateFlat, closeBoth},
		{StateShortSpread, SignalHold, StateShortSpread, nil},
	}

	covered := make(map[[2]int]bool)
	for _, tt := range tests {
		t.Run(tt.state.String()+"/"+tt.signal.String(), func(t *testing.T) {
			plan := Transition(tt.state, tt.signal)
			assert.Equal(t, tt.state, plan.From)
			assert.Equal(t, tt.to, plan.To)
			if tt.actions == nil {
				assert.True(t, plan.NoOp())
				assert.Empty(t, plan.Actions())
			} else {
				assert.Equal(t, tt.actions, actionStrings(plan.Actions()))
			}
		})
		covered[[2]int{int(tt.state), int(tt.signal)}] = true
	}

	for _, s := range AllStates {
		for _, sig := range AllSignals {
			assert.True(t, covered[[2]int{int(s), int(sig)}], "missing %s/%s", s, sig)
		}
	}
}

func TestTransition_OutOfRangeIsNoOp(t *testing.T) {
	plan := Transition(PositionState(7), SignalSell)
	assert.True(t, plan.NoOp())
	plan = Transition(StateFlat, Signal(9))
	assert.True(t, plan.NoOp())
	assert.Equal(t, StateFlat, plan.To)
}

func TestPositionMachine_SellOpensShortSpread(t *testing.T) {
	exec := new(mockExecutor)
	stakeMatch := mock.MatchedBy(func(d decimal.Decimal) bool { return d.Equal(testStake) })
	exec.On("OpenPosition", mock.Anything, "AAA", DirectionShort, stakeMatch).Return(nil).Once()
	exec.On("OpenPosition", mock.Anything, "BBB", DirectionLong, stakeMatch).Return(nil).Once()

	m := NewPositionMachine(testPair, testStake, exec, zerolog.Nop())
	require.Equal(t, StateFlat, m.State())

	actions, err := m.Apply(context.Background(), SignalSell)
	require.NoError(t, err)
	assert.Len(t, actions, 2)
	assert.Equal(t, StateShortSpread, m.State())

	// 重复投递不产生请求
	actions, err = m.Apply(context.Background(), SignalSell)
	require.NoError(t, err)
	assert.Empty(t, actions)

	exec.AssertExpectations(t)
	exec.AssertNumberOfCalls(t, "OpenPosition", 2)
	exec.AssertNotCalled(t, "ClosePosition", mock.Anything, mock.Anything)
}

func TestPositionMachine_Idempotence(t *testing.T) {
	ctx := context.Background()
	for _, start := range AllStates {
		for _, sig := range AllSignals {
			t.Run(start.String()+"/"+sig.String(), func(t *testing.T) {
				exec := newRecordingExecutor()
				m := NewPositionMachine(testPair, testStake, exec, zerolog.Nop())
				m.force(start)

				first, err := m.Apply(ctx, sig)
				require.NoError(t, err)
				assert.Equal(t, actionStrings(Transition(start, sig).Actions()), actionStrings(first))

				callsAfterFirst := len(exec.Calls())
				second, err := m.Apply(ctx, sig)
				require.NoError(t, err)
				assert.Empty(t, second)
				assert.Len(t, exec.Calls(), callsAfterFirst)
			})
		}
	}
}

func TestPositionMachine_ReversalOrder(t *testing.T) {
	exec := newRecordingExecutor()
	m := NewPositionMachine(testPair, testStake, exec, zerolog.Nop())
	ctx := context.Background()

	_, err := m.Apply(ctx, SignalBuy)
	require.NoError(t, err)
	_, err = m.Apply(ctx, SignalSell)
	require.NoError(t, err)

	// 平仓以反向开仓抵消本配对的腿
	assert.Equal(t, []string{
		"open AAA long 100",
		"open BBB short 100",
		"open AAA short 100",
		"open BBB long 100",
		"open AAA short 100",
		"open BBB long 100",
	}, exec.Calls())
	assert.Equal(t, StateShortSpread, m.State())

	size, _ := exec.PositionSize(ctx, "AAA")
	assert.True(t, size.Equal(decimal.NewFromInt(-100)))
}

func TestPositionMachine_ExecutionFailure(t *testing.T) {
	exec := newRecordingExecutor()
	m := NewPositionMachine(testPair, testStake, exec, zerolog.Nop())
	ctx := context.Background()

	_, err := m.Apply(ctx, SignalBuy)
	require.NoError(t, err)

	exec.failOn = "BBB"
	actions, err := m.Apply(ctx, SignalClear)
	require.Error(t, err)

	var execErr *ExecutionError
	require.True(t, errors.As(err, &execErr))
	assert.Equal(t, "AAA/BBB", execErr.Pair)
	assert.Equal(t, StageClose, execErr.Stage)
	assert.Equal(t, "BBB", execErr.Instrument)
	assert.True(t, IsExecutionError(err))
	assert.Len(t, actions, 2)

	// 平仓阶段未完成，状态保持，已平掉的 A 腿有记录
	assert.Equal(t, StateLongSpread, m.State())
	a, b := m.Legs()
	assert.True(t, a.IsZero())
	assert.True(t, b.Equal(testStake.Neg()))

	// 再次 clear 只补平 B 腿
	exec.failOn = ""
	actions, err = m.Apply(ctx, SignalClear)
	require.NoError(t, err)
	assert.Equal(t, []string{"close B"}, actionStrings(actions))
	assert.Equal(t, StateFlat, m.State())
	assert.Equal(t, []string{
		"open AAA long 100",
		"open BBB short 100",
		"open AAA short 100",
		"open BBB long 100",
	}, exec.Calls())
}

func TestPositionMachine_OpenFailureResumesMissingLeg(t *testing.T) {
	exec := newRecordingExecutor()
	m := NewPositionMachine(testPair, testStake, exec, zerolog.Nop())
	ctx := context.Background()

	exec.failOn = "BBB"
	actions, err := m.Apply(ctx, SignalSell)
	var execErr *ExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, StageOpen, execErr.Stage)
	assert.Equal(t, []string{"open A short", "open B long"}, actionStrings(actions))
	assert.Equal(t, StateFlat, m.State())

	exec.failOn = ""
	actions, err = m.Apply(ctx, SignalSell)
	require.NoError(t, err)
	assert.Equal(t, []string{"open B long"}, actionStrings(actions))
	assert.Equal(t, StateShortSpread, m.State())

	actions, err = m.Apply(ctx, SignalSell)
	require.NoError(t, err)
	assert.Empty(t, actions)

	assert.Equal(t, []string{"open AAA short 100", "open BBB long 100"}, exec.Calls())
	sizeA, _ := exec.PositionSize(ctx, "AAA")
	sizeB, _ := exec.PositionSize(ctx, "BBB")
	assert.True(t, sizeA.Equal(testStake.Neg()), "AAA=%s", sizeA)
	assert.True(t, sizeB.Equal(testStake), "BBB=%s", sizeB)
}

func TestPositionMachine_PartialOpenThenOtherSignal(t *testing.T) {
	tests := []struct {
		signal  Signal
		actions []string
		state   PositionState
	}{
		{SignalBuy, []string{"close A", "open A long", "open B short"}, StateLongSpread},
		{SignalClear, []string{"close A"}, StateFlat},
		{SignalHold, nil, StateFlat},
	}

	for _, tt := range tests {
		t.Run(tt.signal.String(), func(t *testing.T) {
			exec := newRecordingExecutor()
			m := NewPositionMachine(testPair, testStake, exec, zerolog.Nop())
			ctx := context.Background()

			exec.failOn = "BBB"
			_, err := m.Apply(ctx, SignalSell)
			require.Error(t, err)
			exec.failOn = ""

			actions, err := m.Apply(ctx, tt.signal)
			require.NoError(t, err)
			if tt.actions == nil {
				assert.Empty(t, actions)
			} else {
				assert.Equal(t, tt.actions, actionStrings(actions))
			}
			assert.Equal(t, tt.state, m.State())

			a, b := m.Legs()
			want := m.targetLegs(tt.state)
			if tt.signal == SignalHold {
				want = [2]decimal.Decimal{testStake.Neg(), decimal.Zero}
			}
			assert.True(t, a.Equal(want[LegA]), "A=%s", a)
			assert.True(t, b.Equal(want[LegB]), "B=%s", b)
		})
	}
}

func TestBook_SharedInstrumentIsolation(t *testing.T) {
	exec := newRecordingExecutor()
	book := NewBook(exec, testStake, zerolog.Nop())
	other := spread.Pair{A: "AAA", B: "CCC"}
	_, _ = book.Register(testPair)
	_, _ = book.Register(other)
	ctx := context.Background()

	_, err := book.Apply(ctx, testPair, SignalSell)
	require.NoError(t, err)
	_, err = book.Apply(ctx, other, SignalBuy)
	require.NoError(t, err)

	size, _ := exec.PositionSize(ctx, "AAA")
	assert.True(t, size.IsZero())
	assert.True(t, book.Exposure("AAA").IsZero())
	assert.True(t, book.Exposure("CCC").Equal(testStake.Neg()))

	// 清掉一个配对不影响另一个配对在 AAA 上的腿
	actions, err := book.Apply(ctx, testPair, SignalClear)
	require.NoError(t, err)
	assert.Equal(t, []string{"close A", "close B"}, actionStrings(actions))

	size, _ = exec.PositionSize(ctx, "AAA")
	assert.True(t, size.Equal(testStake), "AAA=%s", size)
	assert.True(t, book.Exposure("AAA").Equal(testStake))
	state, _ := book.State(other)
	assert.Equal(t, StateLongSpread, state)
	assert.NotContains(t, exec.Calls(), "close AAA")
}

func TestBook_RegisterApplyDeregister(t *testing.T) {
	exec := newRecordingExecutor()
	book := NewBook(exec, testStake, zerolog.Nop())
	ctx := context.Background()

	_, err := book.Apply(ctx, testPair, SignalSell)
	assert.ErrorIs(t, err, ErrUnregisteredPair)

	_, err = book.Register(testPair)
	require.NoError(t, err)
	_, err = book.Register(testPair)
	assert.ErrorIs(t, err, ErrDuplicatePair)

	// 反向配对是不同的配对
	reversed := spread.Pair{A: "BBB", B: "AAA"}
	_, err = book.Register(reversed)
	require.NoError(t, err)
	assert.Equal(t, []spread.Pair{testPair, reversed}, book.Pairs())

	_, err = book.Apply(ctx, testPair, SignalSell)
	require.NoError(t, err)
	state, err := book.State(testPair)
	require.NoError(t, err)
	assert.Equal(t, StateShortSpread, state)

	state, err = book.State(reversed)
	require.NoError(t, err)
	assert.Equal(t, StateFlat, state)

	assert.True(t, book.Deregister(testPair))
	assert.False(t, book.Deregister(testPair))
	_, err = book.State(testPair)
	assert.ErrorIs(t, err, ErrUnregisteredPair)
	assert.Equal(t, 1, book.Len())

	// 重新注册从 Flat 开始
	_, err = book.Register(testPair)
	require.NoError(t, err)
	state, _ = book.State(testPair)
	assert.Equal(t, StateFlat, state)
}

func TestBook_SnapshotRestore(t *testing.T) {
	exec := newRecordingExecutor()
	book := NewBook(exec, testStake, zerolog.Nop())
	other := spread.Pair{A: "CCC", B: "DDD"}
	_, _ = book.Register(testPair)
	_, _ = book.Register(other)

	_, err := book.Apply(context.Background(), other, SignalBuy)
	require.NoError(t, err)

	snap := book.Snapshot()
	require.Len(t, snap.Positions, 2)
	assert.Equal(t, StateLongSpread, snap.Positions[1].State)

	dir := t.TempDir()
	require.NoError(t, SaveBookSnapshot(dir, "run", snap))
	loaded, err := LoadBookSnapshot(dir, "run")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	require.Len(t, loaded.Positions, 2)
	for i, pos := range loaded.Positions {
		assert.Equal(t, snap.Positions[i].Pair, pos.Pair)
		assert.Equal(t, snap.Positions[i].State, pos.State)
		assert.True(t, snap.Positions[i].SizeA.Equal(pos.SizeA))
		assert.True(t, snap.Positions[i].SizeB.Equal(pos.SizeB))
	}
	assert.True(t, loaded.Positions[1].SizeA.Equal(testStake))

	missing, err := LoadBookSnapshot(dir, "absent")
	assert.NoError(t, err)
	assert.Nil(t, missing)

	fresh := NewBook(exec, testStake, zerolog.Nop())
	_, _ = fresh.Register(testPair)
	err = fresh.Restore(*loaded)
	assert.ErrorIs(t, err, ErrUnregisteredPair)

	_, _ = fresh.Register(other)
	callsBefore := len(exec.Calls())
	require.NoError(t, fresh.Restore(*loaded))
	state, _ := fresh.State(other)
	assert.Equal(t, StateLongSpread, state)
	assert.Len(t, exec.Calls(), callsBefore)
	assert.True(t, fresh.Exposure("DDD").Equal(testStake.Neg()))

	// 未记录腿持仓的旧快照按 stake 补齐
	legacy := BookSnapshot{Positions: []PairPosition{{Pair: testPair, State: StateShortSpread}}}
	require.NoError(t, fresh.Restore(legacy))
	m, _ := fresh.Machine(testPair)
	a, b := m.Legs()
	assert.True(t, a.Equal(testStake.Neg()))
	assert.True(t, b.Equal(testStake))
}
