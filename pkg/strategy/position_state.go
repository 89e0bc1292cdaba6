package strategy

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/yourusername/quantlink-pairs/pkg/metrics"
	"github.com/yourusername/quantlink-pairs/pkg/strategy/spread"
)

var (
	// ErrUnregisteredPair is returned when a signal targets a pair with no position state
	ErrUnregisteredPair = errors.New("pair not registered")

	// ErrDuplicatePair is returned when a pair is registered twice
	ErrDuplicatePair = errors.New("pair already registered")
)

// PositionState 配对的价差持仓状态
type PositionState int

const (
	StateFlat        PositionState = iota
	StateLongSpread                // 多 A 空 B
	StateShortSpread               // 空 A 多 B
)

// AllStates 全部状态
var AllStates = []PositionState{StateFlat, StateLongSpread, StateShortSpread}

func (s PositionState) String() string {
	switch s {
	case StateFlat:
		return "flat"
	case StateLongSpread:
		return "long_spread"
	case StateShortSpread:
		return "short_spread"
	default:
		return "unknown"
	}
}

// MarshalText 以名称序列化
func (s PositionState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText 从名称解析
func (s *PositionState) UnmarshalText(text []byte) error {
	switch string(text) {
	case "flat":
		*s = StateFlat
	case "long_spread":
		*s = StateLongSpread
	case "short_spread":
		*s = StateShortSpread
	default:
		return fmt.Errorf("unknown position state %q", string(text))
	}
	return nil
}

// Gauge 监控指标取值：flat 0, long 1, short -1
func (s PositionState) Gauge() float64 {
	switch s {
	case StateLongSpread:
		return 1
	case StateShortSpread:
		return -1
	default:
		return 0
	}
}

// Leg 配对中的一条腿
type Leg int

const (
	LegA Leg = iota // 分子
	LegB            // 分母
)

func (l Leg) String() string {
	if l == LegB {
		return "B"
	}
	return "A"
}

// ActionKind 执行动作类型
type ActionKind int

const (
	ActionOpen ActionKind = iota
	ActionClose
)

func (k ActionKind) String() string {
	if k == ActionClose {
		return "close"
	}
	return "open"
}

// Action 对单条腿的一次执行请求
type Action struct {
	Kind      ActionKind `json:"kind"`
	Leg       Leg        `json:"leg"`
	Direction Direction  `json:"direction"` // 仅 open 有效
}

func (a Action) String() string {
	if a.Kind == ActionClose {
		return "close " + a.Leg.String()
	}
	return fmt.Sprintf("open %s %s", a.Leg, a.Direction)
}

// Plan 一次状态转移：先平仓，再开仓
type Plan struct {
	From  PositionState
	To    PositionState
	Close []Action
	Open  []Action
}

// Actions 按执行顺序返回全部动作
func (p Plan) Actions() []Action {
	out := make([]Action, 0, len(p.Close)+len(p.Open))
	out = append(out, p.Close...)
	return append(out, p.Open...)
}

// NoOp 无需任何动作
func (p Plan) NoOp() bool {
	return len(p.Close) == 0 && len(p.Open) == 0
}

type step struct {
	next  PositionState
	close bool
	open  bool
}

// transitionTable[state][signal]，信号顺序 Hold, Sell, Buy, Clear
var transitionTable = [3][4]step{
	StateFlat: {
		SignalHold:  {next: StateFlat},
		SignalSell:  {next: StateShortSpread, open: true},
		SignalBuy:   {next: StateLongSpread, open: true},
		SignalClear: {next: StateFlat},
	},
	StateLongSpread: {
		SignalHold:  {next: StateLongSpread},
		SignalSell:  {next: StateShortSpread, close: true, open: true},
		SignalBuy:   {next: StateLongSpread},
		SignalClear: {next: StateFlat, close: true},
	},
	StateShortSpread: {
		SignalHold:  {next: StateShortSpread},
		SignalSell:  {next: StateShortSpread},
		SignalBuy:   {next: StateLongSpread, close: true, open: true},
		SignalClear: {next: StateFlat, close: true},
	},
}

func closeLegs() []Action {
	return []Action{{Kind: ActionClose, Leg: LegA}, {Kind: ActionClose, Leg: LegB}}
}

func openLegs(target PositionState) []Action {
	a, b := DirectionLong, DirectionShort
	if target == StateShortSpread {
		a, b = DirectionShort, DirectionLong
	}
	return []Action{
		{Kind: ActionOpen, Leg: LegA, Direction: a},
		{Kind: ActionOpen, Leg: LegB, Direction: b},
	}
}

// Transition 纯函数：给定当前状态与信号，返回目标状态与所需动作
// 对 3 种状态 × 4 种信号全部有定义；越界输入视为无操作
func Transition(state PositionState, signal Signal) Plan {
	plan := Plan{From: state, To: state}
	if state < StateFlat || state > StateShortSpread || signal < SignalHold || signal > SignalClear {
		return plan
	}

	st := transitionTable[state][signal]
	plan.To = st.next
	if st.close {
		plan.Close = closeLegs()
	}
	if st.open {
		plan.Open = openLegs(st.next)
	}
	return plan
}

// PositionMachine 单个配对的持仓状态机
// 记录本配对每条腿的带符号持仓，与同一品种上其他配对的持仓互不影响。
// 平仓以反向开仓抵消本配对的持仓；已处于目标持仓的腿不发出请求
type PositionMachine struct {
	pair     spread.Pair
	stake    decimal.Decimal
	executor Executor
	logger   zerolog.Logger

	mu        sync.Mutex
	state     PositionState
	legs      [2]decimal.Decimal // 按 Leg 索引
	updatedAt time.Time
}

// NewPositionMachine 创建状态机，初始状态 Flat
func NewPositionMachine(pair spread.Pair, stake decimal.Decimal, executor Executor, logger zerolog.Logger) *PositionMachine {
	return &PositionMachine{
		pair:     pair,
		stake:    stake,
		executor: executor,
		logger:   logger.With().Str("pair", pair.ID()).Logger(),
		state:    StateFlat,
	}
}

// Pair 返回配对
func (m *PositionMachine) Pair() spread.Pair {
	return m.pair
}

// State 返回当前状态
func (m *PositionMachine) State() PositionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Legs 返回本配对 A、B 两条腿的带符号持仓
func (m *PositionMachine) Legs() (a, b decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.legs[LegA], m.legs[LegB]
}

// Size 本配对在该品种上的带符号持仓
func (m *PositionMachine) Size(instrument string) decimal.Decimal {
	m.mu.Lock()
	defer m.mu.Unlock()

	total := decimal.Zero
	for _, leg := range []Leg{LegA, LegB} {
		if m.instrument(leg) == instrument {
			total = total.Add(m.legs[leg])
		}
	}
	return total
}

// targetLegs 状态对应的两腿持仓
func (m *PositionMachine) targetLegs(s PositionState) [2]decimal.Decimal {
	neg := m.stake.Neg()
	switch s {
	case StateLongSpread:
		return [2]decimal.Decimal{m.stake, neg}
	case StateShortSpread:
		return [2]decimal.Decimal{neg, m.stake}
	default:
		return [2]decimal.Decimal{decimal.Zero, decimal.Zero}
	}
}

// planLocked 由当前腿持仓与目标持仓得出动作：先平掉与目标不符的腿，再开目标腿
// 各腿与状态一致时结果与 Transition 相同；上次请求中途失败时只补发缺失的腿
func (m *PositionMachine) planLocked(to PositionState) Plan {
	plan := Plan{From: m.state, To: to}
	target := m.targetLegs(to)
	for _, leg := range []Leg{LegA, LegB} {
		cur := m.legs[leg]
		if cur.Equal(target[leg]) {
			continue
		}
		if !cur.IsZero() {
			plan.Close = append(plan.Close, Action{Kind: ActionClose, Leg: leg})
		}
		if !target[leg].IsZero() {
			dir := DirectionLong
			if target[leg].IsNegative() {
				dir = DirectionShort
			}
			plan.Open = append(plan.Open, Action{Kind: ActionOpen, Leg: leg, Direction: dir})
		}
	}
	return plan
}

// Apply 处理一个信号，返回实际发出的动作
// 每个请求成功后立即记录该腿持仓；平仓阶段完成后状态记为 Flat，开仓阶段完成后记为目标状态。
// 任一请求失败时返回 ExecutionError，状态停留在最后一个完成的阶段，已成交的腿保留记录
func (m *PositionMachine) Apply(ctx context.Context, signal Signal) ([]Action, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch signal {
	case SignalSell, SignalBuy, SignalClear:
	default:
		return nil, nil
	}

	plan := m.planLocked(Transition(m.state, signal).To)
	if plan.NoOp() {
		if plan.To != m.state {
			m.setStateLocked(plan.To)
		}
		return nil, nil
	}

	issued := make([]Action, 0, len(plan.Close)+len(plan.Open))
	for _, a := range plan.Close {
		issued = append(issued, a)
		if err := m.closeLegLocked(ctx, a.Leg, StageClose); err != nil {
			return issued, err
		}
	}
	if len(plan.Close) > 0 && m.legs[LegA].IsZero() && m.legs[LegB].IsZero() {
		m.setStateLocked(StateFlat)
	}

	target := m.targetLegs(plan.To)
	for _, a := range plan.Open {
		issued = append(issued, a)
		if err := m.execute(ctx, StageOpen, a.Leg, a.Direction, target[a.Leg].Abs()); err != nil {
			return issued, err
		}
		m.legs[a.Leg] = target[a.Leg]
	}
	m.setStateLocked(plan.To)

	m.logger.Info().
		Str("signal", signal.String()).
		Str("from", plan.From.String()).
		Str("to", plan.To.String()).
		Int("actions", len(issued)).
		Msg("position transition")

	return issued, nil
}

// DropLeg 该品种已在执行器侧被外部清零：不发请求直接清掉本配对在该品种上的腿，
// 反向平掉另一条腿并记为 Flat。本配对未持有该品种时返回 false
func (m *PositionMachine) DropLeg(ctx context.Context, instrument string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	lost := false
	for _, leg := range []Leg{LegA, LegB} {
		if m.instrument(leg) == instrument && !m.legs[leg].IsZero() {
			m.legs[leg] = decimal.Zero
			lost = true
		}
	}
	if !lost {
		return false, nil
	}

	from := m.state
	for _, leg := range []Leg{LegA, LegB} {
		if err := m.closeLegLocked(ctx, leg, StageReconcile); err != nil {
			return true, err
		}
	}
	m.setStateLocked(StateFlat)
	m.logger.Warn().Str("instrument", instrument).Str("from", from.String()).Msg("leg flattened externally, pair reset to flat")
	return true, nil
}

func (m *PositionMachine) instrument(leg Leg) string {
	if leg == LegB {
		return m.pair.B
	}
	return m.pair.A
}

// closeLegLocked 以反向开仓抵消本配对在该腿上的持仓，无持仓时为空操作
func (m *PositionMachine) closeLegLocked(ctx context.Context, leg Leg, stage Stage) error {
	cur := m.legs[leg]
	if cur.IsZero() {
		return nil
	}
	dir := DirectionShort
	if cur.IsNegative() {
		dir = DirectionLong
	}
	if err := m.execute(ctx, stage, leg, dir, cur.Abs()); err != nil {
		return err
	}
	m.legs[leg] = decimal.Zero
	return nil
}

func (m *PositionMachine) execute(ctx context.Context, stage Stage, leg Leg, dir Direction, size decimal.Decimal) error {
	instrument := m.instrument(leg)
	kind := ActionOpen.String()
	if stage != StageOpen {
		kind = ActionClose.String()
	}

	if err := m.executor.OpenPosition(ctx, instrument, dir, size); err != nil {
		metrics.ActionsTotal.WithLabelValues(kind, "error").Inc()
		m.logger.Error().Err(err).Str("stage", string(stage)).Str("instrument", instrument).Msg("executor request failed")
		return &ExecutionError{Pair: m.pair.ID(), Stage: stage, Instrument: instrument, Err: err}
	}

	metrics.ActionsTotal.WithLabelValues(kind, "ok").Inc()
	m.logger.Debug().
		Str("stage", string(stage)).
		Str("instrument", instrument).
		Str("direction", dir.String()).
		Str("size", size.String()).
		Msg("executor request sent")
	return nil
}

func (m *PositionMachine) setStateLocked(s PositionState) {
	m.state = s
	m.updatedAt = time.Now()
	metrics.PositionState.WithLabelValues(m.pair.ID()).Set(s.Gauge())
}

// force 直接设置状态与对应的两腿持仓，不发出执行请求
func (m *PositionMachine) force(s PositionState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.legs = m.targetLegs(s)
	m.setStateLocked(s)
}

// restore 恢复状态与已记录的两腿持仓，不发出执行请求
func (m *PositionMachine) restore(s PositionState, a, b decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.legs = [2]decimal.Decimal{a, b}
	m.setStateLocked(s)
}

// Book 按配对 ID 管理状态机
type Book struct {
	executor Executor
	stake    decimal.Decimal
	logger   zerolog.Logger

	mu       sync.RWMutex
	machines map[string]*PositionMachine
	order    []spread.Pair
}

// NewBook 创建状态簿
func NewBook(executor Executor, stake decimal.Decimal, logger zerolog.Logger) *Book {
	return &Book{
		executor: executor,
		stake:    stake,
		logger:   logger,
		machines: make(map[string]*PositionMachine),
	}
}

// Register 注册配对，初始状态 Flat
func (b *Book) Register(pair spread.Pair) (*PositionMachine, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := pair.ID()
	if _, exists := b.machines[id]; exists {
		return nil, fmt.Errorf("%w: %s", ErrDuplicatePair, id)
	}

	m := NewPositionMachine(pair, b.stake, b.executor, b.logger)
	b.machines[id] = m
	b.order = append(b.order, pair)
	metrics.PositionState.WithLabelValues(id).Set(0)
	return m, nil
}

// Deregister 注销配对并丢弃其状态
func (b *Book) Deregister(pair spread.Pair) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := pair.ID()
	if _, exists := b.machines[id]; !exists {
		return false
	}
	delete(b.machines, id)
	for i, p := range b.order {
		if p.ID() == id {
			b.order = append(b.order[:i], b.order[i+1:]...)
			break
		}
	}
	metrics.PositionState.DeleteLabelValues(id)
	return true
}

// Machine 返回配对的状态机
func (b *Book) Machine(pair spread.Pair) (*PositionMachine, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	m, ok := b.machines[pair.ID()]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnregisteredPair, pair.ID())
	}
	return m, nil
}

// Apply 将信号投递给配对的状态机
func (b *Book) Apply(ctx context.Context, pair spread.Pair, signal Signal) ([]Action, error) {
	m, err := b.Machine(pair)
	if err != nil {
		return nil, err
	}
	return m.Apply(ctx, signal)
}

// State 返回配对当前状态
func (b *Book) State(pair spread.Pair) (PositionState, error) {
	m, err := b.Machine(pair)
	if err != nil {
		return StateFlat, err
	}
	return m.State(), nil
}

// Exposure 全部配对在该品种上记录的持仓之和
func (b *Book) Exposure(instrument string) decimal.Decimal {
	b.mu.RLock()
	defer b.mu.RUnlock()

	total := decimal.Zero
	for _, m := range b.machines {
		total = total.Add(m.Size(instrument))
	}
	return total
}

// Pairs 按注册顺序返回配对
func (b *Book) Pairs() []spread.Pair {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]spread.Pair, len(b.order))
	copy(out, b.order)
	return out
}

// Len 已注册配对数量
func (b *Book) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.machines)
}
