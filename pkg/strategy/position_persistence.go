package strategy

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/goccy/go-json"
	"github.com/shopspring/decimal"

	"github.com/yourusername/quantlink-pairs/pkg/strategy/spread"
)

// PairPosition 单个配对的持仓状态
type PairPosition struct {
	Pair  spread.Pair     `json:"pair"`
	State PositionState   `json:"state"`
	SizeA decimal.Decimal `json:"size_a"`
	SizeB decimal.Decimal `json:"size_b"`
}

// BookSnapshot 状态簿快照，由调度方决定何时保存与恢复
type BookSnapshot struct {
	Timestamp time.Time      `json:"timestamp"`
	Positions []PairPosition `json:"positions"`
	// Legs 执行器侧的带符号持仓，由调度方填充
	Legs map[string]decimal.Decimal `json:"legs,omitempty"`
}

// Snapshot 按注册顺序导出全部配对状态
func (b *Book) Snapshot() BookSnapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()

	snap := BookSnapshot{
		Timestamp: time.Now(),
		Positions: make([]PairPosition, 0, len(b.order)),
	}
	for _, p := range b.order {
		m := b.machines[p.ID()]
		a, bSize := m.Legs()
		snap.Positions = append(snap.Positions, PairPosition{
			Pair:  p,
			State: m.State(),
			SizeA: a,
			SizeB: bSize,
		})
	}
	return snap
}

// Restore 恢复快照中的状态，不发出执行请求
// 快照中的配对必须已注册；未记录腿持仓的非 Flat 状态按 stake 补齐两腿
func (b *Book) Restore(snap BookSnapshot) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, pos := range snap.Positions {
		if _, ok := b.machines[pos.Pair.ID()]; !ok {
			return fmt.Errorf("restore: %w: %s", ErrUnregisteredPair, pos.Pair.ID())
		}
	}
	for _, pos := range snap.Positions {
		m := b.machines[pos.Pair.ID()]
		if pos.SizeA.IsZero() && pos.SizeB.IsZero() {
			m.force(pos.State)
			continue
		}
		m.restore(pos.State, pos.SizeA, pos.SizeB)
	}
	return nil
}

// SaveBookSnapshot 保存快照到 dir/<name>.json
func SaveBookSnapshot(dir, name string, snap BookSnapshot) error {
	// 确保目录存在
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal book snapshot: %w", err)
	}

	filename := filepath.Join(dir, name+".json")
	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write book snapshot: %w", err)
	}
	return nil
}

// LoadBookSnapshot 读取快照，文件不存在时返回 nil, nil
func LoadBookSnapshot(dir, name string) (*BookSnapshot, error) {
	data, err := os.ReadFile(filepath.Join(dir, name+".json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read book snapshot: %w", err)
	}

	var snap BookSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal book snapshot: %w", err)
	}
	return &snap, nil
}
