package stats

import (
	"math"
)

// cancellationTol 方差相对容差，低于该值时回退到两遍精确计算
const cancellationTol = 1e-12

// Window 固定容量的滚动窗口（环形缓冲区）
// 维护平移后的累加和与平方和，均值/方差更新为 O(1)
// 无效样本（NaN/Inf/未定义比值）占据一个位置，窗口内存在无效样本时 Ready() 为 false
type Window struct {
	values  []float64
	valid   []bool
	head    int // 下一个写入位置
	count   int
	invalid int

	shift    float64 // 平移量，减小大数相消误差
	hasShift bool
	sum      float64 // Σ(x - shift)
	sumSq    float64 // Σ(x - shift)²

	// 每淘汰 cap 个元素重算一次累加和，抑制浮点漂移
	evictions int
}

// NewWindow 创建容量为 capacity 的滚动窗口
func NewWindow(capacity int) *Window {
	if capacity <= 0 {
		capacity = 1
	}
	return &Window{
		values: make([]float64, capacity),
		valid:  make([]bool, capacity),
	}
}

// Push 添加一个样本，非有限值按无效样本处理
func (w *Window) Push(value float64) {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		w.PushInvalid()
		return
	}
	w.push(value, true)
}

// PushInvalid 添加一个无效样本
func (w *Window) PushInvalid() {
	w.push(0, false)
}

func (w *Window) push(value float64, ok bool) {
	capacity := len(w.values)

	if w.count == capacity {
		w.evict()
	}

	if ok {
		if !w.hasShift {
			w.shift = value
			w.hasShift = true
		}
		d := value - w.shift
		w.sum += d
		w.sumSq += d * d
	} else {
		w.invalid++
	}

	w.values[w.head] = value
	w.valid[w.head] = ok
	w.head = (w.head + 1) % capacity
	w.count++

	if w.evictions >= capacity {
		w.resync()
	}
}

// evict 淘汰最旧的样本
func (w *Window) evict() {
	capacity := len(w.values)
	oldest := (w.head - w.count + capacity) % capacity

	if w.valid[oldest] {
		d := w.values[oldest] - w.shift
		w.sum -= d
		w.sumSq -= d * d
	} else {
		w.invalid--
	}
	w.count--
	w.evictions++
}

// resync 以窗口内最旧的有效样本为平移量重新累加
func (w *Window) resync() {
	w.evictions = 0
	w.sum = 0
	w.sumSq = 0
	w.hasShift = false

	w.each(func(v float64, ok bool) {
		if !ok {
			return
		}
		if !w.hasShift {
			w.shift = v
			w.hasShift = true
		}
		d := v - w.shift
		w.sum += d
		w.sumSq += d * d
	})
}

// each 按时间顺序遍历窗口
func (w *Window) each(fn func(v float64, ok bool)) {
	capacity := len(w.values)
	start := (w.head - w.count + capacity) % capacity
	for i := 0; i < w.count; i++ {
		idx := (start + i) % capacity
		fn(w.values[idx], w.valid[idx])
	}
}

// Len 返回窗口内样本数量（含无效样本）
func (w *Window) Len() int {
	return w.count
}

// Cap 返回窗口容量
func (w *Window) Cap() int {
	return len(w.values)
}

// Full 窗口是否已满
func (w *Window) Full() bool {
	return w.count == len(w.values)
}

// Invalid 返回窗口内无效样本数量
func (w *Window) Invalid() int {
	return w.invalid
}

// Ready 窗口已满且没有无效样本
func (w *Window) Ready() bool {
	return w.Full() && w.invalid == 0
}

// Mean 返回窗口内有效样本的均值
func (w *Window) Mean() float64 {
	n := w.count - w.invalid
	if n == 0 {
		return 0
	}
	return w.shift + w.sum/float64(n)
}

// Stats 返回窗口统计（样本方差，n-1）
func (w *Window) Stats() WindowStats {
	n := w.count - w.invalid
	if n == 0 {
		return WindowStats{}
	}

	mean := w.Mean()
	if n < 2 {
		return WindowStats{Mean: mean, Count: n}
	}

	fn := float64(n)
	variance := (w.sumSq - w.sum*w.sum/fn) / (fn - 1)
	if variance < cancellationTol*(mean*mean+1) {
		// 接近零方差时累加和存在相消误差，两遍法精确重算
		variance = w.twoPassVariance(mean)
	}
	if variance < 0 {
		variance = 0
	}

	return WindowStats{
		Mean:     mean,
		Std:      math.Sqrt(variance),
		Variance: variance,
		Count:    n,
	}
}

func (w *Window) twoPassVariance(mean float64) float64 {
	var ss float64
	n := 0
	w.each(func(v float64, ok bool) {
		if !ok {
			return
		}
		d := v - mean
		ss += d * d
		n++
	})
	if n < 2 {
		return 0
	}
	return ss / float64(n-1)
}

// Values 按时间顺序返回窗口内样本副本，无效样本为 NaN
func (w *Window) Values() []float64 {
	result := make([]float64, 0, w.count)
	w.each(func(v float64, ok bool) {
		if !ok {
			v = math.NaN()
		}
		result = append(result, v)
	})
	return result
}

// Reset 清空窗口
func (w *Window) Reset() {
	for i := range w.values {
		w.values[i] = 0
		w.valid[i] = false
	}
	w.head = 0
	w.count = 0
	w.invalid = 0
	w.shift = 0
	w.hasShift = false
	w.sum = 0
	w.sumSq = 0
	w.evictions = 0
}
