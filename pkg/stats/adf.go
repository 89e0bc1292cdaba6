package stats

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// ADFResult 增广 Dickey-Fuller 检验结果
type ADFResult struct {
	Stat   float64 // 水平项系数的 t 统计量
	Lag    int     // AIC 选出的差分滞后阶数
	MaxLag int
	NObs   int // 最终回归使用的样本数
}

// DefaultMaxLag Schwert 准则 ceil(12·(n/100)^(1/4))，并限制在 n/2-1 以内
func DefaultMaxLag(nobs int) int {
	maxLag := int(math.Ceil(12 * math.Pow(float64(nobs)/100, 0.25)))
	if limit := nobs/2 - 1; limit < maxLag {
		maxLag = limit
	}
	return maxLag
}

// ADF 对序列做无常数项、无趋势项的 ADF 检验
//
//	Δx_t = γ·x_{t-1} + Σ φ_i·Δx_{t-i} + ε_t
//
// maxLag < 0 时使用 DefaultMaxLag。滞后阶数在 0..maxLag 中按 AIC 选择，
// 所有候选在同一样本上拟合，选定后在最长可用样本上重新回归。
func ADF(x []float64, maxLag int) (ADFResult, error) {
	if !Finite(x) {
		return ADFResult{}, ErrNonFinite
	}
	if maxLag < 0 {
		maxLag = DefaultMaxLag(len(x))
	}
	if maxLag < 0 || len(x) < 3 {
		return ADFResult{}, ErrSampleTooShort
	}

	diff := make([]float64, len(x)-1)
	for i := range diff {
		diff[i] = x[i+1] - x[i]
	}

	bestLag := -1
	bestAIC := math.Inf(1)
	for lag := 0; lag <= maxLag; lag++ {
		y, design, ok := adfDesign(x, diff, lag, maxLag)
		if !ok {
			break
		}
		res, err := OLS(y, design)
		if err != nil {
			continue
		}
		if aic := res.AIC(); aic < bestAIC || bestLag < 0 {
			bestAIC = aic
			bestLag = lag
		}
	}
	if bestLag < 0 {
		return ADFResult{}, ErrSampleTooShort
	}

	y, design, ok := adfDesign(x, diff, bestLag, bestLag)
	if !ok {
		return ADFResult{}, ErrSampleTooShort
	}
	res, err := OLS(y, design)
	if err != nil {
		return ADFResult{}, err
	}

	stat := res.TValue(0)
	if math.IsNaN(stat) {
		return ADFResult{}, ErrNonFinite
	}

	return ADFResult{
		Stat:   stat,
		Lag:    bestLag,
		MaxLag: maxLag,
		NObs:   res.NObs,
	}, nil
}

// adfDesign 构造 ADF 回归的因变量与设计矩阵
// 第 0 列为 x_{t-1}，第 j 列为 Δx_{t-j}；样本从 diff 下标 start 开始
// 自由度不足时返回 ok=false
func adfDesign(x, diff []float64, lags, start int) ([]float64, *mat.Dense, bool) {
	rows := len(diff) - start
	cols := lags + 1
	if rows <= cols {
		return nil, nil, false
	}

	y := make([]float64, rows)
	design := mat.NewDense(rows, cols, nil)
	for i := 0; i < rows; i++ {
		t := start + i
		y[i] = diff[t]
		design.Set(i, 0, x[t])
		for j := 1; j <= lags; j++ {
			design.Set(i, j, diff[t-j])
		}
	}
	return y, design, true
}
