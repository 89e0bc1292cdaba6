package stats

import "math"

// collinearTol 拟合优度高于 1-collinearTol 时视为完全共线
var collinearTol = 100 * math.Sqrt(2.220446049250313e-16)

// CointResult Engle-Granger 协整检验结果
type CointResult struct {
	Stat       float64 // 残差 ADF 统计量，完全共线时为 -Inf
	PValue     float64
	Lag        int
	NObs       int
	HedgeRatio float64 // y 对 x 回归斜率
	Intercept  float64
	RSquared   float64
	Collinear  bool
}

// EngleGranger 两步法协整检验
// 1. y 对 [1, x] 做 OLS；2. 残差做无常数 ADF，AIC 选择滞后阶数；
// p 值取 MacKinnon 含常数项 N=2 曲面
func EngleGranger(y, x []float64) (CointResult, error) {
	if len(y) != len(x) {
		return CointResult{}, ErrLengthMismatch
	}
	if !Finite(y) || !Finite(x) {
		return CointResult{}, ErrNonFinite
	}
	if len(y) < 3 {
		return CointResult{}, ErrSampleTooShort
	}
	if IsConstant(y) || IsConstant(x) {
		return CointResult{}, ErrConstantSeries
	}

	slope, intercept := LinearRegression(x, y)

	meanY := Mean(y)
	resid := make([]float64, len(y))
	var ssr, tss float64
	for i := range y {
		resid[i] = y[i] - (slope*x[i] + intercept)
		ssr += resid[i] * resid[i]
		d := y[i] - meanY
		tss += d * d
	}
	rsq := 1 - ssr/tss
	if math.IsNaN(rsq) || math.IsInf(slope, 0) || math.IsNaN(slope) {
		return CointResult{}, ErrSingularMatrix
	}

	result := CointResult{
		HedgeRatio: slope,
		Intercept:  intercept,
		RSquared:   rsq,
		NObs:       len(y),
	}

	if rsq >= 1-collinearTol {
		result.Collinear = true
		result.Stat = math.Inf(-1)
		result.PValue = 0
		return result, nil
	}

	adf, err := ADF(resid, -1)
	if err != nil {
		return CointResult{}, err
	}
	if math.IsInf(adf.Stat, 0) {
		return CointResult{}, ErrNonFinite
	}

	result.Stat = adf.Stat
	result.Lag = adf.Lag
	result.PValue = CointPValue(adf.Stat)
	return result, nil
}
