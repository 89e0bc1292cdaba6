package stats

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// maxCondition X'X 条件数上限，超过视为奇异
const maxCondition = 1e15

// OLSResult 普通最小二乘回归结果
type OLSResult struct {
	Params []float64 // 回归系数，与设计矩阵列一一对应
	StdErr []float64 // 系数标准误
	SSR    float64   // 残差平方和
	NObs   int
	K      int // 回归元个数
}

// TValue 返回第 i 个系数的 t 统计量
func (r OLSResult) TValue(i int) float64 {
	return r.Params[i] / r.StdErr[i]
}

// LogLikelihood 高斯对数似然
// llf = -n/2 * (log(2π) + log(SSR/n) + 1)
func (r OLSResult) LogLikelihood() float64 {
	n := float64(r.NObs)
	return -n / 2 * (math.Log(2*math.Pi) + math.Log(r.SSR/n) + 1)
}

// AIC 赤池信息准则 -2·llf + 2k
func (r OLSResult) AIC() float64 {
	return -2*r.LogLikelihood() + 2*float64(r.K)
}

// OLS 求解 y = Xβ + ε
// 通过 X'X 的 Cholesky 分解求解正规方程，同时得到系数协方差
func OLS(y []float64, x *mat.Dense) (OLSResult, error) {
	n, k := x.Dims()
	if n != len(y) {
		return OLSResult{}, ErrLengthMismatch
	}
	if n <= k {
		return OLSResult{}, ErrSampleTooShort
	}

	var xtx mat.SymDense
	xtx.SymOuterK(1, x.T())

	var chol mat.Cholesky
	if ok := chol.Factorize(&xtx); !ok {
		return OLSResult{}, ErrSingularMatrix
	}
	if chol.Cond() > maxCondition {
		return OLSResult{}, ErrSingularMatrix
	}

	yv := mat.NewVecDense(n, y)
	var xty mat.VecDense
	xty.MulVec(x.T(), yv)

	var beta mat.VecDense
	if err := chol.SolveVecTo(&beta, &xty); err != nil {
		return OLSResult{}, ErrSingularMatrix
	}

	var fitted mat.VecDense
	fitted.MulVec(x, &beta)

	var ssr float64
	for i := 0; i < n; i++ {
		e := y[i] - fitted.AtVec(i)
		ssr += e * e
	}

	var cov mat.SymDense
	if err := chol.InverseTo(&cov); err != nil {
		return OLSResult{}, ErrSingularMatrix
	}

	sigma2 := ssr / float64(n-k)
	result := OLSResult{
		Params: make([]float64, k),
		StdErr: make([]float64, k),
		SSR:    ssr,
		NObs:   n,
		K:      k,
	}
	for i := 0; i < k; i++ {
		result.Params[i] = beta.AtVec(i)
		result.StdErr[i] = math.Sqrt(sigma2 * cov.At(i, i))
	}

	return result, nil
}
