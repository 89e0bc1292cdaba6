package stats

import (
	"math"

	"gonum.org/v1/gonum/stat/distuv"
)

// MacKinnon (2010) 近似渐近 p 值曲面，含常数项，N=2（协整检验的两个序列）
// p = Φ(c0 + c1·τ + c2·τ² [+ c3·τ³])
const (
	cointTauMax  = 0.92
	cointTauMin  = -18.86
	cointTauStar = -2.62
)

var (
	cointSmallP = [...]float64{2.92, 1.5012, 3.9796e-2}
	cointLargeP = [...]float64{2.1945, 6.4695e-1, -2.9198e-1, -4.2377e-2}
)

// CointPValue 将 Engle-Granger 残差 ADF 统计量转换为渐近 p 值
func CointPValue(tau float64) float64 {
	switch {
	case math.IsNaN(tau):
		return math.NaN()
	case tau > cointTauMax:
		return 1
	case tau < cointTauMin:
		return 0
	}

	coefs := cointLargeP[:]
	if tau <= cointTauStar {
		coefs = cointSmallP[:]
	}
	return distuv.UnitNormal.CDF(polyval(coefs, tau))
}

// polyval 按升幂系数计算多项式（Horner）
func polyval(coefs []float64, x float64) float64 {
	var v float64
	for i := len(coefs) - 1; i >= 0; i-- {
		v = v*x + coefs[i]
	}
	return v
}
