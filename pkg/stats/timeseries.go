// Package stats 配对筛选与价差计算用到的统计工具：均值方差、OLS、ADF、协整检验
package stats

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// MinStd 标准差下限，不超过该值视为零方差
const MinStd = 1e-10

// WindowStats 滚动窗口统计结果
type WindowStats struct {
	Mean     float64
	Std      float64
	Variance float64
	Count    int
}

// Mean 均值，空序列为 0
func Mean(data []float64) float64 {
	if len(data) == 0 {
		return 0
	}
	return stat.Mean(data, nil)
}

// SampleVariance 样本方差（n-1），少于两个点为 0
func SampleVariance(data []float64) float64 {
	if len(data) < 2 {
		return 0
	}
	return stat.Variance(data, nil)
}

// SampleStdDev 样本标准差
func SampleStdDev(data []float64) float64 {
	return math.Sqrt(SampleVariance(data))
}

// Correlation Pearson 相关系数；长度不一致、空序列或任一侧零方差时为 0
func Correlation(x, y []float64) float64 {
	if len(x) != len(y) || len(x) < 2 || IsConstant(x) || IsConstant(y) {
		return 0
	}
	r := stat.Correlation(x, y, nil)
	if math.IsNaN(r) {
		return 0
	}
	return r
}

// LinearRegression y = slope*x + intercept 的最小二乘拟合
// x 为常数时斜率取 0，截距取 y 的均值
func LinearRegression(x, y []float64) (slope, intercept float64) {
	if len(x) != len(y) || len(x) == 0 {
		return 0, 0
	}
	if IsConstant(x) {
		return 0, Mean(y)
	}
	intercept, slope = stat.LinearRegression(x, y, nil, false)
	return slope, intercept
}

// IsConstant 序列是否全部相等，空序列视为常数
func IsConstant(data []float64) bool {
	for _, v := range data {
		if v != data[0] {
			return false
		}
	}
	return true
}

// Finite 是否不含 NaN 与 Inf
func Finite(data []float64) bool {
	for _, v := range data {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
