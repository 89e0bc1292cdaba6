package stats

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func randomWalk(rng *rand.Rand, n int, start float64) []float64 {
	out := make([]float64, n)
	v := start
	for i := range out {
		v += rng.NormFloat64()
		out[i] = v
	}
	return out
}

func TestOLS_RecoversCoefficients(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	const n = 400
	design := mat.NewDense(n, 2, nil)
	y := make([]float64, n)
	for i := 0; i < n; i++ {
		x := rng.NormFloat64() * 3
		design.Set(i, 0, 1)
		design.Set(i, 1, x)
		y[i] = 1.5 + 0.75*x + rng.NormFloat64()*0.1
	}

	res, err := OLS(y, design)
	require.NoError(t, err)
	assert.InDelta(t, 1.5, res.Params[0], 0.05)
	assert.InDelta(t, 0.75, res.Params[1], 0.02)
	assert.Greater(t, res.StdErr[1], 0.0)
	assert.Less(t, res.StdErr[1], 0.01)
	assert.Equal(t, n, res.NObs)
	assert.False(t, math.IsNaN(res.AIC()))
}

func TestOLS_Errors(t *testing.T) {
	design := mat.NewDense(4, 2, []float64{
		1, 2,
		1, 2,
		1, 2,
		1, 2,
	})
	_, err := OLS([]float64{1, 2, 3, 4}, design)
	assert.ErrorIs(t, err, ErrSingularMatrix)

	_, err = OLS([]float64{1, 2, 3}, design)
	assert.ErrorIs(t, err, ErrLengthMismatch)

	_, err = OLS([]float64{1, 2}, mat.NewDense(2, 2, []float64{1, 0, 0, 1}))
	assert.ErrorIs(t, err, ErrSampleTooShort)
}

func TestCointPValue(t *testing.T) {
	// 渐近 5% 临界值附近
	assert.InDelta(t, 0.05, CointPValue(-3.3377), 0.003)

	assert.Equal(t, 1.0, CointPValue(1.5))
	assert.Equal(t, 0.0, CointPValue(-25))
	assert.Equal(t, 0.0, CointPValue(math.Inf(-1)))
	assert.True(t, math.IsNaN(CointPValue(math.NaN())))

	// 分段曲面在 tau* 处连续
	below := CointPValue(cointTauStar - 1e-9)
	above := CointPValue(cointTauStar + 1e-9)
	assert.InDelta(t, below, above, 2e-3)

	// 单调递增
	prev := 0.0
	for tau := -10.0; tau <= 0.9; tau += 0.05 {
		p := CointPValue(tau)
		assert.GreaterOrEqual(t, p, prev, "tau=%v", tau)
		prev = p
	}
}

func TestDefaultMaxLag(t *testing.T) {
	assert.Equal(t, 15, DefaultMaxLag(200))
	assert.Equal(t, 12, DefaultMaxLag(100))
	// 短序列受 n/2-1 约束
	assert.Equal(t, 9, DefaultMaxLag(20))
	assert.Equal(t, 1, DefaultMaxLag(4))
}

func TestADF_StationaryVersusRandomWalk(t *testing.T) {
	rng := rand.New(rand.NewSource(11))

	noise := make([]float64, 300)
	for i := range noise {
		noise[i] = rng.NormFloat64()
	}
	res, err := ADF(noise, -1)
	require.NoError(t, err)
	assert.Less(t, res.Stat, -4.0)
	assert.GreaterOrEqual(t, res.Lag, 0)
	assert.LessOrEqual(t, res.Lag, res.MaxLag)
	assert.Equal(t, len(noise)-1-res.Lag, res.NObs)

	_, err = ADF([]float64{1, math.NaN(), 2}, -1)
	assert.ErrorIs(t, err, ErrNonFinite)
}

func TestEngleGranger_CointegratedPair(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	a := randomWalk(rng, 200, 100)
	b := make([]float64, len(a))
	for i := range a {
		b[i] = 2*a[i] + rng.NormFloat64()*0.5
	}

	res, err := EngleGranger(a, b)
	require.NoError(t, err)
	assert.Less(t, res.PValue, 0.05)
	assert.InDelta(t, 0.5, res.HedgeRatio, 0.05)
	assert.Equal(t, 200, res.NObs)
}

func TestEngleGranger_DivergingPair(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	a := randomWalk(rng, 200, 100)
	b := make([]float64, len(a))
	for i := range a {
		ti := float64(i)
		b[i] = a[i] + 0.05*ti*ti
	}

	res, err := EngleGranger(a, b)
	require.NoError(t, err)
	assert.Greater(t, res.PValue, 0.05)
	assert.LessOrEqual(t, res.PValue, 1.0)
}

func TestEngleGranger_Collinear(t *testing.T) {
	a := []float64{1, 3, 2, 5, 4, 6, 8, 7, 9, 12, 10, 11, 13, 15, 14, 16, 18, 17, 19, 20}
	b := make([]float64, len(a))
	for i := range a {
		b[i] = 3*a[i] - 2
	}

	res, err := EngleGranger(b, a)
	require.NoError(t, err)
	assert.True(t, res.Collinear)
	assert.Equal(t, 0.0, res.PValue)
	assert.True(t, math.IsInf(res.Stat, -1))
	assert.InDelta(t, 3.0, res.HedgeRatio, 1e-9)
}

func TestEngleGranger_Errors(t *testing.T) {
	_, err := EngleGranger([]float64{1, 2, 3}, []float64{1, 2})
	assert.ErrorIs(t, err, ErrLengthMismatch)

	_, err = EngleGranger([]float64{1, 2, 3, 4}, []float64{5, 5, 5, 5})
	assert.ErrorIs(t, err, ErrConstantSeries)

	_, err = EngleGranger([]float64{1, math.Inf(1), 3}, []float64{1, 2, 3})
	assert.ErrorIs(t, err, ErrNonFinite)
}

func TestEngleGranger_Deterministic(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	a := randomWalk(rng, 150, 50)
	b := randomWalk(rng, 150, 80)

	first, err := EngleGranger(a, b)
	require.NoError(t, err)
	second, err := EngleGranger(a, b)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}
