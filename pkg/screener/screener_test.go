package screener

import (
	"context"
	"errors"
	"hash/fnv"
	"math/rand"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/quantlink-pairs/pkg/stats"
	"github.com/yourusername/quantlink-pairs/pkg/strategy/spread"
)

var day0 = time.Date(2023, 1, 2, 0, 0, 0, 0, time.UTC)

func timestamps(n int) []time.Time {
	out := make([]time.Time, n)
	for i := range out {
		out[i] = day0.AddDate(0, 0, i)
	}
	return out
}

func walk(rng *rand.Rand, n int, start float64) []float64 {
	out := make([]float64, n)
	v := start
	for i := range out {
		v += rng.NormFloat64()
		out[i] = v
	}
	return out
}

// cointegratedUniverse: BBB = 2·AAA + 噪声，CCC、DDD 为独立随机游走
func cointegratedUniverse(seed int64, n int) Universe {
	rng := rand.New(rand.NewSource(seed))
	ts := timestamps(n)
	a := walk(rng, n, 100)
	b := make([]float64, n)
	for i := range a {
		b[i] = 2*a[i] + rng.NormFloat64()*0.5
	}
	return Universe{
		{Instrument: "AAA", Timestamps: ts, Prices: a},
		{Instrument: "BBB", Timestamps: ts, Prices: b},
		{Instrument: "CCC", Timestamps: ts, Prices: walk(rng, n, 50)},
		{Instrument: "DDD", Timestamps: ts, Prices: walk(rng, n, 80)},
	}
}

func newScreener(t *testing.T, opts Options) *Screener {
	t.Helper()
	s, err := New(opts, zerolog.Nop())
	require.NoError(t, err)
	return s
}

func TestScreen_AcceptsCointegratedPair(t *testing.T) {
	s := newScreener(t, DefaultOptions())
	result, err := s.Screen(context.Background(), cointegratedUniverse(42, 200))
	require.NoError(t, err)

	assert.Equal(t, 6, result.Evaluated)
	assert.Equal(t, 6, len(result.Pairs)+result.Rejected+len(result.Skipped))

	var found *PairCandidate
	for i := range result.Pairs {
		if result.Pairs[i].ID() == "AAA/BBB" {
			found = &result.Pairs[i]
		}
		// 方向性：只保留枚举顺序
		assert.NotEqual(t, "BBB/AAA", result.Pairs[i].ID())
	}
	require.NotNil(t, found)
	assert.Less(t, found.PValue, 0.05)
	assert.Equal(t, 200, found.Observations)
	assert.InDelta(t, 0.5, found.HedgeRatio, 0.05)
	assert.Greater(t, found.Correlation, 0.9)
}

func TestScreen_Deterministic(t *testing.T) {
	u := cointegratedUniverse(7, 250)

	opts := DefaultOptions()
	opts.Workers = 1
	serial, err := newScreener(t, opts).Screen(context.Background(), u)
	require.NoError(t, err)

	opts.Workers = 8
	for i := 0; i < 3; i++ {
		parallel, err := newScreener(t, opts).Screen(context.Background(), u)
		require.NoError(t, err)
		assert.Equal(t, serial.Pairs, parallel.Pairs)
		assert.Equal(t, serial.Rejected, parallel.Rejected)
	}
}

func hashPValue(a, b []float64) float64 {
	h := fnv.New64a()
	for _, v := range []float64{a[0], a[1], b[0], b[1]} {
		_, _ = h.Write([]byte{byte(int64(v * 1000))})
	}
	return float64(h.Sum64()%10000) / 10000
}

func TestScreen_PValuesStrictlyBelowThreshold(t *testing.T) {
	rng := rand.New(rand.NewSource(99))
	const instruments = 12
	ts := timestamps(30)

	u := make(Universe, instruments)
	for i := range u {
		u[i] = InstrumentSeries{Instrument: string(rune('A' + i)), Timestamps: ts, Prices: walk(rng, 30, float64(10*i+10))}
	}

	fake := func(a, b []float64) (stats.CointResult, error) {
		return stats.CointResult{PValue: hashPValue(a, b), NObs: len(a)}, nil
	}

	for trial := 0; trial < 50; trial++ {
		opts := DefaultOptions()
		opts.PValueThreshold = 0.001 + rng.Float64()*0.998
		result, err := newScreener(t, opts).WithTest(fake).Screen(context.Background(), u)
		require.NoError(t, err)

		for _, c := range result.Pairs {
			assert.Less(t, c.PValue, opts.PValueThreshold)
		}
		assert.Equal(t, instruments*(instruments-1)/2, len(result.Pairs)+result.Rejected)
	}
}

func TestScreen_ThresholdEqualityRejected(t *testing.T) {
	u := cointegratedUniverse(1, 40)
	fake := func(a, b []float64) (stats.CointResult, error) {
		return stats.CointResult{PValue: 0.05}, nil
	}
	result, err := newScreener(t, DefaultOptions()).WithTest(fake).Screen(context.Background(), u)
	require.NoError(t, err)
	assert.Empty(t, result.Pairs)
	assert.Equal(t, 6, result.Rejected)
}

func TestScreen_EnumerationOrder(t *testing.T) {
	u := cointegratedUniverse(3, 40)
	accept := func(a, b []float64) (stats.CointResult, error) {
		return stats.CointResult{PValue: 0.01}, nil
	}
	result, err := newScreener(t, DefaultOptions()).WithTest(accept).Screen(context.Background(), u)
	require.NoError(t, err)

	assert.Equal(t, []spread.Pair{
		{A: "AAA", B: "BBB"},
		{A: "AAA", B: "CCC"},
		{A: "AAA", B: "DDD"},
		{A: "BBB", B: "CCC"},
		{A: "BBB", B: "DDD"},
		{A: "CCC", B: "DDD"},
	}, result.OrderedPairs())
}

func TestScreen_SkipsDegenerateInputs(t *testing.T) {
	u := cointegratedUniverse(5, 60)
	flat := make([]float64, 60)
	for i := range flat {
		flat[i] = 10
	}
	u = append(u, InstrumentSeries{Instrument: "FLAT", Timestamps: u[0].Timestamps, Prices: flat})

	result, err := newScreener(t, DefaultOptions()).Screen(context.Background(), u)
	require.NoError(t, err)

	require.Len(t, result.Skipped, 4)
	for _, sp := range result.Skipped {
		assert.Equal(t, "FLAT", sp.Pair.B)
		assert.Equal(t, "constant_series", sp.Reason)
		assert.ErrorIs(t, sp.Err, ErrConstantSeries)
	}
	assert.Equal(t, 10, len(result.Pairs)+result.Rejected+len(result.Skipped))
}

func TestScreen_InsufficientHistory(t *testing.T) {
	u := cointegratedUniverse(5, 15)
	result, err := newScreener(t, DefaultOptions()).Screen(context.Background(), u)
	require.NoError(t, err)
	require.Len(t, result.Skipped, 6)
	assert.ErrorIs(t, result.Skipped[0].Err, ErrInsufficientHistory)
	assert.Equal(t, "insufficient_history", result.Skipped[0].Reason)
}

func TestScreen_RegressionFailureIsSkipped(t *testing.T) {
	u := cointegratedUniverse(5, 40)
	failing := func(a, b []float64) (stats.CointResult, error) {
		return stats.CointResult{}, stats.ErrSingularMatrix
	}
	result, err := newScreener(t, DefaultOptions()).WithTest(failing).Screen(context.Background(), u)
	require.NoError(t, err)
	require.Len(t, result.Skipped, 6)
	assert.ErrorIs(t, result.Skipped[0].Err, ErrDegenerateRegression)
	assert.Equal(t, "degenerate_regression", result.Skipped[0].Reason)
}

func TestScreen_AlignmentErrors(t *testing.T) {
	base := cointegratedUniverse(8, 30)

	short := append(Universe{}, base...)
	short[2] = InstrumentSeries{Instrument: "CCC", Timestamps: timestamps(29), Prices: base[2].Prices[:29]}

	shifted := append(Universe{}, base...)
	ts := timestamps(30)
	ts[10] = ts[10].Add(time.Hour)
	shifted[1] = InstrumentSeries{Instrument: "BBB", Timestamps: ts, Prices: base[1].Prices}

	dup := append(Universe{}, base...)
	dup[3] = InstrumentSeries{Instrument: "AAA", Timestamps: base[3].Timestamps, Prices: base[3].Prices}

	unsorted := append(Universe{}, base...)
	back := timestamps(30)
	back[5], back[6] = back[6], back[5]
	unsorted[0] = InstrumentSeries{Instrument: "AAA", Timestamps: back, Prices: base[0].Prices}

	for name, u := range map[string]Universe{
		"length mismatch":    short,
		"timestamp mismatch": shifted,
		"duplicate":          dup,
		"unsorted":           unsorted,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := newScreener(t, DefaultOptions()).Screen(context.Background(), u)
			var alignErr *AlignmentError
			require.True(t, errors.As(err, &alignErr), "got %v", err)
		})
	}
}

func TestScreen_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newScreener(t, DefaultOptions()).Screen(ctx, cointegratedUniverse(1, 50))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestScreen_SplitRatioLimitsHistory(t *testing.T) {
	var seen int
	capture := func(a, b []float64) (stats.CointResult, error) {
		seen = len(a)
		return stats.CointResult{PValue: 0.5}, nil
	}
	opts := DefaultOptions()
	opts.SplitRatio = 0.5
	opts.Workers = 1
	_, err := newScreener(t, opts).WithTest(capture).Screen(context.Background(), cointegratedUniverse(2, 101))
	require.NoError(t, err)
	assert.Equal(t, 50, seen)
}

func TestOptions_Validate(t *testing.T) {
	for _, mutate := range []func(o *Options){
		func(o *Options) { o.PValueThreshold = 0 },
		func(o *Options) { o.PValueThreshold = 1 },
		func(o *Options) { o.MinObservations = 2 },
		func(o *Options) { o.SplitRatio = 0 },
	} {
		o := DefaultOptions()
		mutate(&o)
		_, err := New(o, zerolog.Nop())
		assert.ErrorIs(t, err, ErrInvalidOptions)
	}
}

func TestUniverse_Sample(t *testing.T) {
	u := cointegratedUniverse(1, 10)
	sub := u.Sample(2, 13)
	require.Len(t, sub, 2)
	assert.Equal(t, sub, u.Sample(2, 13))

	// 保持原有顺序
	pos := map[string]int{"AAA": 0, "BBB": 1, "CCC": 2, "DDD": 3}
	assert.Less(t, pos[sub[0].Instrument], pos[sub[1].Instrument])

	assert.Len(t, u.Sample(0, 1), 4)
	assert.Len(t, u.Sample(10, 1), 4)
}

func TestSaveLoadResult(t *testing.T) {
	result := &Result{
		Pairs: []PairCandidate{
			{Pair: spread.Pair{A: "AAA", B: "BBB"}, PValue: 0.01, TestStat: -4.2, HedgeRatio: 0.5, Lag: 1, Observations: 200},
		},
		Rejected:  5,
		Evaluated: 6,
		Threshold: 0.05,
	}

	dir := t.TempDir()
	for _, name := range []string{"pairs.json", "pairs.yaml"} {
		path := filepath.Join(dir, name)
		require.NoError(t, SaveResult(path, result))
		loaded, err := LoadResult(path)
		require.NoError(t, err)
		assert.Equal(t, result.Pairs, loaded.Pairs, name)
		assert.Equal(t, result.Rejected, loaded.Rejected)
	}

	assert.Error(t, SaveResult(filepath.Join(dir, "pairs.txt"), result))
}
