package main

import (
	"flag"
	"fmt"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/yourusername/quantlink-pairs/pkg/logging"
	"github.com/yourusername/quantlink-pairs/pkg/marketdata"
	"github.com/yourusername/quantlink-pairs/pkg/screener"
)

var (
	instruments = flag.Int("instruments", 6, "Number of instruments")
	pairs       = flag.Int("pairs", 2, "How many cointegrated pairs to plant (2 instruments each)")
	bars        = flag.Int("bars", 2000, "Bars per instrument")
	startDate   = flag.String("start", "2026-01-05 09:00", "First bar time (YYYY-MM-DD HH:MM)")
	interval    = flag.Duration("interval", time.Minute, "Bar interval")
	seed        = flag.Int64("seed", 42, "Random seed")
	output      = flag.String("output", "./data/test_data.csv", "Output wide CSV")
)

func main() {
	flag.Parse()
	logger := logging.Component(logging.New("info", "console"), "mock_data")

	if *pairs*2 > *instruments {
		logger.Fatal().Int("pairs", *pairs).Int("instruments", *instruments).Msg("not enough instruments for the planted pairs")
	}
	start, err := marketdata.ParseTime(*startDate)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid start time")
	}

	rng := rand.New(rand.NewSource(*seed))
	ts := make([]time.Time, *bars)
	for i := range ts {
		ts[i] = start.Add(time.Duration(i) * *interval)
	}

	u := make(screener.Universe, 0, *instruments)
	for p := 0; p < *pairs; p++ {
		beta := 0.5 + rng.Float64()*1.5
		b := logRandomWalk(rng, *bars, 50+rng.Float64()*100)
		a := make([]float64, *bars)
		noise := 0.0
		for i := range a {
			// AR(1) 残差，系数 0.9
			noise = 0.9*noise + rng.NormFloat64()*0.5
			a[i] = beta*b[i] + 5 + noise
		}
		nameA, nameB := fmt.Sprintf("SYN%02d", 2*p), fmt.Sprintf("SYN%02d", 2*p+1)
		u = append(u,
			screener.InstrumentSeries{Instrument: nameA, Timestamps: ts, Prices: a},
			screener.InstrumentSeries{Instrument: nameB, Timestamps: ts, Prices: b},
		)
		logger.Info().Str("a", nameA).Str("b", nameB).Float64("beta", beta).Msg("planted cointegrated pair")
	}
	for i := 2 * *pairs; i < *instruments; i++ {
		u = append(u, screener.InstrumentSeries{
			Instrument: fmt.Sprintf("SYN%02d", i),
			Timestamps: ts,
			Prices:     logRandomWalk(rng, *bars, 50+rng.Float64()*100),
		})
	}

	if dir := filepath.Dir(*output); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			logger.Fatal().Err(err).Msg("failed to create output directory")
		}
	}
	f, err := os.Create(*output)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create output")
	}
	if err := marketdata.WriteWideCSV(f, u); err != nil {
		f.Close()
		logger.Fatal().Err(err).Msg("failed to write data")
	}
	if err := f.Close(); err != nil {
		logger.Fatal().Err(err).Msg("failed to close output")
	}

	logger.Info().Str("path", *output).Int("instruments", len(u)).Int("bars", *bars).Msg("mock data generated")
}

// logRandomWalk 对数收益 N(0, 0.2%) 的价格随机游走
func logRandomWalk(rng *rand.Rand, n int, start float64) []float64 {
	out := make([]float64, n)
	logp := math.Log(start)
	for i := range out {
		logp += rng.NormFloat64() * 0.002
		out[i] = math.Exp(logp)
	}
	return out
}
