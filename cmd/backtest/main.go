package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/yourusername/quantlink-pairs/pkg/backtest"
	"github.com/yourusername/quantlink-pairs/pkg/config"
	"github.com/yourusername/quantlink-pairs/pkg/logging"
	"github.com/yourusername/quantlink-pairs/pkg/marketdata"
	"github.com/yourusername/quantlink-pairs/pkg/metrics"
	"github.com/yourusername/quantlink-pairs/pkg/screener"
	"github.com/yourusername/quantlink-pairs/pkg/strategy/spread"
)

const (
	appName    = "PairBacktest"
	appVersion = "1.0.0"
)

var (
	configFile  = flag.String("config", "", "Configuration file path (YAML, optional)")
	dataPath    = flag.String("data", "", "Price data: wide CSV or directory (overrides config)")
	pairsFile   = flag.String("pairs", "", "Screening result (.json/.yaml); screened from the data when missing (overrides config)")
	reportFile  = flag.String("report", "", "Write the JSON run report here (overrides config)")
	signalsFile = flag.String("signals", "", "Write the per-bar signal stream as CSV")
	markdown    = flag.String("markdown", "", "Write a markdown report")
	metricsAddr = flag.String("metrics", "", "Serve /metrics on this address during the run")
	progress    = flag.Int("progress", 1000, "Log progress every N bars (0 disables)")
	version     = flag.Bool("version", false, "Print version and exit")
	help        = flag.Bool("help", false, "Print help and exit")
)

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("%s version %s\n", appName, appVersion)
		os.Exit(0)
	}
	if *help {
		printHelp()
		os.Exit(0)
	}

	config.LoadDotEnv()
	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(2)
	}
	if *dataPath != "" {
		cfg.Data.PricesFile = *dataPath
	}
	if *pairsFile != "" {
		cfg.Data.PairsFile = *pairsFile
	}
	if *reportFile != "" {
		cfg.Data.ReportFile = *reportFile
	}

	logger := logging.Component(logging.New(cfg.Logging.Level, cfg.Logging.Format), "backtest_main")

	classifier, err := cfg.Classifier()
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid thresholds")
	}
	if cfg.Data.PricesFile == "" {
		logger.Fatal().Msg("no price data given, use -data or data.pricesFile")
	}

	if *metricsAddr != "" {
		srv := metrics.Serve(*metricsAddr)
		defer srv.Close()
		logger.Info().Str("addr", *metricsAddr).Msg("metrics endpoint started")
	}

	universe, err := marketdata.Load(cfg.Data.PricesFile, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load price data")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pairs, err := loadPairs(ctx, cfg, universe, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to obtain pairs")
	}
	if len(pairs) == 0 {
		logger.Warn().Msg("no cointegrated pairs, nothing to replay")
		return
	}

	runner := backtest.NewRunner(backtest.Config{
		Engine:        cfg.EngineConfig(),
		Classifier:    classifier,
		Broker:        cfg.BrokerOptions(),
		ProgressEvery: *progress,
	}, logger)

	result, err := runner.Run(ctx, universe, pairs)
	if err != nil {
		logger.Fatal().Err(err).Msg("backtest failed")
	}

	backtest.PrintSummary(os.Stdout, result)

	if cfg.Data.ReportFile != "" {
		if err := backtest.SaveResult(cfg.Data.ReportFile, result); err != nil {
			logger.Error().Err(err).Msg("failed to save report")
		} else {
			logger.Info().Str("path", cfg.Data.ReportFile).Msg("report saved")
		}
	}
	if *signalsFile != "" {
		if err := writeFile(*signalsFile, func(f *os.File) error { return backtest.WriteSignalsCSV(f, result) }); err != nil {
			logger.Error().Err(err).Msg("failed to write signals")
		}
	}
	if *markdown != "" {
		if err := writeFile(*markdown, func(f *os.File) error { backtest.WriteMarkdown(f, result); return nil }); err != nil {
			logger.Error().Err(err).Msg("failed to write markdown report")
		}
	}
}

// loadPairs 优先读取已保存的筛选结果，文件不存在时在样本内区间重新筛选
func loadPairs(ctx context.Context, cfg *config.Config, u screener.Universe, logger zerolog.Logger) ([]spread.Pair, error) {
	if cfg.Data.PairsFile != "" {
		result, err := screener.LoadResult(cfg.Data.PairsFile)
		if err == nil {
			logger.Info().Str("path", cfg.Data.PairsFile).Int("pairs", len(result.Pairs)).Msg("loaded screening result")
			return result.OrderedPairs(), nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		logger.Info().Str("path", cfg.Data.PairsFile).Msg("screening result not found, screening now")
	}

	scr, err := screener.New(cfg.ScreenerOptions(), logger)
	if err != nil {
		return nil, err
	}
	result, err := scr.Screen(ctx, u)
	if err != nil {
		return nil, err
	}
	if cfg.Data.PairsFile != "" {
		if err := screener.SaveResult(cfg.Data.PairsFile, result); err != nil {
			logger.Warn().Err(err).Msg("failed to save screening result")
		}
	}
	return result.OrderedPairs(), nil
}

func writeFile(path string, write func(f *os.File) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func printHelp() {
	fmt.Printf("Usage: %s [options]\n\n", os.Args[0])
	fmt.Println("Replays price history through the ratio z-score pair engine with a paper executor.")
	fmt.Println("\nOptions:")
	flag.PrintDefaults()
	fmt.Println("\nExamples:")
	fmt.Println("  # Screen, replay and write reports")
	fmt.Println("  backtest -data test_data.csv -pairs pairs.yaml -report out/result.json -signals out/signals.csv")
}
