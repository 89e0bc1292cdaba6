package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/yourusername/quantlink-pairs/pkg/config"
	"github.com/yourusername/quantlink-pairs/pkg/logging"
	"github.com/yourusername/quantlink-pairs/pkg/marketdata"
	"github.com/yourusername/quantlink-pairs/pkg/screener"
)

const (
	appName    = "PairScreen"
	appVersion = "1.0.0"
)

var (
	configFile = flag.String("config", "", "Configuration file path (YAML, optional)")
	dataPath   = flag.String("data", "", "Wide CSV (datetime,<instrument>...) or directory of per-instrument CSVs (overrides config)")
	outFile    = flag.String("out", "", "Write the screening result to this .json/.yaml file (overrides config)")
	pValue     = flag.Float64("p-value", 0, "P-value threshold (overrides config)")
	sample     = flag.Int("sample", -1, "Screen a random subset of N instruments (overrides config)")
	seed       = flag.Int64("seed", 0, "Seed for -sample (overrides config)")
	workers    = flag.Int("workers", 0, "Concurrent pair tests (overrides config)")
	version    = flag.Bool("version", false, "Print version and exit")
	help       = flag.Bool("help", false, "Print help and exit")
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
	applyOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(2)
	}

	logger := logging.Component(logging.New(cfg.Logging.Level, cfg.Logging.Format), "pairscreen")

	if cfg.Data.PricesFile == "" {
		logger.Fatal().Msg("no price data given, use -data or data.pricesFile")
	}

	universe, err := marketdata.Load(cfg.Data.PricesFile, logger)
	if err != nil {
		logger.Fatal().Err(err).Str("path", cfg.Data.PricesFile).Msg("failed to load price data")
	}
	if cfg.Screening.Sample > 0 {
		universe = universe.Sample(cfg.Screening.Sample, cfg.Screening.Seed)
		logger.Info().
			Int("sample", len(universe)).
			Int64("seed", cfg.Screening.Seed).
			Strs("instruments", universe.Instruments()).
			Msg("screening random subset")
	}

	scr, err := screener.New(cfg.ScreenerOptions(), logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create screener")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	result, err := scr.Screen(ctx, universe)
	if err != nil {
		logger.Fatal().Err(err).Msg("screening failed")
	}

	printResult(result)

	if cfg.Data.PairsFile != "" {
		if err := screener.SaveResult(cfg.Data.PairsFile, result); err != nil {
			logger.Fatal().Err(err).Msg("failed to save result")
		}
		logger.Info().Str("path", cfg.Data.PairsFile).Msg("result saved")
	}
}

func applyOverrides(cfg *config.Config) {
	if *dataPath != "" {
		cfg.Data.PricesFile = *dataPath
	}
	if *outFile != "" {
		cfg.Data.PairsFile = *outFile
	}
	if *pValue > 0 {
		cfg.Screening.PValueThreshold = *pValue
	}
	if *sample >= 0 {
		cfg.Screening.Sample = *sample
	}
	if *seed != 0 {
		cfg.Screening.Seed = *seed
	}
	if *workers > 0 {
		cfg.Screening.Workers = *workers
	}
}

func printResult(result *screener.Result) {
	fmt.Printf("Evaluated %d ordered pairs, %d accepted (p < %g), %d rejected, %d skipped\n\n",
		result.Evaluated, len(result.Pairs), result.Threshold, result.Rejected, len(result.Skipped))

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "A\tB\tp-value\tt-stat\thedge\tcorr")
	for _, c := range result.Pairs {
		fmt.Fprintf(w, "%s\t%s\t%.6f\t%.4f\t%.4f\t%.4f\n",
			c.A, c.B, c.PValue, c.TestStat, c.HedgeRatio, c.Correlation)
	}
	_ = w.Flush()

	for _, s := range result.Skipped {
		fmt.Printf("skipped %s: %s\n", s.Pair.ID(), s.Reason)
	}
}

func printHelp() {
	fmt.Printf("Usage: %s [options]\n\n", os.Args[0])
	fmt.Println("Finds cointegrated instrument pairs (Engle-Granger, p < threshold).")
	fmt.Println("\nOptions:")
	flag.PrintDefaults()
	fmt.Println("\nExamples:")
	fmt.Println("  # Screen every ordered pair and save the result")
	fmt.Println("  pairscreen -data test_data.csv -out pairs.yaml")
	fmt.Println()
	fmt.Println("  # Feasibility run on 20 random instruments")
	fmt.Println("  pairscreen -data ./k_data -sample 20 -seed 7")
}
