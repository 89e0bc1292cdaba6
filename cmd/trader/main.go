package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/yourusername/quantlink-pairs/pkg/client"
	"github.com/yourusername/quantlink-pairs/pkg/config"
	"github.com/yourusername/quantlink-pairs/pkg/logging"
	"github.com/yourusername/quantlink-pairs/pkg/metrics"
	"github.com/yourusername/quantlink-pairs/pkg/screener"
	"github.com/yourusername/quantlink-pairs/pkg/trader"
)

const (
	appName    = "PairTrader"
	appVersion = "1.0.0"
)

var (
	configFile = flag.String("config", "", "Configuration file path (YAML, optional)")
	pairsFile  = flag.String("pairs", "", "Screening result (.json/.yaml) with the pairs to trade (overrides config)")
	natsURL    = flag.String("nats", "", "NATS server URL (overrides config)")
	health     = flag.String("health", "", "Query the gRPC health service at this address and exit")
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
	if *health != "" {
		os.Exit(runHealthCheck(*health))
	}

	config.LoadDotEnv()
	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(2)
	}
	if *pairsFile != "" {
		cfg.Data.PairsFile = *pairsFile
	}
	if *natsURL != "" {
		cfg.Engine.NATSURL = *natsURL
	}

	logger := logging.Component(logging.New(cfg.Logging.Level, cfg.Logging.Format), "trader")
	if err := run(cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("trader stopped with error")
	}
	logger.Info().Msg("trader stopped")
}

func run(cfg *config.Config, logger zerolog.Logger) error {
	if cfg.Data.PairsFile == "" {
		return fmt.Errorf("no pairs file given, use -pairs or data.pairsFile")
	}
	screening, err := screener.LoadResult(cfg.Data.PairsFile)
	if err != nil {
		return err
	}
	pairs := screening.OrderedPairs()
	if len(pairs) == 0 {
		return fmt.Errorf("screening result %s has no pairs", cfg.Data.PairsFile)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Metrics.Addr != "" {
		srv := metrics.Serve(cfg.Metrics.Addr)
		defer srv.Close()
		logger.Info().Str("addr", cfg.Metrics.Addr).Msg("metrics endpoint started")
	}

	grpcServer, healthServer := client.NewHealthServer()
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	if cfg.Engine.HealthAddr != "" {
		lis, err := net.Listen("tcp", cfg.Engine.HealthAddr)
		if err != nil {
			return fmt.Errorf("failed to listen on %s: %w", cfg.Engine.HealthAddr, err)
		}
		go func() {
			if err := grpcServer.Serve(lis); err != nil {
				logger.Error().Err(err).Msg("health server stopped")
			}
		}()
		defer grpcServer.GracefulStop()
		logger.Info().Str("addr", cfg.Engine.HealthAddr).Msg("health service started")
	}

	conn, err := client.ConnectNATS(cfg.Engine.NATSURL, appName, logger)
	if err != nil {
		return err
	}
	defer conn.Drain()

	tr, err := trader.NewTrader(cfg, pairs, conn, logger)
	if err != nil {
		return err
	}

	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	defer healthServer.Shutdown()

	logger.Info().Int("pairs", len(pairs)).Msg("press Ctrl+C to stop")
	return tr.Run(ctx)
}

func runHealthCheck(addr string) int {
	hc, err := client.DialHealth(addr)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer hc.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	status, err := hc.Check(ctx, "")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	fmt.Println(status.String())
	if status != healthpb.HealthCheckResponse_SERVING {
		return 1
	}
	return 0
}

func printHelp() {
	fmt.Printf("Usage: %s [options]\n\n", os.Args[0])
	fmt.Println("Trades screened pairs live: bars from NATS, position requests to NATS.")
	fmt.Println("Control API (engine.apiAddr): /api/v1/pairs, /api/v1/pairs/flatten, /api/v1/ws")
	fmt.Println("\nOptions:")
	flag.PrintDefaults()
	fmt.Println("\nExamples:")
	fmt.Println("  trader -config pairs.yaml -pairs out/pairs.yaml")
	fmt.Println("  trader -health localhost:50051")
}
