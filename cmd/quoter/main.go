package main

import (
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	// A missing .env is fine; env vars and flags still apply.
	_ = godotenv.Load()

	root := &cobra.Command{
		Use:          "quoter",
		Short:        "Multi-venue DEX quote aggregator",
		SilenceUsage: true,
	}

	flags := root.PersistentFlags()
	flags.String("config", "", "config file path")
	flags.String("rpc", "", "EVM RPC URL")
	flags.Int64("chain-id", 0, "expected chain id, 0 skips the check")
	flags.Float64("rpc-rate-limit", 25, "max RPC requests per second")
	flags.Int("rpc-burst", 10, "RPC rate limiter burst")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	flags.String("catalog", "static", "pool catalog (static, discovered)")
	flags.Duration("catalog-ttl", 10*time.Minute, "discovered pool cache TTL")
	flags.Bool("prune-empty", false, "drop discovered pools with zero liquidity")
	flags.Int("max-in-flight", 16, "max concurrent quote attempts")
	flags.Int("max-attempts", 256, "max quote attempts per request")
	flags.Duration("attempt-timeout", 3*time.Second, "per-attempt timeout")
	flags.Duration("retry-backoff", 200*time.Millisecond, "delay before retrying a transport failure")
	flags.Int("max-hops", 3, "max swaps per path (1-3)")
	flags.StringSlice("intermediates", nil, "intermediate tokens for multi-hop paths (comma-separated)")
	flags.Bool("price-impact", true, "measure price impact with a reference-size requote")
	flags.Int64("impact-probe-bps", 10, "reference size in bps of the input amount")
	flags.Bool("split", false, "allow splitting across the two best paths")
	flags.String("split-tolerance", "0.005", "max relative output gap for split routing")
	flags.Int("split-steps", 20, "split increments")
	flags.String("report-out", "", "append route reports to this JSONL file")
	flags.String("pg-dsn", "", "Postgres DSN for pool cache and quote snapshots")

	quoteCmd := &cobra.Command{
		Use:   "quote",
		Short: "Find the best route for one swap",
		RunE:  runQuote,
	}
	quoteCmd.Flags().String("in", "", "input token address or 'native'")
	quoteCmd.Flags().String("out", "", "output token address or 'native'")
	quoteCmd.Flags().String("amount", "", "input amount in raw base units")
	quoteCmd.Flags().String("units", "", "input amount in whole tokens, e.g. 1.5")
	quoteCmd.Flags().Int64("slippage-bps", 50, "slippage for the minimum output")
	root.AddCommand(quoteCmd)

	poolsCmd := &cobra.Command{
		Use:   "pools",
		Short: "List catalog pools for a token pair",
		RunE:  runPools,
	}
	poolsCmd.Flags().String("a", "", "first token address")
	poolsCmd.Flags().String("b", "", "second token address")
	root.AddCommand(poolsCmd)

	tokensCmd := &cobra.Command{
		Use:   "tokens [address...]",
		Short: "Resolve token metadata; without arguments lists configured tokens",
		RunE:  runTokens,
	}
	tokensCmd.Flags().Bool("refresh", false, "refetch metadata even when cached")
	root.AddCommand(tokensCmd)

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve quotes over HTTP",
		RunE:  runServe,
	}
	serveCmd.Flags().String("listen", ":8080", "HTTP listen address")
	serveCmd.Flags().Float64("api-rate-limit", 20, "per-client requests per second, 0 disables")
	serveCmd.Flags().Int("api-burst", 40, "per-client burst")
	serveCmd.Flags().Duration("request-timeout", 10*time.Second, "per-request deadline")
	root.AddCommand(serveCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}
