package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"ragkb/config"
	"ragkb/internal/logging"
	"ragkb/internal/metrics"
	"ragkb/internal/usecase"
)

var (
	cfgFile     string
	cfg         *config.Config
	rootDir     string
	logLevel    string
	metricsFile string

	logger    *zap.Logger
	collector *metrics.Collector
)

var rootCmd = &cobra.Command{
	Use:   "ragkb",
	Short: "Offline knowledge base with BM25 retrieval and context assembly",
	Long: `ragkb ingests local documents into a knowledge base snapshot and answers
prompts with an assembled, cited context block.

Example usage:
  ragkb ingest docs/                  # Ingest a directory
  ragkb query -q "reset a password"   # Print the assembled context
  ragkb pack -q "billing" -o ctx.json # Write the full result as JSON
  ragkb stats                         # Describe the snapshot`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error

		if rootDir == "" {
			rootDir, err = os.Getwd()
			if err != nil {
				return fmt.Errorf("failed to get working directory: %w", err)
			}
		}

		if cfgFile != "" {
			cfg, err = config.Load(cfgFile)
		} else {
			cfg, err = config.LoadFromDir(rootDir)
		}
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if logLevel != "" {
			cfg.Logging.Level = logLevel
		}

		logger, err = logging.New(cfg.Logging)
		if err != nil {
			return fmt.Errorf("failed to build logger: %w", err)
		}
		collector = metrics.NewCollector("ragkb", logger)
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if logger != nil {
			_ = logger.Sync()
		}
		if metricsFile == "" || collector == nil {
			return nil
		}
		if err := prometheus.WriteToTextfile(metricsFile, collector.Registry()); err != nil {
			return fmt.Errorf("failed to write metrics: %w", err)
		}
		return nil
	},
}

func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./rag.yaml)")
	rootCmd.PersistentFlags().StringVarP(&rootDir, "dir", "d", "", "knowledge base root (default is current directory)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override the configured log level")
	rootCmd.PersistentFlags().StringVar(&metricsFile, "metrics-file", "", "write prometheus metrics to this file on exit")
}

func GetConfig() *config.Config {
	return cfg
}

func GetRootDir() string {
	return rootDir
}

// newEngine opens the knowledge base under the root directory.
func newEngine(opts ...usecase.Option) (*usecase.Engine, error) {
	opts = append([]usecase.Option{
		usecase.WithLogger(logger),
		usecase.WithMetrics(collector),
	}, opts...)
	engine, err := usecase.NewEngine(GetRootDir(), GetConfig(), opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to open knowledge base: %w", err)
	}
	return engine, nil
}
