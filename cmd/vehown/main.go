package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"cityflow/vehown/config"
	"cityflow/vehown/model"
	"cityflow/vehown/pipeline"
	"cityflow/vehown/services"
)

var (
	verbose bool
	logger  *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "vehown",
	Short: "Household vehicle ownership model",
	Long: `vehown prepares accessibility, density and demographic covariates for
households and applies a fitted count model to predict vehicles per household,
optionally aggregated to traffic analysis zones.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg := zap.NewProductionConfig()
		if verbose {
			cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = cfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

var preprocessCmd = &cobra.Command{
	Use:   "preprocess <setup.yml>",
	Short: "Build covariate tables and assemble model inputs",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadPreprocess(args[0])
		if err != nil {
			return err
		}
		runner := pipeline.NewRunner(logger, services.NewMetrics())
		defer writeMetrics(runner, cfg.MetricsFile)
		return runner.Run(cmd.Context(), pipeline.PreprocessStages(cfg, logger))
	},
}

var applyCmd = &cobra.Command{
	Use:   "apply <setup.yml>",
	Short: "Apply the vehicle ownership model to assembled inputs",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadModel(args[0])
		if err != nil {
			return err
		}
		runner := pipeline.NewRunner(logger, services.NewMetrics())
		defer writeMetrics(runner, cfg.MetricsFile)
		return apply(cmd.Context(), runner, cfg)
	},
}

var runCmd = &cobra.Command{
	Use:   "run <preprocess.yml> <apply.yml>",
	Short: "Preprocess and then apply the model in one invocation",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		pre, err := config.LoadPreprocess(args[0])
		if err != nil {
			return err
		}
		cfg, err := config.LoadModel(args[1])
		if err != nil {
			return err
		}
		runner := pipeline.NewRunner(logger, services.NewMetrics())
		defer writeMetrics(runner, metricsFile(pre, cfg))
		if err := runner.Run(cmd.Context(), pipeline.PreprocessStages(pre, logger)); err != nil {
			return err
		}
		return apply(cmd.Context(), runner, cfg)
	},
}

// metricsFile prefers the model setup's metrics_file over the preprocessing
// one.
func metricsFile(pre *config.Preprocess, cfg *config.Model) string {
	if cfg.MetricsFile != "" {
		return cfg.MetricsFile
	}
	return pre.MetricsFile
}

func apply(ctx context.Context, runner *pipeline.Runner, cfg *config.Model) error {
	m, err := model.NewPoissonModel(cfg, logger)
	if err != nil {
		return err
	}

	var sinks pipeline.Sinks
	if bool(cfg.Aggregate) && cfg.Database.Enabled() {
		store, closeDB, err := services.NewStore(ctx, cfg.Database.GetDSN())
		if err != nil {
			return err
		}
		defer closeDB()
		logger.Info("db connected")
		sinks.Store = store
	}
	if cfg.Aggregate && cfg.RedisURL != "" {
		pub, err := services.NewPublisher(ctx, cfg.RedisURL, cfg.PublishChannel)
		if err != nil {
			return err
		}
		defer pub.Close()
		logger.Info("redis connected", zap.String("channel", cfg.PublishChannel))
		sinks.Publisher = pub
	}

	app := pipeline.NewApplication(cfg, m, sinks, logger)
	logger.Info("model application starting", zap.String("run_id", app.RunID), zap.String("setup", cfg.File))
	return runner.Run(ctx, app.Stages())
}

func writeMetrics(runner *pipeline.Runner, path string) {
	if path == "" {
		return
	}
	if err := runner.Metrics().WriteTextfile(path); err != nil {
		logger.Warn("metrics textfile not written", zap.String("file", path), zap.Error(err))
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	rootCmd.AddCommand(preprocessCmd, applyCmd, runCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "vehown:", err)
		stop()
		os.Exit(1)
	}
}
