package cmd

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"github.com/tsarna/sciconv/pkg/sciconv/config"
	"github.com/tsarna/sciconv/pkg/sciconv/o11y"
	"github.com/tsarna/sciconv/pkg/sciconv/otel"
	"go.uber.org/zap"
)

const version = "0.1.0"

var (
	configPaths []string
	environment string
	logLevel    string
	verbose     bool
	debug       bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "sciconv",
	Short: "Scientific achievement transformation client",
	Long: `sciconv talks to the scientific achievement transformation service.

It can hold an interactive chat with the assistant over WebSocket and submit
achievements for market, patent and transfer analysis over HTTP.

Endpoints are configured with HCL files (see --config). Without a config file
the development endpoint at http://localhost:8000 is used.`,
	SilenceUsage: true,
	Version:      version,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringSliceVarP(&configPaths, "config", "c", nil, "HCL config files or directories")
	rootCmd.PersistentFlags().StringVarP(&environment, "env", "e", "", "environment to use (development, production, ...)")
	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "l", "warn", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "debug output")
}

func setupLogger() (*zap.Logger, error) {
	level := logLevel

	if debug {
		level = "debug"
	} else if verbose && (level == "warn" || level == "error") {
		level = "info"
	}

	var zapLevel zap.AtomicLevel
	switch strings.ToLower(level) {
	case "debug":
		zapLevel = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info":
		zapLevel = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn", "warning":
		zapLevel = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		zapLevel = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		return nil, fmt.Errorf("unknown log level %q", logLevel)
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zapLevel
	cfg.Development = debug
	cfg.Encoding = "console"
	cfg.EncoderConfig = zap.NewDevelopmentEncoderConfig()
	cfg.OutputPaths = []string{"stderr"}

	return cfg.Build()
}

// loadConfig builds the configuration from --config (or the defaults) and
// applies --env, falling back to $SCICONV_ENV.
func loadConfig(logger *zap.Logger) (*config.Config, error) {
	env := environment
	if env == "" {
		env = os.Getenv("SCICONV_ENV")
	}

	cfg, diags := config.NewConfig().
		WithLogger(logger).
		WithSources(stringSliceToAnySlice(configPaths)...).
		WithEnvironment(env).
		Build()
	if diags.HasErrors() {
		return nil, diags
	}
	for _, diag := range diags {
		logger.Warn("Config warning", zap.String("summary", diag.Summary), zap.String("detail", diag.Detail))
	}

	return cfg, nil
}

// observability returns the in-memory metrics behind /stats and the
// OpenTelemetry tracer, which exports wherever the global provider points.
func observability() (*o11y.MemoryProvider, o11y.TracingProvider) {
	return o11y.NewMemoryProvider(), otel.NewProvider("sciconv", version)
}

// logMetrics writes the counters a command recorded at debug level.
func logMetrics(logger *zap.Logger, snapshot o11y.MetricsSnapshot) {
	if len(snapshot.Counters) == 0 {
		return
	}

	names := make([]string, 0, len(snapshot.Counters))
	for name := range snapshot.Counters {
		names = append(names, name)
	}
	sort.Strings(names)

	fields := make([]zap.Field, 0, len(names))
	for _, name := range names {
		fields = append(fields, zap.Int64(name, snapshot.Counters[name]))
	}
	logger.Debug("Command metrics", fields...)
}

// Helper to convert []string to []any
func stringSliceToAnySlice(strs []string) []any {
	anys := make([]any, len(strs))
	for i, s := range strs {
		anys[i] = s
	}
	return anys
}
