package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// healthCmd represents the health command
var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check that the analysis service is up",
	Long: `Ask the configured analysis service whether it is healthy and print
what it reports about itself. Exits non-zero when it is not.

Examples:
  sciconv health
  sciconv health --env production`,
	Args: cobra.NoArgs,
	RunE: runHealth,
}

func init() {
	rootCmd.AddCommand(healthCmd)
}

func runHealth(cmd *cobra.Command, args []string) error {
	logger, err := setupLogger()
	if err != nil {
		return fmt.Errorf("failed to setup logger: %w", err)
	}
	defer logger.Sync()

	cfg, err := loadConfig(logger)
	if err != nil {
		return err
	}

	client, done, err := newAnalysisClient(cfg, logger)
	if err != nil {
		return err
	}
	defer done()

	ctx, stop := signalContext()
	defer stop()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "environment: %s\napi:         %s\nchat:        %s\n", cfg.Environment, cfg.Endpoint.APIBase, cfg.Endpoint.ChatURL)

	health, err := client.Health(ctx)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	fmt.Fprintf(out, "service:     %s (%s)\n", health.Service, health.Status)

	if serverCfg, err := client.Config(ctx); err != nil {
		logger.Info("Service config unavailable", zap.Error(err))
	} else {
		fmt.Fprintf(out, "version:     %s\nmethods:     %s\n", serverCfg.APIVersion, strings.Join(serverCfg.SupportedMethods, ", "))
	}

	if !health.Healthy() {
		return fmt.Errorf("service reports status %q", health.Status)
	}
	return nil
}
