package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/tsarna/sciconv/pkg/sciconv/analysis"
)

// resultCmd represents the result command
var resultCmd = &cobra.Command{
	Use:   "result <session-id>",
	Short: "Fetch the result of an analysis",
	Long: `Fetch the stored result of an analysis session and print it as JSON.

With --watch the session is polled on the configured schedule
(analysis.poll_interval, "@every 5s" by default) until it completes or fails.
With --query only the values a jq expression selects are printed; strings are
printed bare. The session id is available to the expression as $session.

Examples:
  sciconv result 0b5c7d6e-2f1a-4c3b-9d8e-7f6a5b4c3d2e
  sciconv result --watch 0b5c7d6e-2f1a-4c3b-9d8e-7f6a5b4c3d2e
  sciconv result -q '.market_analysis | keys' 0b5c7d6e-2f1a-4c3b-9d8e-7f6a5b4c3d2e`,
	Args: cobra.ExactArgs(1),
	RunE: runResult,
}

var (
	resultWatch bool
	resultQuery string
)

func init() {
	rootCmd.AddCommand(resultCmd)

	resultCmd.Flags().BoolVarP(&resultWatch, "watch", "w", false, "poll until the analysis finishes")
	resultCmd.Flags().StringVarP(&resultQuery, "query", "q", "", "jq expression applied to the result")
}

func runResult(cmd *cobra.Command, args []string) error {
	logger, err := setupLogger()
	if err != nil {
		return fmt.Errorf("failed to setup logger: %w", err)
	}
	defer logger.Sync()

	cfg, err := loadConfig(logger)
	if err != nil {
		return err
	}

	sessionID, err := analysis.ParseSessionID(args[0])
	if err != nil {
		return err
	}

	var query *analysis.Query
	if resultQuery != "" {
		if query, err = analysis.CompileQuery(resultQuery); err != nil {
			return err
		}
	}

	client, done, err := newAnalysisClient(cfg, logger)
	if err != nil {
		return err
	}
	defer done()

	ctx, stop := signalContext()
	defer stop()

	if resultWatch {
		return watchResult(ctx, cmd, cfg, client, logger, sessionID, query)
	}

	result, err := client.Result(ctx, sessionID)
	if analysis.IsNotFound(err) {
		return fmt.Errorf("session %s not found: %w", sessionID, err)
	}
	if err != nil {
		return err
	}

	return printResult(ctx, cmd.OutOrStdout(), result, query)
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}
