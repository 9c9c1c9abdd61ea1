package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/tsarna/sciconv/pkg/sciconv/analysis"
	"github.com/tsarna/sciconv/pkg/sciconv/config"
	"go.uber.org/zap"
)

// analyzeCmd represents the analyze command
var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Submit a scientific achievement for analysis",
	Long: `Submit a scientific achievement for market, patent and transfer analysis.

The request is given with flags, or as a JSON document with --file ("-" reads
standard input). Flags override fields of the file. Title, description and
field are required.

The session id is printed; fetch the result with "sciconv result", or pass
--wait to poll until the analysis finishes.

Examples:
  sciconv analyze --title "固态电解质" --description "..." --field 新能源
  sciconv analyze --file request.json --wait
  sciconv analyze --file - --wait --query '.market_analysis' < request.json`,
	Args: cobra.NoArgs,
	RunE: runAnalyze,
}

var (
	analyzeRequest analysis.Request
	analyzeFile    string
	analyzeWait    bool
	analyzeQuery   string
)

func init() {
	rootCmd.AddCommand(analyzeCmd)
	addAnalyzeFlags(analyzeCmd.Flags())
}

func addAnalyzeFlags(f *pflag.FlagSet) {
	f.StringVar(&analyzeRequest.Title, "title", "", "achievement title")
	f.StringVar(&analyzeRequest.Description, "description", "", "achievement description")
	f.StringVar(&analyzeRequest.Field, "field", "", "technical field")
	f.StringVar(&analyzeRequest.Maturity, "maturity", "", "technology maturity (default "+analysis.DefaultMaturity+")")
	f.StringVar(&analyzeRequest.Keywords, "keywords", "", "comma separated keywords")
	f.StringVar(&analyzeRequest.TeamSize, "team-size", "", "team size")
	f.StringVar(&analyzeRequest.InvestmentNeeds, "investment-needs", "", "investment needs")
	f.StringVar(&analyzeRequest.PatentStatus, "patent-status", "", "patent status (default "+analysis.DefaultPatentStatus+")")
	f.StringVar(&analyzeRequest.ExpectedOutcome, "expected-outcome", "", "expected outcome (default "+analysis.DefaultExpectedOutcome+")")
	f.StringVarP(&analyzeFile, "file", "f", "", "JSON request file, - for stdin")
	f.BoolVarP(&analyzeWait, "wait", "w", false, "poll until the analysis finishes and print the result")
	f.StringVarP(&analyzeQuery, "query", "q", "", "jq expression applied to the result (implies --wait)")
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	logger, err := setupLogger()
	if err != nil {
		return fmt.Errorf("failed to setup logger: %w", err)
	}
	defer logger.Sync()

	cfg, err := loadConfig(logger)
	if err != nil {
		return err
	}

	req, err := buildRequest(cmd, cmd.InOrStdin())
	if err != nil {
		return err
	}

	var query *analysis.Query
	if analyzeQuery != "" {
		if query, err = analysis.CompileQuery(analyzeQuery); err != nil {
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

	sub, err := client.Submit(ctx, req)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if !analyzeWait && query == nil {
		fmt.Fprintln(out, sub.SessionID)
		return nil
	}

	fmt.Fprintf(cmd.ErrOrStderr(), "session %s: %s\n", sub.SessionID, sub.Message)
	return watchResult(ctx, cmd, cfg, client, logger, sub.SessionID, query)
}

// buildRequest merges the --file document with the flags that were set.
func buildRequest(cmd *cobra.Command, stdin io.Reader) (analysis.Request, error) {
	var req analysis.Request

	if analyzeFile != "" {
		var r io.Reader = stdin
		if analyzeFile != "-" {
			f, err := os.Open(analyzeFile)
			if err != nil {
				return req, err
			}
			defer f.Close()
			r = f
		}
		if err := json.NewDecoder(r).Decode(&req); err != nil {
			return req, fmt.Errorf("failed to read request %s: %w", analyzeFile, err)
		}
	}

	flags := cmd.Flags()
	set := func(name string, dst *string, value string) {
		if flags.Changed(name) {
			*dst = value
		}
	}
	set("title", &req.Title, analyzeRequest.Title)
	set("description", &req.Description, analyzeRequest.Description)
	set("field", &req.Field, analyzeRequest.Field)
	set("maturity", &req.Maturity, analyzeRequest.Maturity)
	set("keywords", &req.Keywords, analyzeRequest.Keywords)
	set("team-size", &req.TeamSize, analyzeRequest.TeamSize)
	set("investment-needs", &req.InvestmentNeeds, analyzeRequest.InvestmentNeeds)
	set("patent-status", &req.PatentStatus, analyzeRequest.PatentStatus)
	set("expected-outcome", &req.ExpectedOutcome, analyzeRequest.ExpectedOutcome)

	return req, req.Validate()
}

// newAnalysisClient builds the API client for the configured endpoint. The
// returned function logs the request metrics and is meant to be deferred.
func newAnalysisClient(cfg *config.Config, logger *zap.Logger) (*analysis.Client, func(), error) {
	metrics, tracing := observability()

	client, err := analysis.NewClient().
		WithBaseURL(cfg.Endpoint.APIBase).
		WithTimeout(cfg.Analysis.Timeout).
		WithLogger(logger).
		WithMetrics(metrics).
		WithTracing(tracing).
		Build()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create analysis client: %w", err)
	}
	return client, func() { logMetrics(logger, metrics.Snapshot()) }, nil
}

// watchResult polls sessionID until it finishes and prints the result.
func watchResult(ctx context.Context, cmd *cobra.Command, cfg *config.Config, client *analysis.Client, logger *zap.Logger, sessionID string, query *analysis.Query) error {
	poller, err := analysis.NewPoller(client).
		WithScheduleSpec(cfg.Analysis.PollInterval).
		WithLogger(logger).
		Build()
	if err != nil {
		return err
	}

	var last analysis.Result
	result, err := poller.Watch(ctx, sessionID, func(r analysis.Result) {
		keys, err := analysis.ChangedKeys(last, r)
		if err != nil {
			logger.Debug("Failed to diff results", zap.Error(err))
		}
		last = r
		if len(keys) > 0 {
			fmt.Fprintf(cmd.ErrOrStderr(), "session %s: %s (changed: %s)\n", r.SessionID, r.Status, strings.Join(keys, ", "))
		}
	})
	if err != nil {
		return err
	}

	return printResult(ctx, cmd.OutOrStdout(), result, query)
}

// printResult writes result, or the values query picks out of it, as
// indented JSON.
func printResult(ctx context.Context, out io.Writer, result analysis.Result, query *analysis.Query) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)

	if query == nil {
		return enc.Encode(result)
	}

	values, err := query.Run(ctx, result)
	if err != nil {
		return err
	}
	for _, v := range values {
		if s, ok := v.(string); ok {
			fmt.Fprintln(out, s)
			continue
		}
		if err := enc.Encode(v); err != nil {
			return err
		}
	}
	return nil
}
