// vizinsight analyzes natural-language questions about CSV datasets through
// a single LLM call, a sandboxed execution step for graphs, and a Thompson
// sampling bandit over prompt variants.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"vizinsight/internal/analyzer"
	"vizinsight/internal/bandit"
	"vizinsight/internal/config"
	"vizinsight/internal/dataset"
	"vizinsight/internal/llm"
	"vizinsight/internal/logging"
	"vizinsight/internal/profile"
	"vizinsight/internal/prompt"
	"vizinsight/internal/sandbox"
)

var (
	cfgFile string
	debug   bool

	cfg    *config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "vizinsight",
	Short: "LLM-driven analysis and chart generation for CSV datasets",
	Long: `vizinsight turns a natural-language request about loaded CSV datasets
into insights, chart specs, recommendations, or profiling reports.

A single model call classifies the request and produces its content.
Graph requests additionally run model-generated pandas code in a
subprocess sandbox and synthesize a renderable chart spec from its
output. A Thompson sampling bandit picks between prompt variants and
learns from feedback.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return err
		}
		if debug {
			cfg.Debug = true
		}
		logger, err = logging.New(cfg.Debug)
		if err != nil {
			return err
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

var (
	dataFlags []string
	history   string
	armID     string
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze [instruction]",
	Short: "Analyze a request against one or more CSV datasets",
	Long: `Runs one request through the pipeline and prints the response
envelope as JSON.

Example:
  vizinsight analyze "bar chart of revenue by region" --data sales.csv=./sales.csv`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAnalyze,
}

var feedbackCmd = &cobra.Command{
	Use:   "feedback [arm-id] [0|1]",
	Short: "Record reward feedback for a returned arm id",
	Args:  cobra.ExactArgs(2),
	RunE:  runFeedback,
}

var armsCmd = &cobra.Command{
	Use:   "arms",
	Short: "Show bandit arm posteriors",
	RunE:  runArms,
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	instruction := strings.Join(args, " ")

	if len(dataFlags) == 0 {
		return fmt.Errorf("at least one --data name=path is required")
	}
	frames := make([]*dataset.Frame, 0, len(dataFlags))
	for _, spec := range dataFlags {
		name, path, ok := strings.Cut(spec, "=")
		if !ok {
			// Bare path: use the file name as the dataset name.
			path = spec
			name = spec
			if i := strings.LastIndexByte(spec, '/'); i >= 0 {
				name = spec[i+1:]
			}
		}
		frame, err := dataset.LoadCSV(name, path)
		if err != nil {
			return fmt.Errorf("failed to load dataset %s: %w", name, err)
		}
		frames = append(frames, frame)
	}

	client, err := llm.NewClient(ctx, cfg.GeminiAPIKey)
	if err != nil {
		return err
	}

	b := bandit.New(bandit.NewFileStore(cfg.BanditStatePath), logger)
	a, err := analyzer.New(analyzer.Options{
		Call:      client.Generate,
		Bandit:    b,
		Runner:    sandbox.NewRunner(cfg.Interpreter, cfg.ExecTimeout, logger),
		Reporter:  profile.NewReporter(cfg.ProfileReportsDir, logger),
		Describer: prompt.Describer{MaxSchemaColumns: cfg.MaxSchemaColumns, MaxSampleRows: cfg.MaxSampleRows},
		Arms:      analyzer.UnifiedArms(cfg.Model),
		MaxTokens: cfg.MaxLLMTokens,
		Retries:   cfg.LLMRetries,
		RepairMax: cfg.JSONRepairMax,
		Logger:    logger,
	})
	if err != nil {
		return err
	}

	req := analyzer.Request{
		Instruction: instruction,
		History:     history,
		Datasets:    frames,
	}
	if armID != "" {
		for _, arm := range analyzer.UnifiedArms(cfg.Model) {
			if arm.ID == armID {
				chosen := arm
				req.Arm = &chosen
				break
			}
		}
		if req.Arm == nil {
			return fmt.Errorf("unknown arm id: %s", armID)
		}
	}

	envelope := a.Analyze(ctx, req)
	out, err := json.MarshalIndent(envelope, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func runFeedback(cmd *cobra.Command, args []string) error {
	reward, err := strconv.Atoi(args[1])
	if err != nil || (reward != 0 && reward != 1) {
		return fmt.Errorf("reward must be 0 or 1, got %q", args[1])
	}

	b := bandit.New(bandit.NewFileStore(cfg.BanditStatePath), logger)
	if err := b.EnsureArms(analyzer.UnifiedArms(cfg.Model)); err != nil {
		return err
	}
	b.Update(args[0], reward)
	fmt.Printf("Recorded reward %d for arm %s\n", reward, args[0])
	return nil
}

func runArms(cmd *cobra.Command, args []string) error {
	b := bandit.New(bandit.NewFileStore(cfg.BanditStatePath), logger)
	if err := b.EnsureArms(analyzer.UnifiedArms(cfg.Model)); err != nil {
		return err
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Arm", "Alpha", "Beta", "Pulls", "Mean"})
	for id, stats := range b.Snapshot() {
		mean := stats.Alpha / (stats.Alpha + stats.Beta)
		t.AppendRow(table.Row{id, stats.Alpha, stats.Beta, stats.Pulls, fmt.Sprintf("%.3f", mean)})
	}
	t.SortBy([]table.SortBy{{Name: "Arm", Mode: table.Asc}})
	t.Render()
	return nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default vizinsight.yaml if present)")
	rootCmd.PersistentFlags().BoolVarP(&debug, "verbose", "v", false, "enable debug logging")

	analyzeCmd.Flags().StringArrayVar(&dataFlags, "data", nil, "dataset as name=path (repeatable)")
	analyzeCmd.Flags().StringVar(&history, "history", "", "conversation history summary")
	analyzeCmd.Flags().StringVar(&armID, "arm", "", "force a specific prompt variant, bypassing the bandit")

	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(feedbackCmd)
	rootCmd.AddCommand(armsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
