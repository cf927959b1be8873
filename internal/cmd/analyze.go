package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/veridict/veridict/internal/artifact"
	"github.com/veridict/veridict/internal/audit"
	"github.com/veridict/veridict/internal/budget"
	"github.com/veridict/veridict/internal/config"
	"github.com/veridict/veridict/internal/document"
	"github.com/veridict/veridict/internal/event"
	"github.com/veridict/veridict/internal/extraction"
	"github.com/veridict/veridict/internal/judgment"
	"github.com/veridict/veridict/internal/logging"
	"github.com/veridict/veridict/internal/registry"
	"github.com/veridict/veridict/internal/resilient"
	"github.com/veridict/veridict/internal/run"
	"github.com/veridict/veridict/internal/worker"
)

var (
	analyzeQuestions []string
	analyzeQuiet     bool
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze <document>",
	Short: "Run the full worker pipeline over a document",
	Long: `Analyze a document with the configured worker panel.

The document is chunked and handed to independent extractors; auditors
cross-check their claims, judges weigh the consolidated evidence and a
single arbiter issues the final decision. Pass one or more --question
flags to have every judge answer them individually.

Stage artifacts are written under the configured artifact directory,
one subdirectory per run.`,
	Args: cobra.ExactArgs(1),
	RunE: runAnalyze,
}

func init() {
	rootCmd.AddCommand(analyzeCmd)

	analyzeCmd.Flags().StringArrayVarP(&analyzeQuestions, "question", "q", nil, "question for the judges (repeatable)")
	analyzeCmd.Flags().BoolVar(&analyzeQuiet, "quiet", false, "suppress per-stage progress output")
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	path := args[0]
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read document: %w", err)
	}
	docID := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	doc := document.New(docID, string(raw), nil, nil)

	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to get current directory: %w", err)
	}
	artifactDir := cfg.Paths.ResolveArtifactDir(cwd)
	runID := uuid.NewString()

	logger := logging.NopLogger()
	if cfg.Logging.Enabled {
		logger, err = logging.NewLogger(filepath.Join(artifactDir, runID), cfg.Logging.Level)
		if err != nil {
			return fmt.Errorf("failed to create run log: %w", err)
		}
		defer func() { _ = logger.Close() }()
	}

	backend, err := worker.NewAnthropicCaller()
	if err != nil {
		return err
	}

	runner, ledger := buildRunner(cfg, backend, artifactDir, runID, logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	result, err := runner.Run(ctx, doc, analyzeQuestions)
	if err != nil {
		return fmt.Errorf("run %s failed: %w", runID, err)
	}

	printDecision(result, ledger)
	fmt.Printf("\nArtifacts: %s\n", filepath.Join(artifactDir, result.RunID))
	return nil
}

// buildRunner assembles the whole pipeline from the configuration. The
// returned ledger is shared by every worker call of the run.
func buildRunner(cfg *config.Config, backend worker.Caller, artifactDir, runID string, logger *logging.Logger) (*run.Runner, *budget.Ledger) {
	bus := event.NewBus()
	ledger := budget.NewLedger(cfg.Budget.MaxTotalTokens, cfg.Budget.MaxCalls)
	caller := resilient.NewCaller(backend, cfg.Workers.ModelSpecs(), ledger, logger, bus, runID)
	dispatcher := resilient.NewDispatcher(caller, int64(cfg.Pipeline.MaxPool))

	// Chunk geometry is validated with the rest of the config.
	chunker, _ := document.NewChunker(cfg.Pipeline.ChunkSize, cfg.Pipeline.ChunkOverlap)

	extract := extraction.NewEngine(dispatcher, config.Bindings(cfg.Workers.Extractors), extraction.Config{
		MinSuccess:    cfg.Pipeline.MinExtractors,
		Deadline:      cfg.Pipeline.ExtractTimeout(),
		SpanTolerance: cfg.Aggregation.SpanTolerance,
		OutlierRatio:  cfg.Aggregation.OutlierRatio,
	}, logger)
	auditor := audit.NewEngine(dispatcher, config.Bindings(cfg.Workers.Auditors), audit.Config{
		MinSuccess:      cfg.Pipeline.MinAuditors,
		Deadline:        cfg.Pipeline.AuditTimeout(),
		AdversarialRole: cfg.Workers.AdversarialRole(),
	}, logger)
	judge := judgment.NewEngine(dispatcher, config.Bindings(cfg.Workers.Judges), judgment.Config{
		MinSuccess: cfg.Pipeline.MinJudges,
		Deadline:   cfg.Pipeline.JudgeTimeout(),
	}, logger)
	arbiter := judgment.NewArbiter(caller, cfg.Workers.Arbiter.Binding(), logger)

	var verifier *registry.Verifier
	if cfg.Registry.Enabled {
		verifier = registry.NewVerifier(registry.NewHTTPClient(cfg.Registry.Endpoint),
			cfg.Registry.CacheSize, cfg.Registry.DiscoveryTimeout(), logger)
	}

	if !analyzeQuiet {
		run.SubscribeProgress(bus, func(stage string, percent float64, message string) {
			if message != "" {
				fmt.Printf("[%3.0f%%] %-12s %s\n", percent, stage, message)
				return
			}
			fmt.Printf("[%3.0f%%] %s\n", percent, stage)
		})
	}

	runner := run.NewRunner(run.Deps{
		Chunker:         chunker,
		Extract:         extract,
		Audit:           auditor,
		Judge:           judge,
		Arbiter:         arbiter,
		Policy:          cfg.Integrity.Policy(),
		Verifier:        verifier,
		Store:           artifact.NewStore(artifactDir, logger),
		Bus:             bus,
		Logger:          logger,
		RunID:           runID,
		OffsetWindow:    cfg.Integrity.OffsetWindow,
		ArbiterDeadline: cfg.Pipeline.ArbiterTimeout(),
	})
	return runner, ledger
}

func printDecision(result *run.Result, ledger *budget.Ledger) {
	d := result.Decision

	fmt.Printf("\nRun %s\n", result.RunID)
	fmt.Printf("Outcome:    %s\n", d.Outcome)
	fmt.Printf("Confidence: %.2f", d.Confidence)
	if d.Penalty > 0 {
		fmt.Printf(" (penalty %.2f applied)", d.Penalty)
	}
	fmt.Println()

	if d.Narrative != "" {
		fmt.Printf("\n%s\n", d.Narrative)
	}

	if len(d.Answers) > 0 {
		fmt.Println("\nAnswers:")
		for _, a := range d.Answers {
			fmt.Printf("  Q: %s\n  A: %s\n", a.Question, a.Text)
		}
	}

	if len(d.Unresolved) > 0 {
		fmt.Printf("\nUnresolved disagreements (%d):\n", len(d.Unresolved))
		for _, u := range d.Unresolved {
			fmt.Printf("  - %s\n", u)
		}
	}

	if result.Integrity != nil && len(result.Integrity.Annotations) > 0 {
		fmt.Printf("\nIntegrity warnings (%d):\n", len(result.Integrity.Annotations))
		for _, a := range result.Integrity.Annotations {
			fmt.Printf("  - [%s] %s\n", a.Code, a.Detail)
		}
	}

	for _, b := range result.Basis {
		if b.Result == "no" {
			fmt.Printf("\nBasis reference not found in registry: %s\n", b.Ref)
		}
	}

	fmt.Printf("\nUsage: %d tokens over %d calls\n", ledger.UsedTokens(), ledger.UsedCalls())
}
