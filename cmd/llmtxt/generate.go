package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/sshtomar/llm-txt/internal/clock/system"
	"github.com/sshtomar/llm-txt/internal/config"
	"github.com/sshtomar/llm-txt/internal/events"
	"github.com/sshtomar/llm-txt/internal/generator"
	"github.com/sshtomar/llm-txt/internal/id/uuid"
	"github.com/sshtomar/llm-txt/internal/jobs"
	"github.com/sshtomar/llm-txt/internal/logging"
	"github.com/sshtomar/llm-txt/internal/pipeline"
	storememory "github.com/sshtomar/llm-txt/internal/store/memory"
)

// CLI exit codes.
const (
	exitOK         = 0
	exitOther      = 1
	exitValidation = 2
	exitNoContent  = 3
	exitCancelled  = 4
)

type generateFlags struct {
	url      string
	maxPages int
	maxDepth int
	maxKB    int
	full     bool
	noRobots bool
	output   string
}

func newGenerateCmd() *cobra.Command {
	flags := generateFlags{}
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Run the generation pipeline once and write files locally",
		Run: func(cmd *cobra.Command, _ []string) {
			os.Exit(runGenerate(cmd.Context(), flags))
		},
	}
	cmd.Flags().StringVar(&flags.url, "url", "", "root URL of the documentation site (required)")
	cmd.Flags().IntVar(&flags.maxPages, "max-pages", 0, "maximum pages to crawl")
	cmd.Flags().IntVar(&flags.maxDepth, "max-depth", 0, "maximum crawl depth")
	cmd.Flags().IntVar(&flags.maxKB, "max-kb", 0, "output size budget in KB")
	cmd.Flags().BoolVar(&flags.full, "full", false, "also write llms-full.txt")
	cmd.Flags().BoolVar(&flags.noRobots, "no-robots", false, "ignore robots.txt")
	cmd.Flags().StringVar(&flags.output, "output", ".", "directory for the output files")
	_ = cmd.MarkFlagRequired("url")
	return cmd
}

func runGenerate(ctx context.Context, flags generateFlags) int {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		return exitOther
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		return exitOther
	}
	defer func() { _ = logger.Sync() }()

	req := cfg.Defaults()
	req.URL = flags.url
	req.FullVersion = flags.full
	if flags.maxPages > 0 {
		req.MaxPages = flags.maxPages
	}
	if flags.maxDepth > 0 {
		req.MaxDepth = flags.maxDepth
	}
	if flags.maxKB > 0 {
		req.MaxKB = flags.maxKB
	}
	if flags.noRobots {
		req.RespectRobots = false
	}

	st := storememory.New()
	clock := system.New()
	manager := jobs.NewManager(st, clock, uuid.New(), cfg.Jobs.LogRingLines, logger)
	orch := pipeline.New(manager, st, buildSummarizer(cfg, logger), events.Noop{}, clock, nil, pipeline.Config{
		Concurrency:  cfg.Crawler.Concurrency,
		PerHostMax:   cfg.Crawler.PerHostMax,
		FetchTimeout: cfg.FetchTimeout(),
		JobBudget:    cfg.JobBudget(),
		MinTextChars: cfg.Headless.MinTextChars,
	}, logger)

	job, err := manager.Create(ctx, req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid request: %v\n", err)
		return exitValidation
	}

	orch.Run(ctx, job)

	view, err := manager.Get(ctx, job.ID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "read job state: %v\n", err)
		return exitOther
	}

	switch view.Status {
	case generator.JobStateCompleted:
	case generator.JobStateCancelled:
		fmt.Fprintln(os.Stderr, "generation cancelled")
		return exitCancelled
	default:
		fmt.Fprintf(os.Stderr, "generation failed: %s (%s)\n", view.Message, view.ErrorCode)
		if view.ErrorCode == jobs.CodeNoUsableContent || view.ErrorCode == jobs.CodeBlockedByRobots {
			return exitNoContent
		}
		return exitOther
	}

	if err := writeArtifact(ctx, st, job.ID, generator.ArtifactLLMTxt, flags.output); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitOther
	}
	if req.FullVersion {
		if err := writeArtifact(ctx, st, job.ID, generator.ArtifactLLMSFull, flags.output); err != nil {
			fmt.Fprintln(os.Stderr, err)
			return exitOther
		}
	}
	fmt.Printf("generated %.1fKB from %d pages into %s\n", view.TotalSizeKB, view.PagesProcessed, flags.output)
	return exitOK
}

func writeArtifact(ctx context.Context, st generator.ArtifactStore, jobID string, kind generator.ArtifactKind, outDir string) error {
	data, err := st.GetArtifact(ctx, jobID, kind)
	if err != nil {
		return fmt.Errorf("read %s: %w", kind, err)
	}
	if err := os.MkdirAll(outDir, 0o750); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	path := filepath.Join(outDir, string(kind))
	if err := os.WriteFile(path, data, 0o640); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	fmt.Printf("wrote %s\n", path)
	return nil
}
