package cmd

import (
	"encoding/json"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/joblisting-crawler/internal/crawler"
	"github.com/JakeFAU/joblisting-crawler/internal/scheduler"
)

type crawlOptions struct {
	keywords    []string
	pages       int
	jobs        int
	withRecords bool
}

// crawlSummary is what the crawl command prints.
type crawlSummary struct {
	RunID   string                `json:"run_id"`
	Stats   crawler.StatsSnapshot `json:"stats"`
	Records []crawler.JobRecord   `json:"records,omitempty"`
}

// newCrawlCmd creates the 'crawl' subcommand.
func newCrawlCmd() *cobra.Command {
	opts := &crawlOptions{}
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Runs one crawl and prints its stats",
		Long: `Runs one crawl for the configured profile. --keyword, --pages and --jobs
override profile.keywords, profile.page_limit and profile.job_limit.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCrawl(cmd, opts)
		},
	}
	cmd.Flags().StringSliceVarP(&opts.keywords, "keyword", "k", nil, "search keyword (repeatable)")
	cmd.Flags().IntVar(&opts.pages, "pages", 0, "max search pages per keyword")
	cmd.Flags().IntVar(&opts.jobs, "jobs", 0, "max saved jobs per keyword (0 means unlimited)")
	cmd.Flags().BoolVar(&opts.withRecords, "records", false, "include every finalized record in the output")
	return cmd
}

func runCrawl(cmd *cobra.Command, opts *crawlOptions) error {
	a, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}

	profile := a.Config.Profile
	if len(opts.keywords) > 0 {
		profile.Keywords = opts.keywords
	}
	if cmd.Flags().Changed("pages") {
		profile.PerKeywordPageLimit = opts.pages
	}
	if cmd.Flags().Changed("jobs") {
		profile.PerKeywordJobLimit = opts.jobs
	}

	runID, err := a.IDs.NewID()
	if err != nil {
		return fmt.Errorf("generate run id: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	stats := crawler.NewRunStats()
	records, runErr := a.Scheduler.Execute(ctx, scheduler.Request{RunID: runID, Profile: profile}, stats)

	summary := crawlSummary{RunID: runID, Stats: stats.Snapshot()}
	if opts.withRecords {
		summary.Records = records
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(summary); err != nil {
		return fmt.Errorf("write summary: %w", err)
	}

	if runErr != nil {
		a.Logger.Error("crawl failed", zap.String("run_id", runID), zap.Error(runErr))
		return fmt.Errorf("crawl: %w", runErr)
	}
	a.Logger.Info("crawl command finished", zap.String("run_id", runID), zap.Int("records", len(records)))
	return nil
}
