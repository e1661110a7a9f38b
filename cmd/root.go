package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/joblisting-crawler/internal/app"
	"github.com/JakeFAU/joblisting-crawler/internal/config"
	"github.com/JakeFAU/joblisting-crawler/internal/logging"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// newApp is the application factory. Tests replace it to inject a fake browser.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (*app.App, error) {
	return app.New(ctx, cfg, logger)
}

// newRootCmd creates and configures the root command. The returned func
// closes whatever services the command opened; call it after Execute, which
// skips post-run hooks when a command fails.
func newRootCmd() (*cobra.Command, func() error) {
	var (
		cfgFile     string
		appInstance *app.App
	)
	cmd := &cobra.Command{
		Use:   "jobcrawler",
		Short: "Crawls job search results and resolves every listing to its real posting.",
		Long: `jobcrawler pages through a job board's search results for a set of keywords,
clicks each listing to capture the URL of the real posting (usually an applicant
tracking system), enriches it from the detail page and stores deduplicated records.`,
		SilenceUsage: true,

		// Loads config, builds the logger and services, and stores the App in the
		// context for subcommands.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := logging.New(cfg.Logging.Development, logging.WithLevel(cfg.Logging.Level))
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			zap.ReplaceGlobals(logger)

			appInstance, err = newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to a YAML config file (defaults plus JOBCRAWLER_* env when empty)")

	cmd.AddCommand(newCrawlCmd())
	cmd.AddCommand(newServeCmd())

	shutdown := func() error {
		if appInstance == nil {
			return nil
		}
		err := appInstance.Close()
		_ = appInstance.Logger.Sync()
		appInstance = nil
		return err
	}
	return cmd, shutdown
}

func resolveApp(ctx context.Context) (*app.App, error) {
	appInstance, ok := ctx.Value(appKey).(*app.App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// Execute is the main entry point.
func Execute() {
	root, shutdown := newRootCmd()
	err := root.ExecuteContext(context.Background())
	if closeErr := shutdown(); closeErr != nil {
		fmt.Fprintln(os.Stderr, "shutdown:", closeErr)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
