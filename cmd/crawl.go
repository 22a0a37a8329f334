// Package cmd defines and implements the CLI commands for the citecrawler executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/snp-citation-crawler/internal/app"
	"github.com/JakeFAU/snp-citation-crawler/internal/config"
	"github.com/JakeFAU/snp-citation-crawler/internal/logging"
)

// newCrawlCmd creates and configures the 'crawl' subcommand.
func newCrawlCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Looks up citations for every pending identifier",
		Long: `Reads rs identifiers from the backlog file, skips the ones already present
in the report, and fetches the rest with a pool of concurrent workers.`,
		Args: cobra.NoArgs,
		RunE: runCrawlCommand,
	}

	flags := cmd.Flags()
	flags.StringP("rs_file", "r", "", "file with one rs identifier per line")
	flags.StringP("out_file", "o", "./output.txt", "tab-separated report, appended to and resumed from")
	flags.IntP("threading", "t", 20, "number of concurrent lookups")
	flags.Duration("delay", 3*time.Second, "pause after each lookup, per worker")
	return cmd
}

func runCrawlCommand(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() {
		_ = logging.Sync(logger)
	}()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	appInstance, err := app.Build(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize application services: %w", err)
	}
	defer func() {
		if cerr := appInstance.Close(); cerr != nil {
			logger.Warn("Failed to close report", zap.Error(cerr))
		}
	}()

	if _, err := appInstance.Run(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Warn("Crawl interrupted; rerun to resume", zap.Error(err))
			return nil
		}
		return fmt.Errorf("run crawl: %w", err)
	}

	logger.Info("Crawl command finished.")
	return nil
}
