// Command burrowler runs one crawl: it loads configuration, seeds the
// frontier from the configured sites, crawls every host to quiescence, and
// writes a summary report. It takes no required arguments; everything comes
// from internal/config (file, environment, or defaults).
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/burrowler/crawl/internal/config"
	"github.com/burrowler/crawl/internal/metrics"
	"github.com/burrowler/crawl/internal/report"
	"github.com/burrowler/crawl/internal/supervisor"
	"github.com/spf13/cobra"
)

var (
	cfgFile      string
	metricsPort  int
	reportFormat string
	reportPath   string
)

var rootCmd = &cobra.Command{
	Use:   "burrowler",
	Short: "A polite, multi-site web crawler",
	Long: `burrowler crawls the sites named in its configuration, honouring
robots.txt and each host's declared crawl delay, and stores the pages it
fetches for later retrieval.`,
	RunE: runCrawl,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to a config file (burrowler.yaml, .json, .toml, ...)")
	rootCmd.PersistentFlags().IntVar(&metricsPort, "metrics-port", 0, "serve Prometheus metrics on this port (0 disables it)")
	rootCmd.PersistentFlags().StringVar(&reportFormat, "report-format", "text", "final summary format: text, json, or html")
	rootCmd.PersistentFlags().StringVar(&reportPath, "report-file", "", "write the summary report here instead of stdout")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runCrawl(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("context: %w", err)
	}
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("context: %w", err)
	}

	logLevel := slog.LevelInfo
	if cfg.Verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sup, err := supervisor.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("context: %w", err)
	}
	defer sup.Close()

	var metricsSrv *metrics.Server
	if metricsPort > 0 {
		metricsSrv = metrics.Start(metricsPort, sup.Metrics())
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			metricsSrv.Stop(stopCtx)
		}()
	}

	logger.Info("CONFIG", "sites", len(cfg.Sites), "max_threads", cfg.MaxThreads)

	runErr := sup.Run(ctx)

	if err := writeReport(sup.Summary()); err != nil {
		logger.Error("ERROR", "reason", err.Error())
	}

	if runErr != nil {
		return fmt.Errorf("context: %w", runErr)
	}
	return nil
}

func writeReport(summary report.Summary) error {
	out := os.Stdout
	if reportPath != "" {
		f, err := os.Create(reportPath)
		if err != nil {
			return fmt.Errorf("context: opening report file: %w", err)
		}
		defer f.Close()
		return writeReportTo(f, summary)
	}
	return writeReportTo(out, summary)
}

func writeReportTo(w *os.File, summary report.Summary) error {
	switch reportFormat {
	case "json":
		return report.WriteJSON(w, summary)
	case "html":
		return report.WriteHTML(w, summary)
	default:
		return report.WriteText(w, summary)
	}
}
