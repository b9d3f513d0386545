package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/raaihank/pii-sentinel/internal/api"
	"github.com/raaihank/pii-sentinel/internal/batch"
	"github.com/raaihank/pii-sentinel/internal/config"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newTextCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "text [TEXT...]",
		Short: "Report whether text contains PII (reads stdin when no argument is given)",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := initializeServices(opts, false)
			if err != nil {
				return &exitError{code: 2, err: err}
			}
			defer svc.cleanup()

			var text string
			if len(args) > 0 {
				text = strings.Join(args, " ")
			} else {
				data, err := io.ReadAll(opts.stdin)
				if err != nil {
					return &exitError{code: 2, err: fmt.Errorf("failed to read stdin: %w", err)}
				}
				text = string(data)
			}

			fmt.Fprintln(opts.stdout, svc.scanner.ContainsPII(text))
			return nil
		},
	}
}

func newCheckCmd(opts *rootOptions) *cobra.Command {
	var recursive bool

	cmd := &cobra.Command{
		Use:   "check PATH...",
		Short: "Scan files for PII; exits 1 when PII is found and 2 on errors",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := initializeServices(opts, false)
			if err != nil {
				return &exitError{code: 2, err: err}
			}
			defer svc.cleanup()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			var found, failed int
			report := func(path string, containsPII bool, err error) error {
				switch {
				case err != nil:
					failed++
					fmt.Fprintf(opts.stdout, "error\t%s\t%v\n", path, err)
				case containsPII:
					found++
					fmt.Fprintf(opts.stdout, "pii\t%s\n", path)
				default:
					fmt.Fprintf(opts.stdout, "clean\t%s\n", path)
				}
				return nil
			}

			for _, path := range args {
				if !recursive {
					containsPII, err := svc.scanner.ContainsPIIFromFile(ctx, path)
					_ = report(path, containsPII, err)
					continue
				}
				if err := svc.scanner.ScanTree(ctx, path, report); err != nil {
					if errors.Is(err, context.Canceled) {
						return &exitError{code: 2, err: err}
					}
					_ = report(path, false, err)
				}
			}

			switch {
			case failed > 0:
				return &exitError{code: 2}
			case found > 0:
				return &exitError{code: 1}
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&recursive, "recursive", "r", false, "Walk directories and scan every supported file")
	return cmd
}

func newBatchCmd(opts *rootOptions) *cobra.Command {
	var (
		input     string
		report    string
		batchSize int
	)

	cmd := &cobra.Command{
		Use:   "batch --input FILE",
		Short: "Scan every record of a CSV, Parquet or JSON-lines dataset",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := initializeServices(opts, false)
			if err != nil {
				return &exitError{code: 2, err: err}
			}
			defer svc.cleanup()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			size := svc.config.Batch.BatchSize
			if batchSize > 0 {
				size = batchSize
			}

			pipeline := batch.NewPipeline(svc.scanner, &batch.Config{
				BatchSize:   size,
				CollectRows: report != "",
			}, svc.logger)

			result, err := pipeline.ProcessFile(ctx, input)
			if err != nil {
				return &exitError{code: 2, err: err}
			}

			if report != "" {
				if err := batch.WriteReport(report, result.Rows); err != nil {
					return &exitError{code: 2, err: err}
				}
				svc.logger.Info("Report written", zap.String("path", report), zap.Int("rows", len(result.Rows)))
			}

			enc := json.NewEncoder(opts.stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(result); err != nil {
				return &exitError{code: 2, err: err}
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&input, "input", "i", "", "Input dataset file (CSV, Parquet, or JSON lines)")
	cmd.Flags().StringVar(&report, "report", "", "Write per-record verdicts to this Parquet file")
	cmd.Flags().IntVar(&batchSize, "batch-size", 0, "Records per batch (default from configuration)")
	_ = cmd.MarkFlagRequired("input")
	return cmd
}

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := initializeServices(opts, true)
			if err != nil {
				return &exitError{code: 1, err: err}
			}
			defer svc.cleanup()
			log := svc.logger

			log.Info("Starting PII Sentinel",
				zap.String("version", version),
				zap.String("commit", commit),
				zap.String("build_date", date),
				zap.Int("port", svc.config.Server.Port),
			)

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			serverOpts := []api.Option{api.WithVersion(version)}
			if svc.metrics != nil {
				serverOpts = append(serverOpts, api.WithMetrics(svc.metrics))
			}
			if svc.hub != nil {
				serverOpts = append(serverOpts, api.WithHub(svc.hub))
			}
			if svc.audit != nil {
				serverOpts = append(serverOpts, api.WithAudit(svc.audit))
				go runAuditRetention(ctx, svc)
			}
			if svc.cache != nil {
				serverOpts = append(serverOpts, api.WithCache(svc.cache))
			}
			server := api.New(svc.config, svc.scanner, log, serverOpts...)

			if config.ConfigFile() != "" {
				watchPatterns(svc)
			}

			serverErrors := make(chan error, 1)
			go func() {
				serverErrors <- server.Start(ctx)
			}()

			shutdown := make(chan os.Signal, 1)
			signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)
			defer signal.Stop(shutdown)

			select {
			case err := <-serverErrors:
				if err != nil {
					log.Error("Server error", zap.Error(err))
					return &exitError{code: 1, err: err}
				}
				return nil
			case sig := <-shutdown:
				log.Info("Shutdown signal received", zap.String("signal", sig.String()))
			}

			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), svc.config.Server.ShutdownTimeout)
			defer shutdownCancel()

			if err := server.Stop(shutdownCtx); err != nil {
				log.Error("Failed to shutdown server gracefully", zap.Error(err))
				return &exitError{code: 1, err: err}
			}
			cancel()

			log.Info("Server shutdown complete")
			return nil
		},
	}
}

// watchPatterns adds custom patterns that appear in the configuration file
// while the server runs
func watchPatterns(svc *services) {
	current := svc.config
	log := svc.logger.WithComponent("config")

	config.Watch(func(next *config.Config) {
		for _, p := range config.AddedPatterns(current, next) {
			if err := svc.scanner.AddPattern(p); err != nil {
				log.Warn("Ignoring custom pattern from reloaded configuration", zap.String("pattern", p), zap.Error(err))
				continue
			}
			log.Info("Custom pattern added from configuration", zap.String("pattern", p))
		}
		current = next
	}, func(err error) {
		log.Warn("Configuration reload rejected", zap.Error(err))
	})

	log.Info("Watching configuration file for new patterns", zap.String("file", config.ConfigFile()))
}

// runAuditRetention prunes audit records older than the retention window
func runAuditRetention(ctx context.Context, svc *services) {
	retention := svc.config.Audit.Retention
	if retention <= 0 {
		return
	}

	interval := retention / 24
	if interval < time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			removed, err := svc.audit.Prune(ctx, now.Add(-retention))
			if err != nil {
				svc.logger.Warn("Failed to prune audit trail", zap.Error(err))
				continue
			}
			if removed > 0 {
				svc.logger.Info("Pruned audit trail", zap.Int64("removed", removed))
			}
		}
	}
}

func newHealthCmd(opts *rootOptions) *cobra.Command {
	var url string

	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check a running server and exit non-zero when it is unhealthy",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client := &http.Client{Timeout: 5 * time.Second}

			resp, err := client.Get(url)
			if err != nil {
				return &exitError{code: 1, err: fmt.Errorf("health check failed: %w", err)}
			}
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusOK {
				return &exitError{code: 1, err: fmt.Errorf("health check failed: HTTP %d", resp.StatusCode)}
			}

			fmt.Fprintln(opts.stdout, "Health check passed")
			return nil
		},
	}

	cmd.Flags().StringVar(&url, "url", "http://localhost:8080/health", "Health endpoint to query")
	return cmd
}
