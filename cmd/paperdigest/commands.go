package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"paperdigest/internal/api"
	"paperdigest/internal/app"
	"paperdigest/internal/config"
	"paperdigest/internal/logging"
	"paperdigest/internal/models"
	"paperdigest/internal/pipeline"
	"paperdigest/internal/scheduler"
	"paperdigest/internal/storage"
	"paperdigest/internal/util"
)

var rootCmd = &cobra.Command{
	Use:           "paperdigest",
	Short:         "Ingest daily research papers into a vector index with study questions",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(runCmd, serveCmd, statusCmd, retryCmd)
}

func setup(ctx context.Context) (*app.App, error) {
	cfg := config.Load()
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return nil, err
	}
	return app.Build(ctx, cfg, logger)
}

// --- run ---

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one ingestion cycle and exit",
	Long: `Run one ingestion cycle for a date and exit.

Examples:
  paperdigest run
  paperdigest run --date 2025-07-22 --out ./local/runs/2025-07-22.json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		date, _ := cmd.Flags().GetString("date")
		feedURL, _ := cmd.Flags().GetString("feed-url")
		out, _ := cmd.Flags().GetString("out")

		opts := pipeline.RunOptions{FeedURL: feedURL}
		if date != "" {
			d, err := time.Parse(models.DateLayout, date)
			if err != nil {
				return fmt.Errorf("--date must be YYYY-MM-DD: %w", err)
			}
			opts.Date = d
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		a, err := setup(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		sum, err := a.Runner.RunCycle(ctx, opts)
		if out != "" {
			if werr := util.WriteJSONAtomic(out, sum); werr != nil {
				a.Log.Warn("write summary", zap.String("path", out), zap.Error(werr))
			}
		}
		if err != nil {
			return err
		}
		fmt.Printf("%s: discovered=%d ingested=%d skipped=%d failed=%d\n",
			sum.Date, sum.Discovered, sum.Ingested, sum.Skipped, sum.Failed)
		return nil
	},
}

func init() {
	runCmd.Flags().String("date", "", "feed date (YYYY-MM-DD), defaults to today")
	runCmd.Flags().String("feed-url", "", "override the discovery feed endpoint")
	runCmd.Flags().String("out", "", "write the cycle summary as JSON to this path")
}

// --- serve ---

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run cycles on the configured cadence and serve the status API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		a, err := setup(ctx)
		if err != nil {
			return err
		}
		defer a.Close()
		cfg := a.Config

		sched := scheduler.New(cfg.ScheduleEvery, cfg.RunOnStart, func(ctx context.Context) error {
			sum, err := a.Runner.RunCycle(ctx, pipeline.RunOptions{})
			if sum.Discovered > 0 {
				path := util.SafeJoin(cfg.RunsDir, sum.Date+"-"+sum.CycleID+".json")
				if werr := util.WriteJSONAtomic(path, sum); werr != nil {
					a.Log.Warn("write summary", zap.String("path", path), zap.Error(werr))
				}
			}
			return err
		}, a.Log.Named("scheduler"))

		runs := api.NewLocalRuns(a.Runner, sched.State(), a.Log.Named("runs"))
		srv := &http.Server{
			Addr:              cfg.APIAddr,
			Handler:           api.NewServer(a.Backend.Status, runs, a.Log.Named("api")).Routes(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			a.Log.Info("paperdigest api listening", zap.String("addr", cfg.APIAddr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.Log.Error("api stopped", zap.Error(err))
				stop()
			}
		}()

		err = sched.Run(ctx)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if serr := srv.Shutdown(shutdownCtx); serr != nil {
			a.Log.Warn("api shutdown", zap.Error(serr))
		}
		return err
	},
}

// --- status ---

var statusCmd = &cobra.Command{
	Use:   "status [paper-id]",
	Short: "Show one status record, or list records in a status",
	Long: `Show one status record, or list records in a status.

Examples:
  paperdigest status arxiv_2507.15846
  paperdigest status --status FAILED --limit 20`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		statusFlag, _ := cmd.Flags().GetString("status")
		limit, _ := cmd.Flags().GetInt("limit")
		if len(args) == 0 && statusFlag == "" {
			return fmt.Errorf("a paper id or --status is required")
		}

		cfg := config.Load()
		backend, err := storage.Open(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer backend.Close()

		if len(args) == 1 {
			rec, err := backend.Status.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(rec)
		}

		st, err := models.ParseStatus(statusFlag)
		if err != nil {
			return err
		}
		recs, err := backend.Status.ListByStatus(cmd.Context(), st, limit)
		if err != nil {
			return err
		}
		if len(recs) == 0 {
			fmt.Printf("No papers in status %s.\n", st)
			return nil
		}
		tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "PAPER\tUPDATED\tTITLE\tDETAIL")
		for _, r := range recs {
			detail := r.FailReason
			if detail == "" && len(r.Questions) > 0 {
				detail = r.Questions[0]
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
				r.PaperID,
				r.UpdatedAt.Format(time.DateTime),
				util.DisplaySnippet(r.Title, 48),
				strings.TrimSpace(util.DisplaySnippet(detail, 72)))
		}
		return tw.Flush()
	},
}

func init() {
	statusCmd.Flags().String("status", "", "list records in this status (NEW, INGESTED, GENERATED, FAILED)")
	statusCmd.Flags().Int("limit", 50, "maximum records to list")
}

// --- retry-failed ---

var retryCmd = &cobra.Command{
	Use:   "retry-failed",
	Short: "Reprocess papers whose last attempt failed",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		a, err := setup(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		sum, err := a.Runner.RetryFailed(ctx, pipeline.RunOptions{}, limit)
		if err != nil {
			return err
		}
		fmt.Printf("retried=%d ingested=%d skipped=%d failed=%d\n",
			len(sum.Outcomes), sum.Ingested, sum.Skipped, sum.Failed)
		return nil
	},
}

func init() {
	retryCmd.Flags().Int("limit", 25, "maximum failed papers to retry")
}
