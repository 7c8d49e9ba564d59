package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"text/tabwriter"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/curvesale/internal/config"
	"github.com/rovshanmuradov/curvesale/internal/curve"
	"github.com/rovshanmuradov/curvesale/internal/export"
	"github.com/rovshanmuradov/curvesale/internal/scenario"
	"github.com/rovshanmuradov/curvesale/internal/utils/logger"
	"github.com/rovshanmuradov/curvesale/internal/utils/metrics"
)

type simulateOptions struct {
	reportPath string
	noExport   bool
}

func newSimulateCmd(root *rootOptions) *cobra.Command {
	opts := &simulateOptions{}
	cmd := &cobra.Command{
		Use:   "simulate [scenario-file...]",
		Short: "Replay trading scenarios against fresh sales",
		Long: `Simulate loads scenarios from YAML files and runs each against its own sale,
liquidity router and vesting engine. Scenarios run concurrently, up to the
configured number of workers. Trade journals are exported per scenario.

The command fails when any step does not end the way the scenario expects.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}
			log, err := newLogger(cfg, nil)
			if err != nil {
				return err
			}
			defer log.Sync()

			return runSimulate(cmd.Context(), cmd.OutOrStdout(), cfg, log, args, opts)
		},
	}
	cmd.Flags().StringVar(&opts.reportPath, "report", "", "write the full JSON report to this file")
	cmd.Flags().BoolVar(&opts.noExport, "no-export", false, "skip trade journal export")
	return cmd
}

func runSimulate(ctx context.Context, out io.Writer, cfg *config.Config, log *logger.Logger,
	files []string, opts *simulateOptions) error {
	defer log.TrackPerformance("simulate")()

	scenarios, err := loadScenarios(log, cfg, files)
	if err != nil {
		return err
	}

	collector := metrics.NewCollector()
	var server *http.Server
	if cfg.MetricsAddr != "" {
		server = serveMetrics(cfg.MetricsAddr, collector, log.Logger)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			_ = server.Shutdown(shutdownCtx)
		}()
	}

	runner := scenario.NewRunner(log.Logger,
		scenario.WithMetrics(collector),
		scenario.WithEventBus(cfg.EventBuffer, cfg.DeliveryAttempts))
	reports, err := runner.RunAll(ctx, scenarios, cfg.Workers)
	if err != nil {
		return err
	}

	printReports(out, reports)

	if !opts.noExport {
		exporter := export.NewTradeExporter(log.WithComponent("export"))
		for _, r := range reports {
			if len(r.Records) == 0 {
				continue
			}
			path, err := exporter.ExportTrades(r.Records, export.ExportOptions{
				Format:    export.ExportFormat(cfg.ExportFormat),
				OutputDir: cfg.ExportDir,
				Name:      fmt.Sprintf("%s_%s", r.Name, r.StartedAt.Format("20060102_150405")),
			})
			if err != nil {
				return fmt.Errorf("failed to export %q: %w", r.Name, err)
			}
			fmt.Fprintf(out, "Journal for %s written to %s\n", r.Name, path)
		}
	}

	if opts.reportPath != "" {
		if err := writeReport(opts.reportPath, reports); err != nil {
			return err
		}
	}

	if server != nil {
		log.Info("Serving metrics until interrupted", zap.String("addr", cfg.MetricsAddr))
		<-ctx.Done()
	}
	return scenario.Failed(reports)
}

func loadScenarios(log *logger.Logger, cfg *config.Config, files []string) ([]*scenario.Scenario, error) {
	loader := scenario.NewLoader(log.WithComponent("loader"), cfg.Sale)
	var scenarios []*scenario.Scenario
	for _, file := range files {
		loaded, err := loader.LoadFile(file)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", file, err)
		}
		scenarios = append(scenarios, loaded...)
	}
	return scenarios, nil
}

func serveMetrics(addr string, collector *metrics.Collector, log *zap.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(collector.Registry(), promhttp.HandlerOpts{}))
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Metrics server failed", zap.Error(err))
		}
	}()
	return server
}

func printReports(out io.Writer, reports []*scenario.Report) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SCENARIO\tSTEPS\tFAILURES\tSOLD\tRAISED\tGRADUATED\tPROGRESS\tBUY VOL\tSELL VOL")
	for _, r := range reports {
		fmt.Fprintf(w, "%s\t%d\t%d\t%s\t%s\t%t\t%.2f%%\t%s\t%s\n",
			r.Name,
			len(r.Steps),
			r.Failures,
			curve.FormatUnits(r.State.TokensSold),
			curve.FormatUnits(r.State.TotalRaised),
			r.State.Graduated,
			float64(r.Progress)/100,
			r.Summary.TotalBuyVolume.String(),
			r.Summary.TotalSellVolume.String())
	}
	_ = w.Flush()

	for _, r := range reports {
		for _, s := range r.Steps {
			if s.OK {
				continue
			}
			fmt.Fprintf(out, "  %s step %d (%s): unexpected outcome: %s\n", r.Name, s.Index, s.Action, orNone(s.Err))
		}
	}
}

func orNone(s string) string {
	if s == "" {
		return "no error"
	}
	return s
}

func writeReport(path string, reports []*scenario.Report) error {
	data, err := json.MarshalIndent(reports, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}
