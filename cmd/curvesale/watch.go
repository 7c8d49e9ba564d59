package main

import (
	"context"
	"errors"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/curvesale/internal/scenario"
	"github.com/rovshanmuradov/curvesale/internal/ui"
	"github.com/rovshanmuradov/curvesale/internal/utils/logger"
)

func newWatchCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "watch [scenario-file...]",
		Short: "Run scenarios with a live dashboard",
		Long: `Watch runs the same scenarios as simulate but shows each sale's trades,
graduation progress and recent logs in a full-screen dashboard. Logs still
go to the configured log file.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}
			buffer := logger.NewLogBuffer(200)
			log, err := newLogger(cfg, buffer)
			if err != nil {
				return err
			}
			defer log.Sync()

			scenarios, err := loadScenarios(log, cfg, args)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			feed := ui.NewFeed(cfg.EventBuffer, log.Logger)
			runner := scenario.NewRunner(log.Logger,
				scenario.WithObserver(feed),
				scenario.WithEventBus(cfg.EventBuffer, cfg.DeliveryAttempts))

			done := make(chan struct{})
			go func() {
				defer close(done)
				reports, err := runner.RunAll(ctx, scenarios, cfg.Workers)
				if err == nil {
					err = scenario.Failed(reports)
				}
				feed.Finish(err)
			}()

			dashboard := ui.NewDashboard(feed, buffer)
			_, runErr := tea.NewProgram(dashboard, tea.WithAltScreen(), tea.WithContext(ctx)).Run()

			cancel()
			feed.Close()
			<-done

			if runErr != nil && !errors.Is(runErr, tea.ErrProgramKilled) {
				return fmt.Errorf("dashboard failed: %w", runErr)
			}
			if !dashboard.Finished() {
				log.Info("Dashboard closed before the run finished")
				return context.Canceled
			}
			if err := dashboard.Err(); err != nil {
				log.Error("Run finished with errors", zap.Error(err))
				return err
			}
			return nil
		},
	}
}
