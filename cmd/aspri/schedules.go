package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"aspri/pkg/logx"
)

// processSchedulesCmd is the cron-style entry point: one due-scan pass,
// all due executions run to completion, then exit. Failed plugin
// executions are recorded in the execution log and do not affect the
// exit code; only infrastructure faults (config, store) exit non-zero.
var processSchedulesCmd = &cobra.Command{
	Use:   "process-schedules",
	Short: "Run all currently due plugin schedules once and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		n, err := a.disp.ProcessDue(ctx)
		if err != nil {
			return err
		}
		a.log.Info("schedule pass complete", logx.Int("due", n))
		return nil
	},
}
