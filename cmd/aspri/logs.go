package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"aspri/internal/retention"
	"aspri/pkg/logx"
)

var cleanupDays int

var cleanupLogsCmd = &cobra.Command{
	Use:   "cleanup-logs",
	Short: "Purge execution log entries older than the retention window",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		days := cleanupDays
		if days <= 0 {
			days = a.cfg.Retention.Days
		}
		n, err := a.purger.PurgeOlderThan(ctx, days)
		if err != nil {
			return err
		}
		a.log.Info("cleanup complete", logx.Int64("purged", n))
		return nil
	},
}

func init() {
	cleanupLogsCmd.Flags().IntVar(&cleanupDays, "days", retention.DefaultDays, "purge entries older than this many days")
}
