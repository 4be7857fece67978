package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"aspri/pkg/logx"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the assistant daemon (scheduler, retention, config reload)",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		a.log.Info("aspri starting",
			logx.Int("plugins", len(a.reg.All())),
			logx.String("config", configPath))

		if a.cfg.SchedulerEnabled() {
			a.disp.Start(ctx)
		} else {
			a.log.Warn("scheduler disabled by config")
		}
		a.purger.Start(ctx)

		// Hot reload: logging level/sinks apply immediately. Storage and
		// scheduler shape changes need a restart and are logged as such.
		go func() {
			if err := a.mgr.Watch(ctx); err != nil {
				a.log.Error("config watch stopped", logx.Err(err))
			}
		}()
		updates := a.mgr.Subscribe(1)
		defer a.mgr.Unsubscribe(updates)

		for {
			select {
			case <-ctx.Done():
				a.log.Info("shutting down")
				stopCtx, stopCancel := context.WithTimeout(context.Background(), 15*time.Second)
				a.disp.Stop(stopCtx)
				stopCancel()
				return nil
			case cfg, ok := <-updates:
				if !ok {
					return nil
				}
				a.logs.Apply(cfg.LogxConfig())
				if cfg.Storage != a.cfg.Storage || cfg.Scheduler != a.cfg.Scheduler {
					a.log.Warn("storage/scheduler config changed; restart to apply")
				}
				a.cfg = cfg
			}
		}
	},
}
