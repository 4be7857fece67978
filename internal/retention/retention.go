// Package retention prunes aged execution log rows.
package retention

import (
	"context"
	"time"

	"aspri/internal/store"
	"aspri/pkg/logx"
)

// DefaultDays is the retention window applied when none is configured.
const DefaultDays = 30

type Config struct {
	Days     int
	Interval time.Duration
}

func (c Config) withDefaults() Config {
	if c.Days <= 0 {
		c.Days = DefaultDays
	}
	if c.Interval <= 0 {
		c.Interval = 24 * time.Hour
	}
	return c
}

type Purger struct {
	log logx.Logger
	cfg Config
	st  store.Store
	now func() time.Time
}

func New(log logx.Logger, cfg Config, st store.Store) *Purger {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Purger{log: log, cfg: cfg.withDefaults(), st: st, now: time.Now}
}

// PurgeOnce deletes executions that finished strictly before the cutoff
// and returns how many rows went.
func (p *Purger) PurgeOnce(ctx context.Context) (int64, error) {
	return p.PurgeOlderThan(ctx, p.cfg.Days)
}

// PurgeOlderThan applies an explicit window, for the CLI override.
func (p *Purger) PurgeOlderThan(ctx context.Context, days int) (int64, error) {
	if days <= 0 {
		days = DefaultDays
	}
	cutoff := p.now().AddDate(0, 0, -days)
	n, err := p.st.PurgeExecutionsBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		p.log.Info("execution log purged",
			logx.Int64("rows", n), logx.Int("days", days), logx.Time("cutoff", cutoff))
	}
	return n, nil
}

// Start runs the purge on its interval until ctx is cancelled. The first
// pass runs immediately so a long-stopped daemon catches up on boot.
func (p *Purger) Start(ctx context.Context) {
	go func() {
		if _, err := p.PurgeOnce(ctx); err != nil {
			p.log.Error("retention purge failed", logx.Err(err))
		}
		ticker := time.NewTicker(p.cfg.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := p.PurgeOnce(ctx); err != nil {
					p.log.Error("retention purge failed", logx.Err(err))
				}
			}
		}
	}()
}
