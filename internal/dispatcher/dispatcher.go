// Package dispatcher drives autonomous plugin execution.
//
// A minute-granularity tick scans for due schedules and fans each one out
// to a worker pool. Due schedules are claimed by a compare-and-set on
// next_run_at before the plugin runs, so two overlapping ticks (or two
// nodes) never double-run the same occurrence, and recomputation of the
// next run happens regardless of the execution outcome.
package dispatcher

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"aspri/internal/activation"
	"aspri/internal/registry"
	"aspri/internal/schedule"
	"aspri/internal/store"
	"aspri/pkg/logx"
)

type Config struct {
	Workers          int
	TickInterval     time.Duration
	ExecutionTimeout time.Duration
	// RatePerSec caps plugin executions per second across all workers.
	// 0 disables the limiter.
	RatePerSec int
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.TickInterval <= 0 {
		c.TickInterval = time.Minute
	}
	if c.ExecutionTimeout <= 0 {
		c.ExecutionTimeout = 2 * time.Minute
	}
	return c
}

type runKey struct {
	userID int64
	slug   string
}

type Dispatcher struct {
	log logx.Logger
	cfg Config
	reg *registry.Registry
	act *activation.Service
	st  store.Store

	limiter *rate.Limiter

	// now is swappable for tests.
	now func() time.Time

	mu      sync.Mutex
	running map[runKey]bool
	stopCh  chan struct{}
	queue   chan schedule.Spec
	wg      sync.WaitGroup

	// queueCap sizes the dispatch buffer; tests shrink it to force the
	// blocking enqueue path.
	queueCap int
}

func New(log logx.Logger, cfg Config, reg *registry.Registry, act *activation.Service, st store.Store) *Dispatcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	cfg = cfg.withDefaults()
	d := &Dispatcher{
		log:      log,
		cfg:      cfg,
		reg:      reg,
		act:      act,
		st:       st,
		now:      time.Now,
		running:  map[runKey]bool{},
		queueCap: 256,
	}
	if cfg.RatePerSec > 0 {
		d.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
	}
	return d
}

// Start launches the worker pool and the tick loop. Safe to call once.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	if d.stopCh != nil {
		d.mu.Unlock()
		return
	}
	d.stopCh = make(chan struct{})
	d.queue = make(chan schedule.Spec, d.queueCap)
	stopCh, queue := d.stopCh, d.queue
	d.mu.Unlock()

	for i := 0; i < d.cfg.Workers; i++ {
		d.wg.Add(1)
		go d.worker(ctx, stopCh, queue)
	}

	d.wg.Add(1)
	go d.tickLoop(ctx, stopCh)

	d.log.Info("dispatcher started",
		logx.Int("workers", d.cfg.Workers),
		logx.Duration("tick", d.cfg.TickInterval))
}

// Stop shuts down the tick loop and waits for workers to drain, bounded
// by ctx.
func (d *Dispatcher) Stop(ctx context.Context) {
	d.mu.Lock()
	if d.stopCh == nil {
		d.mu.Unlock()
		return
	}
	close(d.stopCh)
	d.stopCh = nil
	d.queue = nil
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		d.log.Info("dispatcher stopped")
	case <-ctx.Done():
		d.log.Warn("dispatcher stop timeout (continuing)", logx.Err(ctx.Err()))
	}
}

func (d *Dispatcher) tickLoop(ctx context.Context, stopCh chan struct{}) {
	defer d.wg.Done()

	ticker := time.NewTicker(d.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.C:
			if _, err := d.Tick(ctx); err != nil {
				d.log.Error("tick scan failed", logx.Err(err))
			}
		}
	}
}

// Tick performs one due-schedule scan and enqueues work. It returns the
// number of schedules enqueued. Enqueueing blocks when the buffer is
// full, so every schedule due in a scan reaches a worker; Stop or ctx
// cancellation abandons the remainder, which stays due for the next
// scan.
func (d *Dispatcher) Tick(ctx context.Context) (int, error) {
	d.mu.Lock()
	queue, stopCh := d.queue, d.stopCh
	d.mu.Unlock()
	if queue == nil {
		return 0, errors.New("dispatcher not started")
	}

	due, err := d.st.DueSchedules(ctx, d.now())
	if err != nil {
		return 0, err
	}
	n := 0
	for _, sp := range due {
		select {
		case queue <- sp:
			n++
		case <-stopCh:
			return n, nil
		case <-ctx.Done():
			return n, ctx.Err()
		}
	}
	if n > 0 {
		d.log.Debug("tick dispatched", logx.Int("due", len(due)), logx.Int("enqueued", n))
	}
	return n, nil
}

// ProcessDue runs every currently due schedule to completion using the
// configured worker width. Used by the one-shot CLI entry point.
func (d *Dispatcher) ProcessDue(ctx context.Context) (int, error) {
	due, err := d.st.DueSchedules(ctx, d.now())
	if err != nil {
		return 0, err
	}
	sem := make(chan struct{}, d.cfg.Workers)
	var wg sync.WaitGroup
	for _, sp := range due {
		sp := sp
		sem <- struct{}{}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			d.execScheduled(ctx, sp)
		}()
	}
	wg.Wait()
	return len(due), nil
}

func (d *Dispatcher) worker(ctx context.Context, stopCh chan struct{}, queue chan schedule.Spec) {
	defer d.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case sp := <-queue:
			d.execScheduled(ctx, sp)
		}
	}
}
