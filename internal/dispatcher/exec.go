package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	"aspri/internal/activation"
	"aspri/internal/plugin"
	"aspri/internal/schedule"
	"aspri/internal/schema"
	"aspri/internal/store"
	"aspri/pkg/logx"
)

// execScheduled runs one due schedule end to end: claim, execute, log.
//
// The claim happens before the plugin runs. Next run is recomputed from
// the moment of this run and committed with a guard on the previously
// observed next_run_at; losing the guard means another tick (or node)
// already took this occurrence, so we back off without executing. The
// claim-first ordering is what makes recomputation unconditional: a
// failing or panicking plugin cannot leave its schedule stuck in the due
// window.
func (d *Dispatcher) execScheduled(ctx context.Context, sp schedule.Spec) {
	k := runKey{sp.UserID, sp.Slug}
	d.mu.Lock()
	if d.running[k] {
		// Previous run for this pair still in flight; the schedule stays
		// due and a later tick retries.
		d.mu.Unlock()
		return
	}
	d.running[k] = true
	d.mu.Unlock()
	defer func() {
		d.mu.Lock()
		delete(d.running, k)
		d.mu.Unlock()
	}()

	p, err := d.reg.Resolve(sp.Slug)
	if err != nil {
		// Stale row for a plugin no longer compiled in. Not an error for
		// the tick; the row is swept when the user deactivates.
		d.log.Debug("skipping schedule for unknown plugin",
			logx.String("plugin", sp.Slug), logx.Int64("user", sp.UserID))
		return
	}

	rec, err := d.act.Record(ctx, sp.UserID, sp.Slug)
	if err != nil || !rec.IsActive {
		return
	}

	now := d.now()
	scheduledAt := sp.NextRunAt

	sp.LastRunAt = now
	next, err := schedule.Next(sp, now)
	if err != nil {
		d.log.Error("schedule recompute failed",
			logx.String("plugin", sp.Slug), logx.Int64("user", sp.UserID), logx.Err(err))
		return
	}
	err = d.st.CommitRun(ctx, sp.UserID, sp.Slug, now, next, scheduledAt)
	if errors.Is(err, store.ErrConflict) || errors.Is(err, store.ErrNotFound) {
		return
	}
	if err != nil {
		d.log.Error("schedule claim failed",
			logx.String("plugin", sp.Slug), logx.Int64("user", sp.UserID), logx.Err(err))
		return
	}

	cfg, err := d.act.Config(ctx, sp.UserID, sp.Slug)
	if err != nil {
		d.log.Error("config snapshot failed",
			logx.String("plugin", sp.Slug), logx.Int64("user", sp.UserID), logx.Err(err))
		cfg = schema.Config{}
	}

	if d.limiter != nil {
		if err := d.limiter.Wait(ctx); err != nil {
			return
		}
	}

	ec := plugin.ExecContext{
		Trigger:     plugin.TriggerScheduled,
		ScheduledAt: scheduledAt,
		Metadata:    sp.Metadata,
	}
	started := d.now()
	_, execErr := d.invoke(ctx, p, sp.UserID, cfg, ec)
	d.appendLog(ctx, sp.UserID, sp.Slug, started, plugin.TriggerScheduled, execErr)

	if execErr != nil {
		d.log.Warn("scheduled execution failed",
			logx.String("plugin", sp.Slug), logx.Int64("user", sp.UserID),
			logx.Time("next_run", next), logx.Err(execErr))
		return
	}
	d.log.Debug("scheduled execution ok",
		logx.String("plugin", sp.Slug), logx.Int64("user", sp.UserID),
		logx.Time("next_run", next))
}

// Run executes a plugin on behalf of a chat or manual trigger,
// synchronously relative to the caller. It enforces the activation gate
// and records the execution, but takes no scheduler locks.
func (d *Dispatcher) Run(ctx context.Context, userID int64, slug string, ec plugin.ExecContext) (plugin.Result, error) {
	p, err := d.reg.Resolve(slug)
	if err != nil {
		return plugin.Result{}, err
	}
	rec, err := d.act.Record(ctx, userID, slug)
	if errors.Is(err, store.ErrNotFound) || (err == nil && !rec.IsActive) {
		return plugin.Result{}, fmt.Errorf("%w: %s", activation.ErrNotActive, slug)
	}
	if err != nil {
		return plugin.Result{}, err
	}
	cfg, err := d.act.Config(ctx, userID, slug)
	if err != nil {
		return plugin.Result{}, err
	}

	started := d.now()
	res, execErr := d.invoke(ctx, p, userID, cfg, ec)
	d.appendLog(ctx, userID, slug, started, ec.Trigger, execErr)
	return res, execErr
}

// invoke calls Execute under the configured timeout and converts panics
// into errors so one plugin cannot take the process down.
func (d *Dispatcher) invoke(ctx context.Context, p plugin.Plugin, userID int64, cfg schema.Config, ec plugin.ExecContext) (res plugin.Result, err error) {
	ctx, cancel := context.WithTimeout(ctx, d.cfg.ExecutionTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			d.log.Error("plugin panic recovered",
				logx.String("plugin", p.Slug()),
				logx.Int64("user", userID),
				logx.Any("panic", r),
				logx.Stack(string(debug.Stack())))
			res = plugin.Result{}
			err = fmt.Errorf("plugin %s panicked: %v", p.Slug(), r)
		}
	}()

	return p.Execute(ctx, userID, cfg, ec)
}

func (d *Dispatcher) appendLog(ctx context.Context, userID int64, slug string, started time.Time, trigger plugin.TriggerKind, execErr error) {
	entry := store.ExecutionLogEntry{
		ID:         uuid.NewString(),
		UserID:     userID,
		Slug:       slug,
		StartedAt:  started,
		FinishedAt: d.now(),
		Outcome:    store.OutcomeSuccess,
		Trigger:    string(trigger),
	}
	if execErr != nil {
		entry.Outcome = store.OutcomeFailure
		entry.ErrorMessage = execErr.Error()
	}
	if err := d.st.AppendExecution(ctx, entry); err != nil {
		d.log.Error("execution log append failed",
			logx.String("plugin", slug), logx.Int64("user", userID), logx.Err(err))
	}
}
