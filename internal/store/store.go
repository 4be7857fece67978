package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"aspri/internal/schedule"
	"aspri/internal/schema"
	"aspri/pkg/logx"
)

// Store is the persistence API the runtime is written against.
//
// Mutations to activations and schedules go through the activation service
// and dispatcher respectively; no other component writes these rows.
type Store interface {
	// System-wide install bookkeeping.
	MarkInstalled(ctx context.Context, slug string) error
	MarkUninstalled(ctx context.Context, slug string) error
	IsInstalled(ctx context.Context, slug string) (bool, error)

	// Per-user activations.
	GetActivation(ctx context.Context, userID int64, slug string) (ActivationRecord, error)
	PutActivation(ctx context.Context, rec ActivationRecord) error
	SetActive(ctx context.Context, userID int64, slug string, active bool, at time.Time) error
	// ReplaceConfig atomically swaps the stored config. prevVersion must
	// match the current ConfigVersion or ErrConflict is returned.
	ReplaceConfig(ctx context.Context, userID int64, slug string, cfg schema.Config, prevVersion int64) error
	ActivationsForUser(ctx context.Context, userID int64) ([]ActivationRecord, error)

	// Schedules.
	UpsertSchedule(ctx context.Context, sp schedule.Spec) error
	GetSchedule(ctx context.Context, userID int64, slug string) (schedule.Spec, error)
	DeleteSchedules(ctx context.Context, userID int64, slug string) error
	// DueSchedules returns specs with next_run_at <= now whose owning
	// activation is active.
	DueSchedules(ctx context.Context, now time.Time) ([]schedule.Spec, error)
	// CommitRun records lastRun and the recomputed nextRun, guarded by the
	// previously observed next_run_at (two concurrent ticks must not
	// double-schedule). Returns ErrConflict when the guard misses.
	CommitRun(ctx context.Context, userID int64, slug string, lastRun, nextRun, prevNext time.Time) error

	// Durable per-(user, plugin) key-value state. GetState returns ""
	// with a nil error for keys never written.
	GetState(ctx context.Context, userID int64, slug, key string) (string, error)
	PutState(ctx context.Context, userID int64, slug, key, value string) error

	// Execution log.
	AppendExecution(ctx context.Context, e ExecutionLogEntry) error
	RecentExecutions(ctx context.Context, userID int64, slug string, limit int) ([]ExecutionLogEntry, error)
	// PurgeExecutionsBefore deletes entries with finished_at < cutoff and
	// returns the number deleted.
	PurgeExecutionsBefore(ctx context.Context, cutoff time.Time) (int64, error)

	Close() error
}

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	case "memory":
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}
