package store

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"aspri/internal/schedule"
	"aspri/internal/schema"
)

func TestReplaceConfigCAS(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := NewMemory()
	rec := ActivationRecord{UserID: 1, Slug: "reminder", IsActive: true, Config: schema.Config{"a": "x"}}
	if err := st.PutActivation(ctx, rec); err != nil {
		t.Fatalf("PutActivation: %v", err)
	}

	if err := st.ReplaceConfig(ctx, 1, "reminder", schema.Config{"a": "y"}, 0); err != nil {
		t.Fatalf("ReplaceConfig: %v", err)
	}
	// Stale version loses.
	err := st.ReplaceConfig(ctx, 1, "reminder", schema.Config{"a": "z"}, 0)
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("stale ReplaceConfig = %v, want ErrConflict", err)
	}

	got, err := st.GetActivation(ctx, 1, "reminder")
	if err != nil {
		t.Fatalf("GetActivation: %v", err)
	}
	if got.Config["a"] != "y" || got.ConfigVersion != 1 {
		t.Fatalf("record = %+v", got)
	}

	if err := st.ReplaceConfig(ctx, 9, "ghost", schema.Config{}, 0); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing record = %v, want ErrNotFound", err)
	}
}

func TestReplaceConfigConcurrentWriters(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := NewMemory()
	if err := st.PutActivation(ctx, ActivationRecord{UserID: 1, Slug: "reminder", IsActive: true}); err != nil {
		t.Fatalf("PutActivation: %v", err)
	}

	// All writers observed version 0; exactly one CAS may land.
	const writers = 8
	var wg sync.WaitGroup
	var wins atomic.Int32
	for i := 0; i < writers; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := st.ReplaceConfig(ctx, 1, "reminder", schema.Config{"limit": i}, 0)
			switch {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, ErrConflict):
			default:
				t.Errorf("ReplaceConfig: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := wins.Load(); got != 1 {
		t.Fatalf("%d writers won the CAS, want exactly 1", got)
	}
	rec, err := st.GetActivation(ctx, 1, "reminder")
	if err != nil {
		t.Fatalf("GetActivation: %v", err)
	}
	if rec.ConfigVersion != 1 {
		t.Fatalf("config version = %d, want 1", rec.ConfigVersion)
	}
	limit, ok := rec.Config["limit"].(int)
	if !ok || limit < 0 || limit >= writers {
		t.Fatalf("stored config is not one of the requests: %v", rec.Config)
	}
}

func TestCommitRunGuard(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := NewMemory()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	prev := now.Add(-time.Hour)

	sp := schedule.Spec{UserID: 1, Slug: "reminder", Type: schedule.TypeInterval, Value: "1h", NextRunAt: prev}
	if err := st.UpsertSchedule(ctx, sp); err != nil {
		t.Fatalf("UpsertSchedule: %v", err)
	}

	next := now.Add(time.Hour)
	if err := st.CommitRun(ctx, 1, "reminder", now, next, prev); err != nil {
		t.Fatalf("CommitRun: %v", err)
	}
	// A concurrent tick observing the old next_run_at loses the race.
	if err := st.CommitRun(ctx, 1, "reminder", now, next.Add(time.Hour), prev); !errors.Is(err, ErrConflict) {
		t.Fatalf("stale CommitRun = %v, want ErrConflict", err)
	}

	got, _ := st.GetSchedule(ctx, 1, "reminder")
	if !got.NextRunAt.Equal(next) || !got.LastRunAt.Equal(now) {
		t.Fatalf("schedule = %+v", got)
	}
}

func TestDueSchedulesFiltering(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := NewMemory()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	put := func(userID int64, slug string, active bool, next time.Time) {
		t.Helper()
		if err := st.PutActivation(ctx, ActivationRecord{UserID: userID, Slug: slug, IsActive: active}); err != nil {
			t.Fatalf("PutActivation: %v", err)
		}
		if err := st.UpsertSchedule(ctx, schedule.Spec{
			UserID: userID, Slug: slug, Type: schedule.TypeInterval, Value: "1h", NextRunAt: next,
		}); err != nil {
			t.Fatalf("UpsertSchedule: %v", err)
		}
	}

	put(1, "due", true, now.Add(-time.Minute))
	put(1, "future", true, now.Add(time.Minute))
	put(1, "inactive", false, now.Add(-time.Minute))
	put(2, "due", true, now) // exactly now counts as due

	due, err := st.DueSchedules(ctx, now)
	if err != nil {
		t.Fatalf("DueSchedules: %v", err)
	}
	if len(due) != 2 {
		t.Fatalf("due = %+v, want 2 entries", due)
	}
	for _, sp := range due {
		if sp.Slug != "due" {
			t.Fatalf("unexpected due schedule %+v", sp)
		}
	}
}

func TestDeleteSchedules(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := NewMemory()
	sp := schedule.Spec{UserID: 1, Slug: "reminder", Type: schedule.TypeDaily, Value: "09:00", NextRunAt: time.Now()}
	if err := st.UpsertSchedule(ctx, sp); err != nil {
		t.Fatalf("UpsertSchedule: %v", err)
	}
	if err := st.DeleteSchedules(ctx, 1, "reminder"); err != nil {
		t.Fatalf("DeleteSchedules: %v", err)
	}
	if _, err := st.GetSchedule(ctx, 1, "reminder"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetSchedule after delete = %v, want ErrNotFound", err)
	}
}
