package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"aspri/internal/schedule"
	"aspri/internal/schema"
)

// memoryStore is a mutex-guarded in-process Store. It backs tests and the
// "memory" driver; semantics (CAS guards, due-scan join) match sqlite.
type memoryStore struct {
	mu sync.Mutex

	installs    map[string]time.Time
	activations map[actKey]ActivationRecord
	schedules   map[actKey]schedule.Spec
	state       map[stateKey]string
	executions  []ExecutionLogEntry
}

type stateKey struct {
	userID int64
	slug   string
	key    string
}

type actKey struct {
	userID int64
	slug   string
}

// NewMemory returns an empty in-process store.
func NewMemory() Store {
	return &memoryStore{
		installs:    map[string]time.Time{},
		activations: map[actKey]ActivationRecord{},
		schedules:   map[actKey]schedule.Spec{},
		state:       map[stateKey]string{},
	}
}

func (m *memoryStore) Close() error { return nil }

func (m *memoryStore) MarkInstalled(ctx context.Context, slug string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.installs[slug]; !ok {
		m.installs[slug] = time.Now()
	}
	return nil
}

func (m *memoryStore) MarkUninstalled(ctx context.Context, slug string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.installs, slug)
	return nil
}

func (m *memoryStore) IsInstalled(ctx context.Context, slug string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.installs[slug]
	return ok, nil
}

func (m *memoryStore) GetActivation(ctx context.Context, userID int64, slug string) (ActivationRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.activations[actKey{userID, slug}]
	if !ok {
		return ActivationRecord{}, ErrNotFound
	}
	rec.Config = rec.Config.Clone()
	return rec, nil
}

func (m *memoryStore) PutActivation(ctx context.Context, rec ActivationRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec.Config = rec.Config.Clone()
	m.activations[actKey{rec.UserID, rec.Slug}] = rec
	return nil
}

func (m *memoryStore) SetActive(ctx context.Context, userID int64, slug string, active bool, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := actKey{userID, slug}
	rec, ok := m.activations[k]
	if !ok {
		return ErrNotFound
	}
	rec.IsActive = active
	if active {
		rec.ActivatedAt = at
	} else {
		rec.DeactivatedAt = at
	}
	m.activations[k] = rec
	return nil
}

func (m *memoryStore) ReplaceConfig(ctx context.Context, userID int64, slug string, cfg schema.Config, prevVersion int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := actKey{userID, slug}
	rec, ok := m.activations[k]
	if !ok {
		return ErrNotFound
	}
	if rec.ConfigVersion != prevVersion {
		return ErrConflict
	}
	rec.Config = cfg.Clone()
	rec.ConfigVersion++
	m.activations[k] = rec
	return nil
}

func (m *memoryStore) ActivationsForUser(ctx context.Context, userID int64) ([]ActivationRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []ActivationRecord
	for k, rec := range m.activations {
		if k.userID != userID {
			continue
		}
		rec.Config = rec.Config.Clone()
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slug < out[j].Slug })
	return out, nil
}

func (m *memoryStore) UpsertSchedule(ctx context.Context, sp schedule.Spec) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.schedules[actKey{sp.UserID, sp.Slug}] = sp
	return nil
}

func (m *memoryStore) GetSchedule(ctx context.Context, userID int64, slug string) (schedule.Spec, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sp, ok := m.schedules[actKey{userID, slug}]
	if !ok {
		return schedule.Spec{}, ErrNotFound
	}
	return sp, nil
}

func (m *memoryStore) DeleteSchedules(ctx context.Context, userID int64, slug string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.schedules, actKey{userID, slug})
	return nil
}

func (m *memoryStore) DueSchedules(ctx context.Context, now time.Time) ([]schedule.Spec, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []schedule.Spec
	for k, sp := range m.schedules {
		if sp.NextRunAt.IsZero() || sp.NextRunAt.After(now) {
			continue
		}
		rec, ok := m.activations[k]
		if !ok || !rec.IsActive {
			continue
		}
		out = append(out, sp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NextRunAt.Before(out[j].NextRunAt) })
	return out, nil
}

func (m *memoryStore) CommitRun(ctx context.Context, userID int64, slug string, lastRun, nextRun, prevNext time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := actKey{userID, slug}
	sp, ok := m.schedules[k]
	if !ok {
		return ErrNotFound
	}
	if !sp.NextRunAt.Equal(prevNext) {
		return ErrConflict
	}
	sp.LastRunAt = lastRun
	sp.NextRunAt = nextRun
	m.schedules[k] = sp
	return nil
}

func (m *memoryStore) GetState(ctx context.Context, userID int64, slug, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state[stateKey{userID, slug, key}], nil
}

func (m *memoryStore) PutState(ctx context.Context, userID int64, slug, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state[stateKey{userID, slug, key}] = value
	return nil
}

func (m *memoryStore) AppendExecution(ctx context.Context, e ExecutionLogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.executions = append(m.executions, e)
	return nil
}

func (m *memoryStore) RecentExecutions(ctx context.Context, userID int64, slug string, limit int) ([]ExecutionLogEntry, error) {
	if limit <= 0 {
		limit = 20
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []ExecutionLogEntry
	for i := len(m.executions) - 1; i >= 0 && len(out) < limit; i-- {
		e := m.executions[i]
		if e.UserID == userID && e.Slug == slug {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *memoryStore) PurgeExecutionsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.executions[:0]
	var purged int64
	for _, e := range m.executions {
		if e.FinishedAt.Before(cutoff) {
			purged++
			continue
		}
		kept = append(kept, e)
	}
	m.executions = kept
	return purged, nil
}
