// Package activation owns per-user plugin enablement and configuration.
//
// All mutations of ActivationRecord rows go through this service; it
// serializes config reads and writes per (user, plugin) so executions see
// point-in-time snapshots and concurrent updates never tear.
package activation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"aspri/internal/plugin"
	"aspri/internal/registry"
	"aspri/internal/schedule"
	"aspri/internal/schema"
	"aspri/internal/store"
	"aspri/pkg/logx"
)

var (
	// ErrNotActive signals an operation that requires an active plugin.
	ErrNotActive = errors.New("plugin not active for user")
	// ErrNotInstalled signals activation before the system-wide install
	// flag was recorded.
	ErrNotInstalled = errors.New("plugin not installed")
)

// casRetries bounds the retry loop on config version conflicts.
const casRetries = 3

type key struct {
	userID int64
	slug   string
}

type Service struct {
	log logx.Logger
	reg *registry.Registry
	st  store.Store

	mu    sync.Mutex
	locks map[key]*sync.Mutex
}

func New(log logx.Logger, reg *registry.Registry, st store.Store) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		log:   log,
		reg:   reg,
		st:    st,
		locks: map[key]*sync.Mutex{},
	}
}

func (s *Service) lockFor(userID int64, slug string) *sync.Mutex {
	k := key{userID, slug}
	s.mu.Lock()
	defer s.mu.Unlock()
	l := s.locks[k]
	if l == nil {
		l = &sync.Mutex{}
		s.locks[k] = l
	}
	return l
}

// SyncInstalled records the install flag for every registered plugin and
// runs the plugin's Install hook for ones seen for the first time.
// Duplicate triggers are absorbed by the persisted flag.
func (s *Service) SyncInstalled(ctx context.Context) error {
	for _, p := range s.reg.All() {
		slug := p.Slug()
		installed, err := s.st.IsInstalled(ctx, slug)
		if err != nil {
			return err
		}
		if installed {
			continue
		}
		if err := p.Install(ctx); err != nil {
			return fmt.Errorf("plugin %s: install: %w", slug, err)
		}
		if err := s.st.MarkInstalled(ctx, slug); err != nil {
			return err
		}
		s.log.Info("plugin installed", logx.String("plugin", slug))
	}
	return nil
}

// Uninstall removes the system-wide install flag and runs the plugin's
// Uninstall hook. Per-user state is left to expire via deactivation.
func (s *Service) Uninstall(ctx context.Context, slug string) error {
	p, err := s.reg.Resolve(slug)
	if err != nil {
		return err
	}
	installed, err := s.st.IsInstalled(ctx, slug)
	if err != nil {
		return err
	}
	if !installed {
		return nil
	}
	if err := p.Uninstall(ctx); err != nil {
		return fmt.Errorf("plugin %s: uninstall: %w", slug, err)
	}
	if err := s.st.MarkUninstalled(ctx, slug); err != nil {
		return err
	}
	s.log.Info("plugin uninstalled", logx.String("plugin", slug))
	return nil
}

// Activate enables the plugin for one user. Calling it again while active
// is a no-op: the Activate hook runs exactly once per transition.
// A default schedule is seeded when the plugin supports scheduling and
// the user has none yet.
func (s *Service) Activate(ctx context.Context, userID int64, slug string) error {
	p, err := s.reg.Resolve(slug)
	if err != nil {
		return err
	}
	installed, err := s.st.IsInstalled(ctx, slug)
	if err != nil {
		return err
	}
	if !installed {
		return fmt.Errorf("%w: %s", ErrNotInstalled, slug)
	}

	l := s.lockFor(userID, slug)
	l.Lock()
	defer l.Unlock()

	now := time.Now()
	rec, err := s.st.GetActivation(ctx, userID, slug)
	switch {
	case errors.Is(err, store.ErrNotFound):
		rec = store.ActivationRecord{
			UserID:      userID,
			Slug:        slug,
			IsActive:    true,
			Config:      p.DefaultConfig().Clone(),
			ActivatedAt: now,
		}
		if err := s.st.PutActivation(ctx, rec); err != nil {
			return err
		}
	case err != nil:
		return err
	case rec.IsActive:
		return nil
	default:
		if err := s.st.SetActive(ctx, userID, slug, true, now); err != nil {
			return err
		}
	}

	if err := p.Activate(ctx, userID); err != nil {
		s.log.Warn("plugin activate hook failed",
			logx.String("plugin", slug), logx.Int64("user", userID), logx.Err(err))
	}

	if p.SupportsScheduling() {
		if err := s.seedDefaultSchedule(ctx, p, userID, now); err != nil {
			return err
		}
	}

	s.log.Info("plugin activated", logx.String("plugin", slug), logx.Int64("user", userID))
	return nil
}

func (s *Service) seedDefaultSchedule(ctx context.Context, p plugin.Plugin, userID int64, now time.Time) error {
	slug := p.Slug()
	if _, err := s.st.GetSchedule(ctx, userID, slug); err == nil {
		return nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return err
	}
	seed := p.DefaultSchedule()
	if seed == nil {
		return nil
	}
	sp := schedule.Spec{
		UserID: userID,
		Slug:   slug,
		Type:   seed.Type,
		Value:  seed.Value,
	}
	next, err := schedule.Next(sp, now)
	if err != nil {
		return err
	}
	sp.NextRunAt = next
	return s.st.UpsertSchedule(ctx, sp)
}

// Deactivate disables the plugin for one user, runs the Deactivate hook
// and cancels any pending schedule. Returns ErrNotActive when there is
// nothing to deactivate.
func (s *Service) Deactivate(ctx context.Context, userID int64, slug string) error {
	p, err := s.reg.Resolve(slug)
	if err != nil {
		return err
	}

	l := s.lockFor(userID, slug)
	l.Lock()
	defer l.Unlock()

	rec, err := s.st.GetActivation(ctx, userID, slug)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrNotActive, slug)
	}
	if err != nil {
		return err
	}
	if !rec.IsActive {
		return fmt.Errorf("%w: %s", ErrNotActive, slug)
	}

	if err := p.Deactivate(ctx, userID); err != nil {
		s.log.Warn("plugin deactivate hook failed",
			logx.String("plugin", slug), logx.Int64("user", userID), logx.Err(err))
	}
	if err := s.st.SetActive(ctx, userID, slug, false, time.Now()); err != nil {
		return err
	}
	if err := s.st.DeleteSchedules(ctx, userID, slug); err != nil {
		return err
	}

	s.log.Info("plugin deactivated", logx.String("plugin", slug), logx.Int64("user", userID))
	return nil
}

// UpdateConfig validates newCfg (schema pass, then the plugin's own
// semantic pass) and atomically replaces the stored config. On validation
// failure the field error map is returned and the stored config is left
// untouched.
func (s *Service) UpdateConfig(ctx context.Context, userID int64, slug string, newCfg schema.Config) (schema.Errors, error) {
	p, err := s.reg.Resolve(slug)
	if err != nil {
		return nil, err
	}

	if errs := schema.Validate(p.ConfigSchema(), newCfg); len(errs) > 0 {
		return errs, nil
	}
	if errs := p.ValidateConfig(newCfg); len(errs) > 0 {
		return errs, nil
	}

	l := s.lockFor(userID, slug)
	l.Lock()
	defer l.Unlock()

	for attempt := 0; attempt < casRetries; attempt++ {
		rec, err := s.st.GetActivation(ctx, userID, slug)
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotActive, slug)
		}
		if err != nil {
			return nil, err
		}
		err = s.st.ReplaceConfig(ctx, userID, slug, newCfg.Clone(), rec.ConfigVersion)
		if errors.Is(err, store.ErrConflict) {
			continue
		}
		return nil, err
	}
	return nil, store.ErrConflict
}

// ResetConfig restores the plugin's default configuration for the user.
func (s *Service) ResetConfig(ctx context.Context, userID int64, slug string) error {
	p, err := s.reg.Resolve(slug)
	if err != nil {
		return err
	}
	errs, err := s.UpdateConfig(ctx, userID, slug, p.DefaultConfig())
	if err != nil {
		return err
	}
	if len(errs) > 0 {
		// Defaults are compliance-checked at startup; reaching this means
		// the plugin changed its schema mid-flight.
		return errs
	}
	return nil
}

// Config returns a point-in-time snapshot of the user's effective config:
// schema defaults overlaid with stored values.
func (s *Service) Config(ctx context.Context, userID int64, slug string) (schema.Config, error) {
	p, err := s.reg.Resolve(slug)
	if err != nil {
		return nil, err
	}

	l := s.lockFor(userID, slug)
	l.Lock()
	defer l.Unlock()

	merged := p.DefaultConfig().Clone()
	if merged == nil {
		merged = schema.Config{}
	}
	rec, err := s.st.GetActivation(ctx, userID, slug)
	if errors.Is(err, store.ErrNotFound) {
		return merged, nil
	}
	if err != nil {
		return nil, err
	}
	for k, v := range rec.Config {
		merged[k] = v
	}
	return merged, nil
}

// Record returns the raw activation row.
func (s *Service) Record(ctx context.Context, userID int64, slug string) (store.ActivationRecord, error) {
	return s.st.GetActivation(ctx, userID, slug)
}

// SetSchedule creates or replaces the user's schedule for a plugin.
// The value is validated for its type at write time; nextRunAt is
// computed immediately so the spec never reaches the dispatcher stale.
func (s *Service) SetSchedule(ctx context.Context, userID int64, slug string, t schedule.Type, value string, metadata map[string]string) error {
	p, err := s.reg.Resolve(slug)
	if err != nil {
		return err
	}
	if !p.SupportsScheduling() {
		return fmt.Errorf("%w: plugin %s does not support scheduling", schedule.ErrBadSpec, slug)
	}
	if err := schedule.Validate(t, value); err != nil {
		return err
	}

	rec, err := s.st.GetActivation(ctx, userID, slug)
	if errors.Is(err, store.ErrNotFound) || (err == nil && !rec.IsActive) {
		return fmt.Errorf("%w: %s", ErrNotActive, slug)
	}
	if err != nil {
		return err
	}

	sp := schedule.Spec{
		UserID:   userID,
		Slug:     slug,
		Type:     t,
		Value:    value,
		Metadata: metadata,
	}
	next, err := schedule.Next(sp, time.Now())
	if err != nil {
		return err
	}
	sp.NextRunAt = next
	return s.st.UpsertSchedule(ctx, sp)
}

// ClearSchedule removes the user's schedule for a plugin.
func (s *Service) ClearSchedule(ctx context.Context, userID int64, slug string) error {
	return s.st.DeleteSchedules(ctx, userID, slug)
}
