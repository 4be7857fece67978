package activation

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"aspri/internal/plugin"
	"aspri/internal/registry"
	"aspri/internal/schedule"
	"aspri/internal/schema"
	"aspri/internal/store"
	"aspri/pkg/logx"
)

type fakePlugin struct {
	plugin.Base
	slug string

	installs    atomic.Int32
	activates   atomic.Int32
	deactivates atomic.Int32

	scheduling bool
	seed       *schedule.Seed
}

func (f *fakePlugin) Slug() string        { return f.slug }
func (f *fakePlugin) Name() string        { return "Fake" }
func (f *fakePlugin) Description() string { return "fake" }
func (f *fakePlugin) Version() string     { return "1.0.0" }

func (f *fakePlugin) ConfigSchema() schema.Schema {
	return schema.Schema{
		{Key: "frequency", Type: schema.TypeSelect, Options: []string{"daily", "weekly"}, Default: "daily", Required: true},
		{Key: "limit", Type: schema.TypeInteger, Min: schema.Bound(1), Max: schema.Bound(10), Default: 5},
	}
}

func (f *fakePlugin) DefaultConfig() schema.Config {
	return f.ConfigSchema().Defaults()
}

func (f *fakePlugin) Install(ctx context.Context) error { f.installs.Add(1); return nil }
func (f *fakePlugin) Activate(ctx context.Context, userID int64) error {
	f.activates.Add(1)
	return nil
}
func (f *fakePlugin) Deactivate(ctx context.Context, userID int64) error {
	f.deactivates.Add(1)
	return nil
}

func (f *fakePlugin) SupportsScheduling() bool        { return f.scheduling }
func (f *fakePlugin) DefaultSchedule() *schedule.Seed { return f.seed }

func (f *fakePlugin) Execute(ctx context.Context, userID int64, cfg schema.Config, ec plugin.ExecContext) (plugin.Result, error) {
	return plugin.Result{}, nil
}

func newFixture(t *testing.T, p *fakePlugin) (*Service, store.Store) {
	t.Helper()
	reg, err := registry.New(logx.Nop(), p)
	if err != nil {
		t.Fatalf("registry.New: %v", err)
	}
	st := store.NewMemory()
	svc := New(logx.Nop(), reg, st)
	if err := svc.SyncInstalled(context.Background()); err != nil {
		t.Fatalf("SyncInstalled: %v", err)
	}
	return svc, st
}

func TestActivateRequiresInstall(t *testing.T) {
	t.Parallel()

	p := &fakePlugin{slug: "fake"}
	reg, _ := registry.New(logx.Nop(), p)
	svc := New(logx.Nop(), reg, store.NewMemory())

	err := svc.Activate(context.Background(), 1, "fake")
	if !errors.Is(err, ErrNotInstalled) {
		t.Fatalf("Activate before install = %v, want ErrNotInstalled", err)
	}
}

func TestSyncInstalledRunsHookOnce(t *testing.T) {
	t.Parallel()

	p := &fakePlugin{slug: "fake"}
	svc, _ := newFixture(t, p)
	// Second pass sees the persisted flag and skips the hook.
	if err := svc.SyncInstalled(context.Background()); err != nil {
		t.Fatalf("SyncInstalled: %v", err)
	}
	if n := p.installs.Load(); n != 1 {
		t.Fatalf("install hook ran %d times, want 1", n)
	}
}

func TestActivateIsIdempotent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	p := &fakePlugin{slug: "fake"}
	svc, st := newFixture(t, p)

	if err := svc.Activate(ctx, 7, "fake"); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	if err := svc.Activate(ctx, 7, "fake"); err != nil {
		t.Fatalf("second Activate: %v", err)
	}
	if n := p.activates.Load(); n != 1 {
		t.Fatalf("activate hook ran %d times, want 1", n)
	}

	rec, err := st.GetActivation(ctx, 7, "fake")
	if err != nil {
		t.Fatalf("GetActivation: %v", err)
	}
	if !rec.IsActive {
		t.Fatalf("record not active")
	}
	if rec.Config["frequency"] != "daily" {
		t.Fatalf("default config not stored: %v", rec.Config)
	}
}

func TestActivateSeedsDefaultSchedule(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	p := &fakePlugin{
		slug:       "fake",
		scheduling: true,
		seed:       &schedule.Seed{Type: schedule.TypeDaily, Value: "09:00"},
	}
	svc, st := newFixture(t, p)

	if err := svc.Activate(ctx, 7, "fake"); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	sp, err := st.GetSchedule(ctx, 7, "fake")
	if err != nil {
		t.Fatalf("GetSchedule: %v", err)
	}
	if sp.Type != schedule.TypeDaily || sp.Value != "09:00" {
		t.Fatalf("seeded schedule = %+v", sp)
	}
	if sp.NextRunAt.IsZero() {
		t.Fatalf("seeded schedule has no next run")
	}

	// Deactivation clears schedules, so reactivation reseeds the default
	// even after the user customized it.
	if err := svc.SetSchedule(ctx, 7, "fake", schedule.TypeInterval, "2h", nil); err != nil {
		t.Fatalf("SetSchedule: %v", err)
	}
	if err := svc.Deactivate(ctx, 7, "fake"); err != nil {
		t.Fatalf("Deactivate: %v", err)
	}
	if err := svc.Activate(ctx, 7, "fake"); err != nil {
		t.Fatalf("re-Activate: %v", err)
	}
	sp, err = st.GetSchedule(ctx, 7, "fake")
	if err != nil {
		t.Fatalf("GetSchedule after reactivate: %v", err)
	}
	if sp.Type != schedule.TypeDaily {
		t.Fatalf("expected reseeded default after deactivation cleared schedules, got %+v", sp)
	}
}

func TestDeactivate(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	p := &fakePlugin{slug: "fake"}
	svc, st := newFixture(t, p)

	// Never activated.
	if err := svc.Deactivate(ctx, 7, "fake"); !errors.Is(err, ErrNotActive) {
		t.Fatalf("Deactivate fresh = %v, want ErrNotActive", err)
	}

	if err := svc.Activate(ctx, 7, "fake"); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	if err := svc.Deactivate(ctx, 7, "fake"); err != nil {
		t.Fatalf("Deactivate: %v", err)
	}
	rec, _ := st.GetActivation(ctx, 7, "fake")
	if rec.IsActive {
		t.Fatalf("record still active")
	}

	// Already inactive.
	if err := svc.Deactivate(ctx, 7, "fake"); !errors.Is(err, ErrNotActive) {
		t.Fatalf("second Deactivate = %v, want ErrNotActive", err)
	}
	if n := p.deactivates.Load(); n != 1 {
		t.Fatalf("deactivate hook ran %d times, want 1", n)
	}
}

func TestConfigSurvivesDeactivation(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	p := &fakePlugin{slug: "fake"}
	svc, _ := newFixture(t, p)

	if err := svc.Activate(ctx, 7, "fake"); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	if errs, err := svc.UpdateConfig(ctx, 7, "fake", schema.Config{"frequency": "weekly", "limit": 9}); err != nil || len(errs) > 0 {
		t.Fatalf("UpdateConfig: errs=%v err=%v", errs, err)
	}
	if err := svc.Deactivate(ctx, 7, "fake"); err != nil {
		t.Fatalf("Deactivate: %v", err)
	}
	if err := svc.Activate(ctx, 7, "fake"); err != nil {
		t.Fatalf("re-Activate: %v", err)
	}

	cfg, err := svc.Config(ctx, 7, "fake")
	if err != nil {
		t.Fatalf("Config: %v", err)
	}
	if cfg["frequency"] != "weekly" {
		t.Fatalf("config lost across deactivation: %v", cfg)
	}
}

func TestUpdateConfigRejectsInvalidOption(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	p := &fakePlugin{slug: "fake"}
	svc, st := newFixture(t, p)

	if err := svc.Activate(ctx, 7, "fake"); err != nil {
		t.Fatalf("Activate: %v", err)
	}

	errs, err := svc.UpdateConfig(ctx, 7, "fake", schema.Config{"frequency": "monthly"})
	if err != nil {
		t.Fatalf("UpdateConfig: %v", err)
	}
	if errs["frequency"] != "invalid option" {
		t.Fatalf("field errors = %v, want frequency: invalid option", errs)
	}

	// Stored config untouched.
	rec, _ := st.GetActivation(ctx, 7, "fake")
	if rec.Config["frequency"] != "daily" {
		t.Fatalf("stored config changed after rejected update: %v", rec.Config)
	}
	if rec.ConfigVersion != 0 {
		t.Fatalf("config version bumped on rejected update: %d", rec.ConfigVersion)
	}
}

func TestUpdateConfigUnknownFieldAndRange(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	p := &fakePlugin{slug: "fake"}
	svc, _ := newFixture(t, p)
	if err := svc.Activate(ctx, 7, "fake"); err != nil {
		t.Fatalf("Activate: %v", err)
	}

	errs, err := svc.UpdateConfig(ctx, 7, "fake", schema.Config{"frequency": "daily", "nope": 1, "limit": 99})
	if err != nil {
		t.Fatalf("UpdateConfig: %v", err)
	}
	if errs["nope"] != "unknown field" || errs["limit"] != "out of range" {
		t.Fatalf("field errors = %v", errs)
	}
}

func TestUpdateConfigBumpsVersion(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	p := &fakePlugin{slug: "fake"}
	svc, st := newFixture(t, p)
	if err := svc.Activate(ctx, 7, "fake"); err != nil {
		t.Fatalf("Activate: %v", err)
	}

	if errs, err := svc.UpdateConfig(ctx, 7, "fake", schema.Config{"frequency": "weekly"}); err != nil || len(errs) > 0 {
		t.Fatalf("UpdateConfig: errs=%v err=%v", errs, err)
	}
	rec, _ := st.GetActivation(ctx, 7, "fake")
	if rec.ConfigVersion != 1 {
		t.Fatalf("config version = %d, want 1", rec.ConfigVersion)
	}
	if rec.Config["frequency"] != "weekly" {
		t.Fatalf("config not replaced: %v", rec.Config)
	}
}

func TestUpdateConfigConcurrentWriters(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	p := &fakePlugin{slug: "fake"}
	svc, st := newFixture(t, p)
	if err := svc.Activate(ctx, 7, "fake"); err != nil {
		t.Fatalf("Activate: %v", err)
	}

	const writers = 8
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs, err := svc.UpdateConfig(ctx, 7, "fake", schema.Config{"frequency": "weekly", "limit": i + 1})
			if err != nil && !errors.Is(err, store.ErrConflict) {
				t.Errorf("UpdateConfig: %v", err)
			}
			if len(errs) > 0 {
				t.Errorf("field errors: %v", errs)
			}
		}()
	}
	wg.Wait()

	// The surviving config is exactly one of the submitted configs, never
	// a blend of two writers.
	rec, err := st.GetActivation(ctx, 7, "fake")
	if err != nil {
		t.Fatalf("GetActivation: %v", err)
	}
	if rec.Config["frequency"] != "weekly" {
		t.Fatalf("torn config: %v", rec.Config)
	}
	limit, ok := rec.Config["limit"].(int)
	if !ok || limit < 1 || limit > writers {
		t.Fatalf("stored limit is not one of the requests: %v", rec.Config)
	}
	if rec.ConfigVersion < 1 {
		t.Fatalf("config version = %d, want >= 1", rec.ConfigVersion)
	}
}

func TestResetConfigRestoresDefaults(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	p := &fakePlugin{slug: "fake"}
	svc, st := newFixture(t, p)

	// Nothing to reset yet.
	if err := svc.ResetConfig(ctx, 7, "fake"); !errors.Is(err, ErrNotActive) {
		t.Fatalf("ResetConfig without record = %v, want ErrNotActive", err)
	}

	if err := svc.Activate(ctx, 7, "fake"); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	if errs, err := svc.UpdateConfig(ctx, 7, "fake", schema.Config{"frequency": "weekly", "limit": 9}); err != nil || len(errs) > 0 {
		t.Fatalf("UpdateConfig: errs=%v err=%v", errs, err)
	}

	if err := svc.ResetConfig(ctx, 7, "fake"); err != nil {
		t.Fatalf("ResetConfig: %v", err)
	}
	cfg, err := svc.Config(ctx, 7, "fake")
	if err != nil {
		t.Fatalf("Config: %v", err)
	}
	if cfg["frequency"] != "daily" || cfg["limit"] != 5 {
		t.Fatalf("config after reset = %v", cfg)
	}
	rec, _ := st.GetActivation(ctx, 7, "fake")
	if rec.ConfigVersion != 2 {
		t.Fatalf("config version = %d, want 2", rec.ConfigVersion)
	}
}

func TestClearSchedule(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	p := &fakePlugin{slug: "fake", scheduling: true, seed: &schedule.Seed{Type: schedule.TypeDaily, Value: "09:00"}}
	svc, st := newFixture(t, p)

	if err := svc.Activate(ctx, 7, "fake"); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	if _, err := st.GetSchedule(ctx, 7, "fake"); err != nil {
		t.Fatalf("seeded schedule missing: %v", err)
	}

	if err := svc.ClearSchedule(ctx, 7, "fake"); err != nil {
		t.Fatalf("ClearSchedule: %v", err)
	}
	if _, err := st.GetSchedule(ctx, 7, "fake"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("GetSchedule after clear = %v, want ErrNotFound", err)
	}
}

func TestUpdateConfigWithoutActivation(t *testing.T) {
	t.Parallel()

	p := &fakePlugin{slug: "fake"}
	svc, _ := newFixture(t, p)

	_, err := svc.UpdateConfig(context.Background(), 7, "fake", schema.Config{"frequency": "weekly"})
	if !errors.Is(err, ErrNotActive) {
		t.Fatalf("UpdateConfig without record = %v, want ErrNotActive", err)
	}
}

func TestConfigMergesDefaults(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	p := &fakePlugin{slug: "fake"}
	svc, _ := newFixture(t, p)
	if err := svc.Activate(ctx, 7, "fake"); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	if errs, err := svc.UpdateConfig(ctx, 7, "fake", schema.Config{"frequency": "weekly"}); err != nil || len(errs) > 0 {
		t.Fatalf("UpdateConfig: errs=%v err=%v", errs, err)
	}

	cfg, err := svc.Config(ctx, 7, "fake")
	if err != nil {
		t.Fatalf("Config: %v", err)
	}
	if cfg["frequency"] != "weekly" {
		t.Fatalf("stored value not applied: %v", cfg)
	}
	if cfg["limit"] != 5 {
		t.Fatalf("default not merged for absent key: %v", cfg)
	}
}

func TestSetScheduleGuards(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	p := &fakePlugin{slug: "fake", scheduling: true, seed: &schedule.Seed{Type: schedule.TypeDaily, Value: "09:00"}}
	svc, _ := newFixture(t, p)

	// Not active yet.
	if err := svc.SetSchedule(ctx, 7, "fake", schedule.TypeDaily, "10:00", nil); !errors.Is(err, ErrNotActive) {
		t.Fatalf("SetSchedule inactive = %v, want ErrNotActive", err)
	}

	if err := svc.Activate(ctx, 7, "fake"); err != nil {
		t.Fatalf("Activate: %v", err)
	}

	// Invalid value rejected at write time.
	if err := svc.SetSchedule(ctx, 7, "fake", schedule.TypeDaily, "26:00", nil); !errors.Is(err, schedule.ErrBadSpec) {
		t.Fatalf("SetSchedule bad value = %v, want ErrBadSpec", err)
	}
	if err := svc.SetSchedule(ctx, 7, "fake", schedule.TypeInterval, "30s", nil); !errors.Is(err, schedule.ErrBadSpec) {
		t.Fatalf("SetSchedule sub-minute interval = %v, want ErrBadSpec", err)
	}

	if err := svc.SetSchedule(ctx, 7, "fake", schedule.TypeWeekly, "MON:08:00", map[string]string{"note": "x"}); err != nil {
		t.Fatalf("SetSchedule: %v", err)
	}
}
