package dispatcher

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"aspri/internal/activation"
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

	execs   atomic.Int32
	failErr error
	panics  bool
}

func (f *fakePlugin) Slug() string                 { return f.slug }
func (f *fakePlugin) Name() string                 { return "Fake" }
func (f *fakePlugin) Description() string          { return "fake" }
func (f *fakePlugin) Version() string              { return "1.0.0" }
func (f *fakePlugin) ConfigSchema() schema.Schema  { return nil }
func (f *fakePlugin) DefaultConfig() schema.Config { return nil }
func (f *fakePlugin) SupportsScheduling() bool     { return true }
func (f *fakePlugin) DefaultSchedule() *schedule.Seed {
	return &schedule.Seed{Type: schedule.TypeDaily, Value: "09:00"}
}

func (f *fakePlugin) Execute(ctx context.Context, userID int64, cfg schema.Config, ec plugin.ExecContext) (plugin.Result, error) {
	f.execs.Add(1)
	if f.panics {
		panic("boom")
	}
	if f.failErr != nil {
		return plugin.Result{}, f.failErr
	}
	return plugin.Result{Message: "ok"}, nil
}

type fixture struct {
	st   store.Store
	act  *activation.Service
	disp *Dispatcher
	now  time.Time
}

func newFixture(t *testing.T, plugins ...plugin.Plugin) *fixture {
	t.Helper()
	reg, err := registry.New(logx.Nop(), plugins...)
	if err != nil {
		t.Fatalf("registry.New: %v", err)
	}
	st := store.NewMemory()
	act := activation.New(logx.Nop(), reg, st)
	if err := act.SyncInstalled(context.Background()); err != nil {
		t.Fatalf("SyncInstalled: %v", err)
	}
	disp := New(logx.Nop(), Config{Workers: 2, ExecutionTimeout: 5 * time.Second}, reg, act, st)
	fx := &fixture{st: st, act: act, disp: disp, now: time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)}
	disp.now = func() time.Time { return fx.now }
	return fx
}

// due installs an hourly schedule whose next run is already in the past.
func (fx *fixture) due(t *testing.T, userID int64, slug string) {
	t.Helper()
	ctx := context.Background()
	if err := fx.act.Activate(ctx, userID, slug); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	sp := schedule.Spec{
		UserID:    userID,
		Slug:      slug,
		Type:      schedule.TypeInterval,
		Value:     "1h",
		LastRunAt: fx.now.Add(-2 * time.Hour),
		NextRunAt: fx.now.Add(-time.Hour),
	}
	if err := fx.st.UpsertSchedule(ctx, sp); err != nil {
		t.Fatalf("UpsertSchedule: %v", err)
	}
}

func (fx *fixture) executions(t *testing.T, userID int64, slug string) []store.ExecutionLogEntry {
	t.Helper()
	out, err := fx.st.RecentExecutions(context.Background(), userID, slug, 50)
	if err != nil {
		t.Fatalf("RecentExecutions: %v", err)
	}
	return out
}

func TestProcessDueRunsAndRecomputes(t *testing.T) {
	t.Parallel()

	p := &fakePlugin{slug: "good"}
	fx := newFixture(t, p)
	fx.due(t, 7, "good")

	n, err := fx.disp.ProcessDue(context.Background())
	if err != nil {
		t.Fatalf("ProcessDue: %v", err)
	}
	if n != 1 {
		t.Fatalf("ProcessDue = %d, want 1", n)
	}
	if got := p.execs.Load(); got != 1 {
		t.Fatalf("plugin executed %d times, want 1", got)
	}

	sp, err := fx.st.GetSchedule(context.Background(), 7, "good")
	if err != nil {
		t.Fatalf("GetSchedule: %v", err)
	}
	if want := fx.now.Add(time.Hour); !sp.NextRunAt.Equal(want) {
		t.Fatalf("nextRunAt = %v, want %v", sp.NextRunAt, want)
	}
	if !sp.LastRunAt.Equal(fx.now) {
		t.Fatalf("lastRunAt = %v, want %v", sp.LastRunAt, fx.now)
	}

	logs := fx.executions(t, 7, "good")
	if len(logs) != 1 {
		t.Fatalf("executions = %d, want 1", len(logs))
	}
	e := logs[0]
	if e.Outcome != store.OutcomeSuccess || e.Trigger != string(plugin.TriggerScheduled) {
		t.Fatalf("log entry = %+v", e)
	}
	if e.ID == "" {
		t.Fatalf("log entry has no id")
	}
}

func TestProcessDueIsolatesFailures(t *testing.T) {
	t.Parallel()

	bad := &fakePlugin{slug: "bad", failErr: errors.New("upstream down")}
	good := &fakePlugin{slug: "good"}
	fx := newFixture(t, bad, good)
	fx.due(t, 7, "bad")
	fx.due(t, 7, "good")

	if _, err := fx.disp.ProcessDue(context.Background()); err != nil {
		t.Fatalf("ProcessDue: %v", err)
	}

	// The failure did not stop the healthy plugin.
	if got := good.execs.Load(); got != 1 {
		t.Fatalf("good plugin executed %d times, want 1", got)
	}

	badLogs := fx.executions(t, 7, "bad")
	if len(badLogs) != 1 || badLogs[0].Outcome != store.OutcomeFailure {
		t.Fatalf("bad executions = %+v", badLogs)
	}
	if badLogs[0].ErrorMessage == "" {
		t.Fatalf("failure entry has no error message")
	}

	// Recompute happens regardless of outcome.
	sp, _ := fx.st.GetSchedule(context.Background(), 7, "bad")
	if !sp.NextRunAt.After(fx.now) {
		t.Fatalf("failed plugin's nextRunAt not advanced: %v", sp.NextRunAt)
	}
}

func TestProcessDueRecoversPanic(t *testing.T) {
	t.Parallel()

	p := &fakePlugin{slug: "wild", panics: true}
	fx := newFixture(t, p)
	fx.due(t, 7, "wild")

	if _, err := fx.disp.ProcessDue(context.Background()); err != nil {
		t.Fatalf("ProcessDue: %v", err)
	}

	logs := fx.executions(t, 7, "wild")
	if len(logs) != 1 || logs[0].Outcome != store.OutcomeFailure {
		t.Fatalf("executions = %+v", logs)
	}
	sp, _ := fx.st.GetSchedule(context.Background(), 7, "wild")
	if !sp.NextRunAt.After(fx.now) {
		t.Fatalf("panicking plugin's nextRunAt not advanced: %v", sp.NextRunAt)
	}
}

func TestProcessDueRunsAtMostOncePerOccurrence(t *testing.T) {
	t.Parallel()

	p := &fakePlugin{slug: "good"}
	fx := newFixture(t, p)
	fx.due(t, 7, "good")

	if _, err := fx.disp.ProcessDue(context.Background()); err != nil {
		t.Fatalf("ProcessDue: %v", err)
	}
	// Second pass at the same instant: nextRunAt has moved out of the due
	// window, nothing runs again.
	n, err := fx.disp.ProcessDue(context.Background())
	if err != nil {
		t.Fatalf("second ProcessDue: %v", err)
	}
	if n != 0 {
		t.Fatalf("second pass dispatched %d, want 0", n)
	}
	if got := p.execs.Load(); got != 1 {
		t.Fatalf("plugin executed %d times, want 1", got)
	}
}

func TestProcessDueSkipsStaleSlug(t *testing.T) {
	t.Parallel()

	p := &fakePlugin{slug: "good"}
	fx := newFixture(t, p)
	fx.due(t, 7, "good")

	// A row for a plugin that is no longer compiled in. The memory store
	// only returns due rows with an active activation, so fabricate one.
	ctx := context.Background()
	if err := fx.st.PutActivation(ctx, store.ActivationRecord{UserID: 7, Slug: "ghost", IsActive: true}); err != nil {
		t.Fatalf("PutActivation: %v", err)
	}
	if err := fx.st.UpsertSchedule(ctx, schedule.Spec{
		UserID: 7, Slug: "ghost", Type: schedule.TypeInterval, Value: "1h",
		NextRunAt: fx.now.Add(-time.Minute),
	}); err != nil {
		t.Fatalf("UpsertSchedule: %v", err)
	}

	if _, err := fx.disp.ProcessDue(ctx); err != nil {
		t.Fatalf("ProcessDue: %v", err)
	}
	if logs := fx.executions(t, 7, "ghost"); len(logs) != 0 {
		t.Fatalf("stale slug produced executions: %+v", logs)
	}
	// The healthy plugin still ran.
	if got := p.execs.Load(); got != 1 {
		t.Fatalf("good plugin executed %d times, want 1", got)
	}
}

func TestTickRequiresStart(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, &fakePlugin{slug: "good"})
	if _, err := fx.disp.Tick(context.Background()); err == nil {
		t.Fatalf("Tick before Start succeeded")
	}
}

func TestTickEnqueuesEveryDueSchedule(t *testing.T) {
	t.Parallel()

	p := &fakePlugin{slug: "good"}
	fx := newFixture(t, p)
	for userID := int64(1); userID <= 4; userID++ {
		fx.due(t, userID, "good")
	}

	// One worker and a one-slot buffer force the blocking enqueue path.
	fx.disp.cfg.Workers = 1
	fx.disp.queueCap = 1

	ctx := context.Background()
	fx.disp.Start(ctx)
	defer fx.disp.Stop(ctx)

	n, err := fx.disp.Tick(ctx)
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if n != 4 {
		t.Fatalf("Tick enqueued %d, want 4", n)
	}

	deadline := time.After(5 * time.Second)
	for p.execs.Load() < 4 {
		select {
		case <-deadline:
			t.Fatalf("only %d of 4 executions completed", p.execs.Load())
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestRunRequiresActivation(t *testing.T) {
	t.Parallel()

	p := &fakePlugin{slug: "good"}
	fx := newFixture(t, p)

	_, err := fx.disp.Run(context.Background(), 7, "good", plugin.ExecContext{Trigger: plugin.TriggerManual})
	if !errors.Is(err, activation.ErrNotActive) {
		t.Fatalf("Run without activation = %v, want ErrNotActive", err)
	}
	if logs := fx.executions(t, 7, "good"); len(logs) != 0 {
		t.Fatalf("rejected run produced executions: %+v", logs)
	}
}

func TestRunRecordsManualExecution(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	p := &fakePlugin{slug: "good"}
	fx := newFixture(t, p)
	if err := fx.act.Activate(ctx, 7, "good"); err != nil {
		t.Fatalf("Activate: %v", err)
	}

	res, err := fx.disp.Run(ctx, 7, "good", plugin.ExecContext{Trigger: plugin.TriggerManual})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Message != "ok" {
		t.Fatalf("result = %+v", res)
	}

	logs := fx.executions(t, 7, "good")
	if len(logs) != 1 || logs[0].Trigger != string(plugin.TriggerManual) {
		t.Fatalf("executions = %+v", logs)
	}
}
