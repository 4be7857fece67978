package plugin

import (
	"context"

	"aspri/internal/schedule"
	"aspri/internal/schema"
	"aspri/pkg/logx"
)

// Base is a small helper to make writing plugins faster and safer.
// It provides no-op lifecycle hooks and conservative capability defaults;
// embed it and override what the plugin actually supports.
//
// Typical usage:
//
//	type Plugin struct { plugin.Base }
//	func New(deps plugin.Deps) *Plugin { p := &Plugin{}; p.InitBase(deps, p.Slug()); return p }
type Base struct {
	Log    logx.Logger
	Notify Notifier

	slug  string
	state StateStore
}

// Deps are the collaborators handed to plugin constructors. Plugins stay
// stateless beyond these; per-user config lives in the activation store
// and any other durable per-user data goes through State.
type Deps struct {
	Logger   logx.Logger
	Notifier Notifier
	State    StateStore
}

// InitBase wires deps + a slug-scoped logger.
func (b *Base) InitBase(deps Deps, slug string) {
	b.slug = slug
	b.Notify = deps.Notifier
	b.state = deps.State
	if !deps.Logger.IsZero() {
		b.Log = deps.Logger.With(logx.String("plugin", slug))
	} else {
		b.Log = logx.Nop().With(logx.String("plugin", slug))
	}
}

func (b *Base) Author() string { return "ASPRI Team" }
func (b *Base) Icon() string   { return "puzzle-piece" }

func (b *Base) Install(ctx context.Context) error   { return nil }
func (b *Base) Uninstall(ctx context.Context) error { return nil }

func (b *Base) Activate(ctx context.Context, userID int64) error   { return nil }
func (b *Base) Deactivate(ctx context.Context, userID int64) error { return nil }

// ValidateConfig is the plugin-specific semantic hook; schema validation
// already ran by the time it is called. Default: nothing extra to check.
func (b *Base) ValidateConfig(cfg schema.Config) schema.Errors { return nil }

func (b *Base) SupportsScheduling() bool        { return false }
func (b *Base) DefaultSchedule() *schedule.Seed { return nil }
func (b *Base) SupportsChatIntegration() bool   { return false }
func (b *Base) ChatIntents() []ChatIntent       { return nil }

// Send delivers text to the user through the configured notifier, if any.
func (b *Base) Send(ctx context.Context, userID int64, text string) error {
	if b.Notify == nil {
		return nil
	}
	return b.Notify.Send(ctx, userID, text)
}

// LoadState reads one durable value for the user, scoped to this plugin's
// slug. Without a state backend it reads as unset.
func (b *Base) LoadState(ctx context.Context, userID int64, key string) (string, error) {
	if b.state == nil {
		return "", nil
	}
	return b.state.GetState(ctx, userID, b.slug, key)
}

// SaveState writes one durable value for the user.
func (b *Base) SaveState(ctx context.Context, userID int64, key, value string) error {
	if b.state == nil {
		return nil
	}
	return b.state.PutState(ctx, userID, b.slug, key, value)
}
