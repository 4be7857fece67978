package plugin

import (
	"context"
	"strings"
	"time"

	"aspri/internal/schedule"
	"aspri/internal/schema"
)

// TriggerKind says what originated an execution.
type TriggerKind string

const (
	TriggerScheduled TriggerKind = "scheduled"
	TriggerChat      TriggerKind = "chat"
	TriggerManual    TriggerKind = "manual"
)

// ExecContext carries trigger-specific data into Execute.
//
// For chat triggers, Action and Entities hold the routed intent. For
// scheduled triggers, ScheduledAt and Metadata come from the schedule row.
type ExecContext struct {
	Trigger     TriggerKind
	Action      string
	Entities    map[string]any
	ScheduledAt time.Time
	Metadata    map[string]string
}

// Result is what an execution hands back to its caller. Message, if set,
// is user-facing (the chat layer relays it verbatim).
type Result struct {
	Message string
	Data    any
}

// ChatIntent declares one natural-language action a plugin can handle.
//
// Action must be prefixed with "plugin_<slug>_" where the slug has dashes
// replaced by underscores. Entities maps slot names to a type hint for the
// NLU layer (e.g. "period": "string|null"). Examples must be non-empty.
type ChatIntent struct {
	Action      string
	Description string
	Entities    map[string]string
	Examples    []string
}

// Plugin is the capability contract every plugin implements.
//
// Identity accessors are pure and constant for the plugin's lifetime.
// Install/Uninstall are system-wide one-time hooks; Activate/Deactivate
// run once per user transition. Execute is the unit of work: expected
// domain failures should be reported via the returned error, which the
// dispatcher records as a failed execution without halting anything else.
// Config passed to Execute is pre-validated by the caller.
type Plugin interface {
	Slug() string
	Name() string
	Description() string
	Version() string
	Author() string
	Icon() string

	Install(ctx context.Context) error
	Uninstall(ctx context.Context) error
	Activate(ctx context.Context, userID int64) error
	Deactivate(ctx context.Context, userID int64) error

	ConfigSchema() schema.Schema
	DefaultConfig() schema.Config
	ValidateConfig(cfg schema.Config) schema.Errors

	Execute(ctx context.Context, userID int64, cfg schema.Config, ec ExecContext) (Result, error)

	SupportsScheduling() bool
	DefaultSchedule() *schedule.Seed

	SupportsChatIntegration() bool
	ChatIntents() []ChatIntent
}

// Descriptor is the identity card derived from a plugin instance.
type Descriptor struct {
	Slug        string
	Name        string
	Description string
	Version     string
	Author      string
	Icon        string
}

// Describe builds a Descriptor from a plugin.
func Describe(p Plugin) Descriptor {
	return Descriptor{
		Slug:        p.Slug(),
		Name:        p.Name(),
		Description: p.Description(),
		Version:     p.Version(),
		Author:      p.Author(),
		Icon:        p.Icon(),
	}
}

// IntentPrefix returns the required action prefix for a slug
// ("birthday-reminder" -> "plugin_birthday_reminder_").
func IntentPrefix(slug string) string {
	return "plugin_" + strings.ReplaceAll(slug, "-", "_") + "_"
}

// Notifier delivers a user-facing message. Delivery transport (Telegram,
// mail, push) is an external collaborator behind this interface.
type Notifier interface {
	Send(ctx context.Context, userID int64, text string) error
}

// StateStore is durable per-(user, plugin) key-value state. Plugins hold
// no per-user data in memory; anything that must survive a restart goes
// through here. GetState returns "" with a nil error for unwritten keys.
type StateStore interface {
	GetState(ctx context.Context, userID int64, slug, key string) (string, error)
	PutState(ctx context.Context, userID int64, slug, key, value string) error
}
