// Package builtin holds the plugins compiled into the assistant binary.
package builtin

import (
	"context"
	"fmt"
	"strings"

	"aspri/internal/plugin"
	"aspri/internal/schedule"
	"aspri/internal/schema"
)

// Reminder nags the user with a configured message on a daily or weekly
// cadence and lets chat adjust what it says.
type Reminder struct {
	plugin.Base
}

func NewReminder(deps plugin.Deps) *Reminder {
	p := &Reminder{}
	p.InitBase(deps, p.Slug())
	return p
}

func (p *Reminder) Slug() string        { return "reminder" }
func (p *Reminder) Name() string        { return "Reminder" }
func (p *Reminder) Description() string { return "Sends recurring reminders with a custom message." }
func (p *Reminder) Version() string     { return "1.2.0" }
func (p *Reminder) Icon() string        { return "bell" }

func (p *Reminder) ConfigSchema() schema.Schema {
	return schema.Schema{
		{
			Key:      "frequency",
			Type:     schema.TypeSelect,
			Label:    "Frequency",
			Options:  []string{"daily", "weekly"},
			Default:  "daily",
			Required: true,
		},
		{
			Key:         "message",
			Type:        schema.TypeString,
			Label:       "Reminder message",
			Default:     "Don't forget your tasks today!",
			Required:    true,
			Description: "Text delivered on every reminder.",
		},
		{
			Key:       "weekly_day",
			Type:      schema.TypeSelect,
			Label:     "Day of week",
			Options:   []string{"MON", "TUE", "WED", "THU", "FRI", "SAT", "SUN"},
			Default:   "MON",
			Condition: "frequency == weekly",
		},
	}
}

func (p *Reminder) DefaultConfig() schema.Config {
	return p.ConfigSchema().Defaults()
}

func (p *Reminder) ValidateConfig(cfg schema.Config) schema.Errors {
	if msg, ok := cfg["message"].(string); ok && strings.TrimSpace(msg) == "" {
		return schema.Errors{"message": "required"}
	}
	return nil
}

func (p *Reminder) SupportsScheduling() bool { return true }

func (p *Reminder) DefaultSchedule() *schedule.Seed {
	return &schedule.Seed{Type: schedule.TypeDaily, Value: "09:00"}
}

func (p *Reminder) SupportsChatIntegration() bool { return true }

func (p *Reminder) ChatIntents() []plugin.ChatIntent {
	return []plugin.ChatIntent{
		{
			Action:      "plugin_reminder_show",
			Description: "Show the current reminder message and frequency",
			Examples:    []string{"what is my reminder", "show my reminder settings"},
		},
	}
}

func (p *Reminder) Execute(ctx context.Context, userID int64, cfg schema.Config, ec plugin.ExecContext) (plugin.Result, error) {
	msg, _ := cfg["message"].(string)
	freq, _ := cfg["frequency"].(string)

	switch ec.Trigger {
	case plugin.TriggerChat:
		switch ec.Action {
		case "plugin_reminder_show":
			return plugin.Result{
				Message: fmt.Sprintf("Your %s reminder says: %q", freq, msg),
			}, nil
		default:
			return plugin.Result{}, fmt.Errorf("unhandled action %q", ec.Action)
		}
	default:
		if err := p.Send(ctx, userID, "⏰ "+msg); err != nil {
			return plugin.Result{}, fmt.Errorf("deliver reminder: %w", err)
		}
		return plugin.Result{Message: msg}, nil
	}
}
