package builtin

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"aspri/internal/plugin"
	"aspri/internal/schedule"
	"aspri/internal/schema"
)

// Habit tracks daily habit check-ins against a configurable goal and
// sends an evening summary.
//
// Check-in counts live in the durable plugin state keyed by day, so they
// survive restarts; the mutex serializes concurrent increments.
type Habit struct {
	plugin.Base

	mu sync.Mutex
}

func NewHabit(deps plugin.Deps) *Habit {
	p := &Habit{}
	p.InitBase(deps, p.Slug())
	return p
}

func (p *Habit) Slug() string        { return "habit-tracker" }
func (p *Habit) Name() string        { return "Habit Tracker" }
func (p *Habit) Description() string { return "Tracks daily habit check-ins against your goal." }
func (p *Habit) Version() string     { return "0.9.1" }
func (p *Habit) Icon() string        { return "check-circle" }

func (p *Habit) ConfigSchema() schema.Schema {
	return schema.Schema{
		{
			Key:      "daily_goal",
			Type:     schema.TypeInteger,
			Label:    "Check-ins per day",
			Default:  3,
			Required: true,
			Min:      schema.Bound(1),
			Max:      schema.Bound(20),
		},
		{
			Key:     "evening_summary",
			Type:    schema.TypeBoolean,
			Label:   "Send an evening summary",
			Default: true,
		},
	}
}

func (p *Habit) DefaultConfig() schema.Config {
	return p.ConfigSchema().Defaults()
}

func (p *Habit) SupportsScheduling() bool { return true }

func (p *Habit) DefaultSchedule() *schedule.Seed {
	return &schedule.Seed{Type: schedule.TypeDaily, Value: "21:00"}
}

func (p *Habit) SupportsChatIntegration() bool { return true }

func (p *Habit) ChatIntents() []plugin.ChatIntent {
	return []plugin.ChatIntent{
		{
			Action:      "plugin_habit_tracker_log",
			Description: "Record one habit check-in for today",
			Examples:    []string{"log my habit", "I did my workout", "check in"},
		},
		{
			Action:      "plugin_habit_tracker_status",
			Description: "Show today's progress toward the daily goal",
			Examples:    []string{"how am I doing today", "habit status"},
		},
	}
}

func (p *Habit) Execute(ctx context.Context, userID int64, cfg schema.Config, ec plugin.ExecContext) (plugin.Result, error) {
	goal := intValue(cfg["daily_goal"], 3)
	key := "checkins:" + time.Now().Format("2006-01-02")

	switch ec.Trigger {
	case plugin.TriggerChat:
		switch ec.Action {
		case "plugin_habit_tracker_log":
			p.mu.Lock()
			n, err := p.checkins(ctx, userID, key)
			if err == nil {
				n++
				err = p.SaveState(ctx, userID, key, strconv.Itoa(n))
			}
			p.mu.Unlock()
			if err != nil {
				return plugin.Result{}, fmt.Errorf("record check-in: %w", err)
			}
			if n >= goal {
				return plugin.Result{Message: fmt.Sprintf("Check-in %d/%d — goal reached, nice work! 🎉", n, goal)}, nil
			}
			return plugin.Result{Message: fmt.Sprintf("Check-in %d/%d recorded.", n, goal)}, nil
		case "plugin_habit_tracker_status":
			n, err := p.checkins(ctx, userID, key)
			if err != nil {
				return plugin.Result{}, fmt.Errorf("read check-ins: %w", err)
			}
			return plugin.Result{Message: fmt.Sprintf("Today: %d of %d check-ins.", n, goal)}, nil
		default:
			return plugin.Result{}, fmt.Errorf("unhandled action %q", ec.Action)
		}
	default:
		if on, _ := cfg["evening_summary"].(bool); !on {
			return plugin.Result{}, nil
		}
		n, err := p.checkins(ctx, userID, key)
		if err != nil {
			return plugin.Result{}, fmt.Errorf("read check-ins: %w", err)
		}
		text := fmt.Sprintf("Habit summary: %d of %d check-ins today.", n, goal)
		if err := p.Send(ctx, userID, text); err != nil {
			return plugin.Result{}, fmt.Errorf("deliver summary: %w", err)
		}
		return plugin.Result{Message: text}, nil
	}
}

// checkins reads today's counter. Unset or unparseable state reads as 0.
func (p *Habit) checkins(ctx context.Context, userID int64, key string) (int, error) {
	raw, err := p.LoadState(ctx, userID, key)
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, nil
	}
	return n, nil
}

// intValue tolerates both int and float64 since configs round-trip
// through JSON.
func intValue(v any, def int) int {
	switch x := v.(type) {
	case int:
		return x
	case int64:
		return int(x)
	case float64:
		return int(x)
	default:
		return def
	}
}
