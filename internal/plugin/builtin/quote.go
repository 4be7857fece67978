package builtin

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"aspri/internal/plugin"
	"aspri/internal/schedule"
	"aspri/internal/schema"
)

type quoteEntry struct {
	text   string
	author string
	tags   []string
}

// quoteShelf is the built-in corpus; an external quote API can replace it
// later without touching the plugin surface.
var quoteShelf = []quoteEntry{
	{"The impediment to action advances action. What stands in the way becomes the way.", "Marcus Aurelius", []string{"stoicism", "motivation"}},
	{"We suffer more often in imagination than in reality.", "Seneca", []string{"stoicism"}},
	{"It does not matter how slowly you go as long as you do not stop.", "Confucius", []string{"motivation", "wisdom"}},
	{"The only true wisdom is in knowing you know nothing.", "Socrates", []string{"wisdom"}},
	{"Do what you can, with what you have, where you are.", "Theodore Roosevelt", []string{"motivation"}},
	{"Knowing yourself is the beginning of all wisdom.", "Aristotle", []string{"wisdom"}},
	{"I have not failed. I've just found 10,000 ways that won't work.", "Thomas Edison", []string{"motivation", "humor"}},
	{"The best way to predict the future is to invent it.", "Alan Kay", []string{"wisdom", "motivation"}},
}

// Quote delivers a quote of the day, optionally filtered by tag.
type Quote struct {
	plugin.Base

	mu  sync.Mutex
	rng *rand.Rand
}

func NewQuote(deps plugin.Deps) *Quote {
	p := &Quote{rng: rand.New(rand.NewSource(time.Now().UnixNano()))}
	p.InitBase(deps, p.Slug())
	return p
}

func (p *Quote) Slug() string        { return "quote-of-the-day" }
func (p *Quote) Name() string        { return "Quote of the Day" }
func (p *Quote) Description() string { return "A daily dose of quotes, filtered to your taste." }
func (p *Quote) Version() string     { return "1.0.3" }
func (p *Quote) Icon() string        { return "chat-quote" }

func (p *Quote) ConfigSchema() schema.Schema {
	return schema.Schema{
		{
			Key:     "daily_quote",
			Type:    schema.TypeBoolean,
			Label:   "Send a quote every day",
			Default: true,
		},
		{
			Key:         "delivery_time",
			Type:        schema.TypeString,
			Label:       "Delivery time",
			Default:     "08:00",
			Condition:   "daily_quote == true",
			Description: "HH:MM, 24h clock.",
		},
		{
			Key:     "tags",
			Type:    schema.TypeMultiselect,
			Label:   "Preferred topics",
			Options: []string{"motivation", "wisdom", "stoicism", "humor"},
			Default: []string{"motivation"},
		},
	}
}

func (p *Quote) DefaultConfig() schema.Config {
	return p.ConfigSchema().Defaults()
}

func (p *Quote) ValidateConfig(cfg schema.Config) schema.Errors {
	raw, ok := cfg["delivery_time"].(string)
	if !ok {
		return nil
	}
	if _, err := time.Parse("15:04", strings.TrimSpace(raw)); err != nil {
		return schema.Errors{"delivery_time": "invalid type"}
	}
	return nil
}

func (p *Quote) SupportsScheduling() bool { return true }

func (p *Quote) DefaultSchedule() *schedule.Seed {
	return &schedule.Seed{Type: schedule.TypeDaily, Value: "08:00"}
}

func (p *Quote) SupportsChatIntegration() bool { return true }

func (p *Quote) ChatIntents() []plugin.ChatIntent {
	return []plugin.ChatIntent{
		{
			Action:      "plugin_quote_of_the_day_get",
			Description: "Get a quote right now",
			Entities:    map[string]string{"tag": "string|null"},
			Examples:    []string{"give me a quote", "inspire me", "quote about wisdom"},
		},
	}
}

func (p *Quote) Execute(ctx context.Context, userID int64, cfg schema.Config, ec plugin.ExecContext) (plugin.Result, error) {
	tags := tagFilter(cfg["tags"])
	if ec.Trigger == plugin.TriggerChat {
		if t, ok := ec.Entities["tag"].(string); ok && t != "" {
			tags = []string{t}
		}
	}

	q, ok := p.pick(tags)
	if !ok {
		return plugin.Result{}, plugin.UserFacing(fmt.Errorf("no quotes found for topics %v", tags))
	}
	text := fmt.Sprintf("“%s” — %s", q.text, q.author)

	if ec.Trigger == plugin.TriggerScheduled {
		if on, _ := cfg["daily_quote"].(bool); !on {
			// User keeps the schedule but paused delivery.
			return plugin.Result{}, nil
		}
		if err := p.Send(ctx, userID, text); err != nil {
			return plugin.Result{}, fmt.Errorf("deliver quote: %w", err)
		}
	}
	return plugin.Result{Message: text}, nil
}

func (p *Quote) pick(tags []string) (quoteEntry, bool) {
	var pool []quoteEntry
	for _, q := range quoteShelf {
		if matchesAny(q.tags, tags) {
			pool = append(pool, q)
		}
	}
	if len(pool) == 0 {
		return quoteEntry{}, false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return pool[p.rng.Intn(len(pool))], true
}

func tagFilter(v any) []string {
	switch x := v.(type) {
	case []string:
		return x
	case []any:
		out := make([]string, 0, len(x))
		for _, e := range x {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func matchesAny(have, want []string) bool {
	if len(want) == 0 {
		return true
	}
	for _, w := range want {
		for _, h := range have {
			if strings.EqualFold(h, w) {
				return true
			}
		}
	}
	return false
}
