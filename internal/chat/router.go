// Package chat routes assistant intent actions to plugin executions.
//
// Actions follow the plugin_<slug>_<intent> convention; the router maps
// the prefix back to a registered plugin, enforces the per-user
// activation gate and runs the plugin synchronously.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"aspri/internal/activation"
	"aspri/internal/dispatcher"
	"aspri/internal/plugin"
	"aspri/internal/registry"
	"aspri/internal/store"
	"aspri/pkg/logx"
)

// ErrUnknownAction is returned when no registered plugin claims the
// action prefix.
var ErrUnknownAction = errors.New("no plugin handles action")

type Router struct {
	log  logx.Logger
	reg  *registry.Registry
	act  *activation.Service
	disp *dispatcher.Dispatcher
}

func NewRouter(log logx.Logger, reg *registry.Registry, act *activation.Service, disp *dispatcher.Dispatcher) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Router{log: log, reg: reg, act: act, disp: disp}
}

// ResolveAction maps an intent action to the plugin owning its prefix.
// Slugs may contain dashes that the prefix flattens to underscores, so
// resolution matches against every registered prefix and takes the
// longest hit rather than splitting on underscores.
func (r *Router) ResolveAction(action string) (plugin.Plugin, error) {
	var best plugin.Plugin
	bestLen := 0
	for _, p := range r.reg.All() {
		prefix := plugin.IntentPrefix(p.Slug())
		if strings.HasPrefix(action, prefix) && len(prefix) > bestLen {
			best, bestLen = p, len(prefix)
		}
	}
	if best == nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, action)
	}
	return best, nil
}

// Intents returns the chat intents of every plugin the user has active.
// Inactive plugins contribute nothing, so the assistant never offers an
// action the router would reject.
func (r *Router) Intents(ctx context.Context, userID int64) ([]plugin.ChatIntent, error) {
	var out []plugin.ChatIntent
	for _, p := range r.reg.All() {
		if !p.SupportsChatIntegration() {
			continue
		}
		rec, err := r.act.Record(ctx, userID, p.Slug())
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if !rec.IsActive {
			continue
		}
		out = append(out, p.ChatIntents()...)
	}
	return out, nil
}

// Handle executes the plugin behind an intent action and renders the
// reply text. Plugin failures never surface raw: unless the plugin
// explicitly marked the error as user-facing, the user gets a generic
// message and the detail stays in the log and the execution record.
func (r *Router) Handle(ctx context.Context, userID int64, action string, entities map[string]any) (string, error) {
	p, err := r.ResolveAction(action)
	if err != nil {
		return "", err
	}
	slug := p.Slug()

	res, err := r.disp.Run(ctx, userID, slug, plugin.ExecContext{
		Trigger:  plugin.TriggerChat,
		Action:   action,
		Entities: entities,
	})
	switch {
	case errors.Is(err, activation.ErrNotActive):
		return fmt.Sprintf("%s is not active. Activate it first to use this.", p.Name()), nil
	case err != nil:
		r.log.Warn("chat execution failed",
			logx.String("plugin", slug), logx.Int64("user", userID),
			logx.String("action", action), logx.Err(err))
		if plugin.IsUserFacing(err) {
			return err.Error(), nil
		}
		return fmt.Sprintf("Something went wrong while running %s. Please try again later.", p.Name()), nil
	}

	if res.Message == "" {
		return fmt.Sprintf("%s finished.", p.Name()), nil
	}
	return res.Message, nil
}
