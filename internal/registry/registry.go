// Package registry indexes the compiled-in plugin set by slug.
//
// The registry is built once at process start and is immutable afterwards;
// per-user state (activation, config, schedules) lives in the store, never
// here.
package registry

import (
	"errors"
	"fmt"
	"sort"

	"aspri/internal/plugin"
	"aspri/pkg/logx"
)

// ErrNotFound is returned by Resolve for unknown slugs.
var ErrNotFound = errors.New("plugin not found")

type Registry struct {
	log    logx.Logger
	bySlug map[string]plugin.Plugin
	order  []string
}

// New builds a registry from the given plugins. Duplicate slugs and
// contract violations are fatal: ambiguous identity is not recoverable.
func New(log logx.Logger, plugins ...plugin.Plugin) (*Registry, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	r := &Registry{log: log, bySlug: make(map[string]plugin.Plugin, len(plugins))}

	for _, p := range plugins {
		if err := plugin.Comply(p); err != nil {
			return nil, err
		}
		slug := p.Slug()
		if _, dup := r.bySlug[slug]; dup {
			return nil, fmt.Errorf("duplicate plugin slug %q", slug)
		}
		r.bySlug[slug] = p
		r.order = append(r.order, slug)
	}
	sort.Strings(r.order)

	log.Debug("plugin registry built", logx.Int("plugins", len(r.order)))
	return r, nil
}

// Resolve returns the plugin registered under slug.
func (r *Registry) Resolve(slug string) (plugin.Plugin, error) {
	p, ok := r.bySlug[slug]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, slug)
	}
	return p, nil
}

// All returns every registered plugin in slug order, for deterministic
// listings.
func (r *Registry) All() []plugin.Plugin {
	out := make([]plugin.Plugin, 0, len(r.order))
	for _, slug := range r.order {
		out = append(out, r.bySlug[slug])
	}
	return out
}

// Descriptors returns the identity cards of all registered plugins, in
// slug order.
func (r *Registry) Descriptors() []plugin.Descriptor {
	out := make([]plugin.Descriptor, 0, len(r.order))
	for _, slug := range r.order {
		out = append(out, plugin.Describe(r.bySlug[slug]))
	}
	return out
}
