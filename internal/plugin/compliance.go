package plugin

import (
	"fmt"
	"regexp"
	"strings"

	"aspri/internal/schedule"
	"aspri/internal/schema"
)

var slugRe = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)

// Comply checks the static contract of a plugin. It runs once at registry
// construction; a violation is a programming error in the plugin, so the
// registry treats it as fatal.
//
// Checked:
//   - slug is URL-safe (lowercase, digits, single dashes)
//   - identity accessors are non-empty where it matters
//   - config schema is well-formed (types, options, condition references)
//   - defaults validate clean against the schema
//   - scheduling support implies a valid default schedule seed
//   - chat support implies at least one intent, each with the
//     plugin_<slug>_ action prefix, entities and non-empty examples
func Comply(p Plugin) error {
	slug := p.Slug()
	if !slugRe.MatchString(slug) {
		return fmt.Errorf("plugin %q: slug is not URL-safe", slug)
	}
	if strings.TrimSpace(p.Name()) == "" {
		return fmt.Errorf("plugin %q: empty name", slug)
	}
	if strings.TrimSpace(p.Version()) == "" {
		return fmt.Errorf("plugin %q: empty version", slug)
	}

	s := p.ConfigSchema()
	if err := s.Check(); err != nil {
		return fmt.Errorf("plugin %q: %w", slug, err)
	}
	if errs := schema.Validate(s, p.DefaultConfig()); len(errs) > 0 {
		return fmt.Errorf("plugin %q: default config invalid: %w", slug, errs)
	}

	if p.SupportsScheduling() {
		seed := p.DefaultSchedule()
		if seed == nil {
			return fmt.Errorf("plugin %q: scheduling supported but no default schedule", slug)
		}
		if err := schedule.Validate(seed.Type, seed.Value); err != nil {
			return fmt.Errorf("plugin %q: default schedule: %w", slug, err)
		}
	}

	if p.SupportsChatIntegration() {
		intents := p.ChatIntents()
		if len(intents) == 0 {
			return fmt.Errorf("plugin %q: chat integration supported but no intents", slug)
		}
		prefix := IntentPrefix(slug)
		for _, in := range intents {
			if !strings.HasPrefix(in.Action, prefix) {
				return fmt.Errorf("plugin %q: intent %q must start with %q", slug, in.Action, prefix)
			}
			if strings.TrimSpace(in.Description) == "" {
				return fmt.Errorf("plugin %q: intent %q has no description", slug, in.Action)
			}
			if len(in.Examples) == 0 {
				return fmt.Errorf("plugin %q: intent %q has no examples", slug, in.Action)
			}
		}
	}
	return nil
}
