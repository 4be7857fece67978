package builtin

import "aspri/internal/plugin"

// All constructs every built-in plugin with the shared dependencies.
// The registry runs the compliance pass over the result at startup.
func All(deps plugin.Deps) []plugin.Plugin {
	return []plugin.Plugin{
		NewReminder(deps),
		NewQuote(deps),
		NewHabit(deps),
	}
}
