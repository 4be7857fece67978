package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"
)

// chatCmd is the inbound seam for assistant intents: the NLU layer (or a
// human poking at the runtime) hands over a resolved action plus its
// entities and gets the reply text back.
var chatCmd = &cobra.Command{
	Use:   "chat <user-id> <action> [entities-json]",
	Short: "Route one chat intent action to its plugin",
	Long: `Route an intent action (plugin_<slug>_<intent>) to the owning plugin
and print the reply. Entities are passed as a JSON object, e.g.

  aspri chat 7 plugin_quote_of_the_day_get '{"tag":"wisdom"}'`,
	Args: cobra.RangeArgs(2, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid user id %q: %w", args[0], err)
		}
		var entities map[string]any
		if len(args) == 3 {
			if err := json.Unmarshal([]byte(args[2]), &entities); err != nil {
				return fmt.Errorf("invalid entities json: %w", err)
			}
		}

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		reply, err := a.router.Handle(ctx, userID, args[1], entities)
		if err != nil {
			return err
		}
		fmt.Println(reply)
		return nil
	},
}
