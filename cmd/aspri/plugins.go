package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"aspri/internal/plugin"
	"aspri/internal/schedule"
	"aspri/internal/schema"
)

var pluginsCmd = &cobra.Command{
	Use:   "plugins",
	Short: "Inspect and manage the plugin registry",
}

var pluginsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all registered plugins",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "SLUG\tNAME\tVERSION\tSCHEDULED\tCHAT\tDESCRIPTION")
		for _, p := range a.reg.All() {
			fmt.Fprintf(w, "%s\t%s\t%s\t%v\t%v\t%s\n",
				p.Slug(), p.Name(), p.Version(),
				p.SupportsScheduling(), p.SupportsChatIntegration(), p.Description())
		}
		return w.Flush()
	},
}

var pluginsActivateCmd = &cobra.Command{
	Use:   "activate <user-id> <slug>",
	Short: "Activate a plugin for a user",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withUserPlugin(args, func(ctx context.Context, a *app, userID int64, slug string) error {
			if err := a.act.Activate(ctx, userID, slug); err != nil {
				return err
			}
			fmt.Printf("activated %s for user %d\n", slug, userID)
			return nil
		})
	},
}

var pluginsDeactivateCmd = &cobra.Command{
	Use:   "deactivate <user-id> <slug>",
	Short: "Deactivate a plugin for a user",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withUserPlugin(args, func(ctx context.Context, a *app, userID int64, slug string) error {
			if err := a.act.Deactivate(ctx, userID, slug); err != nil {
				return err
			}
			fmt.Printf("deactivated %s for user %d\n", slug, userID)
			return nil
		})
	},
}

var pluginsConfigCmd = &cobra.Command{
	Use:   "config <user-id> <slug> [json]",
	Short: "Show or update a user's plugin config",
	Args:  cobra.RangeArgs(2, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withUserPlugin(args, func(ctx context.Context, a *app, userID int64, slug string) error {
			if len(args) == 2 {
				cfg, err := a.act.Config(ctx, userID, slug)
				if err != nil {
					return err
				}
				return printJSON(cfg)
			}

			var newCfg schema.Config
			if err := json.Unmarshal([]byte(args[2]), &newCfg); err != nil {
				return fmt.Errorf("invalid config json: %w", err)
			}
			fieldErrs, err := a.act.UpdateConfig(ctx, userID, slug, newCfg)
			if err != nil {
				return err
			}
			if len(fieldErrs) > 0 {
				return fieldErrs
			}
			fmt.Println("config updated")
			return nil
		})
	},
}

var pluginsConfigResetCmd = &cobra.Command{
	Use:   "config-reset <user-id> <slug>",
	Short: "Restore a user's plugin config to the plugin defaults",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withUserPlugin(args, func(ctx context.Context, a *app, userID int64, slug string) error {
			if err := a.act.ResetConfig(ctx, userID, slug); err != nil {
				return err
			}
			fmt.Printf("config for %s reset to defaults\n", slug)
			return nil
		})
	},
}

var pluginsScheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Manage a user's plugin schedules",
}

var pluginsScheduleSetCmd = &cobra.Command{
	Use:   "set <user-id> <slug> <type> <value>",
	Short: "Create or replace the schedule for a user's plugin",
	Long: `Set when a plugin runs for a user. Types and value formats:

  cron      standard five-field cron expression, e.g. "*/5 * * * *"
  interval  Go duration of at least one minute, e.g. "2h"
  daily     comma-separated times, e.g. "08:00,20:30"
  weekly    DAY:HH:MM, e.g. "MON:09:00"`,
	Args: cobra.ExactArgs(4),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withUserPlugin(args, func(ctx context.Context, a *app, userID int64, slug string) error {
			if err := a.act.SetSchedule(ctx, userID, slug, schedule.Type(args[2]), args[3], nil); err != nil {
				return err
			}
			sp, err := a.st.GetSchedule(ctx, userID, slug)
			if err != nil {
				return err
			}
			fmt.Printf("schedule set, next run %s\n", sp.NextRunAt.Format("2006-01-02 15:04:05"))
			return nil
		})
	},
}

var pluginsScheduleClearCmd = &cobra.Command{
	Use:   "clear <user-id> <slug>",
	Short: "Remove the schedule for a user's plugin",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withUserPlugin(args, func(ctx context.Context, a *app, userID int64, slug string) error {
			if err := a.act.ClearSchedule(ctx, userID, slug); err != nil {
				return err
			}
			fmt.Printf("schedule for %s cleared\n", slug)
			return nil
		})
	},
}

var pluginsRunCmd = &cobra.Command{
	Use:   "run <user-id> <slug>",
	Short: "Trigger one plugin execution manually",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withUserPlugin(args, func(ctx context.Context, a *app, userID int64, slug string) error {
			res, err := a.disp.Run(ctx, userID, slug, plugin.ExecContext{Trigger: plugin.TriggerManual})
			if err != nil {
				return err
			}
			if res.Message != "" {
				fmt.Println(res.Message)
			}
			return nil
		})
	},
}

var pluginsActiveCmd = &cobra.Command{
	Use:   "active <user-id>",
	Short: "List a user's plugin activations",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid user id %q: %w", args[0], err)
		}

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		recs, err := a.st.ActivationsForUser(ctx, userID)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "SLUG\tACTIVE\tCONFIG VERSION\tACTIVATED AT")
		for _, rec := range recs {
			at := ""
			if !rec.ActivatedAt.IsZero() {
				at = rec.ActivatedAt.Format("2006-01-02 15:04:05")
			}
			fmt.Fprintf(w, "%s\t%v\t%d\t%s\n", rec.Slug, rec.IsActive, rec.ConfigVersion, at)
		}
		return w.Flush()
	},
}

var pluginsSchemaCmd = &cobra.Command{
	Use:   "schema <slug>",
	Short: "Show a plugin's configuration fields",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		p, err := a.reg.Resolve(args[0])
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "KEY\tSPEC\tDEFAULT\tCONDITION\tLABEL")
		for _, f := range p.ConfigSchema() {
			def := ""
			if f.Default != nil {
				def = fmt.Sprint(f.Default)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", f.Key, schema.Describe(f), def, f.Condition, f.Label)
		}
		return w.Flush()
	},
}

var historyLimit int

var pluginsHistoryCmd = &cobra.Command{
	Use:   "history <user-id> <slug>",
	Short: "Show recent executions for a user's plugin",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withUserPlugin(args, func(ctx context.Context, a *app, userID int64, slug string) error {
			entries, err := a.st.RecentExecutions(ctx, userID, slug, historyLimit)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "FINISHED\tOUTCOME\tTRIGGER\tERROR")
			for _, e := range entries {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
					e.FinishedAt.Format("2006-01-02 15:04:05"), e.Outcome, e.Trigger, e.ErrorMessage)
			}
			return w.Flush()
		})
	},
}

var pluginsUninstallCmd = &cobra.Command{
	Use:   "uninstall <slug>",
	Short: "Remove a plugin's system-wide install flag",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.act.Uninstall(ctx, args[0]); err != nil {
			return err
		}
		fmt.Printf("uninstalled %s\n", args[0])
		return nil
	},
}

func withUserPlugin(args []string, fn func(ctx context.Context, a *app, userID int64, slug string) error) error {
	userID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid user id %q: %w", args[0], err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	return fn(ctx, a, userID, args[1])
}

func printJSON(v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(b))
	return nil
}

func init() {
	pluginsCmd.AddCommand(pluginsListCmd)
	pluginsCmd.AddCommand(pluginsActivateCmd)
	pluginsCmd.AddCommand(pluginsDeactivateCmd)
	pluginsCmd.AddCommand(pluginsConfigCmd)
	pluginsCmd.AddCommand(pluginsConfigResetCmd)
	pluginsCmd.AddCommand(pluginsScheduleCmd)
	pluginsScheduleCmd.AddCommand(pluginsScheduleSetCmd)
	pluginsScheduleCmd.AddCommand(pluginsScheduleClearCmd)
	pluginsCmd.AddCommand(pluginsRunCmd)
	pluginsCmd.AddCommand(pluginsActiveCmd)
	pluginsCmd.AddCommand(pluginsSchemaCmd)
	pluginsCmd.AddCommand(pluginsHistoryCmd)
	pluginsCmd.AddCommand(pluginsUninstallCmd)

	pluginsHistoryCmd.Flags().IntVar(&historyLimit, "limit", 20, "maximum entries to show")
}
