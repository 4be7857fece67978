package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "aspri",
	Short: "ASPRI - personal assistant plugin runtime",
	Long: `ASPRI runs a registry of assistant plugins: per-user activation and
configuration, scheduled execution, chat intent routing and an execution log.`,
	SilenceUsage: true,
}

var configPath string

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "./config.yaml", "path to the config file")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(processSchedulesCmd)
	rootCmd.AddCommand(cleanupLogsCmd)
	rootCmd.AddCommand(pluginsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
