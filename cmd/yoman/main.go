package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/teranos/yoman/cmd/yoman/commands"
	"github.com/teranos/yoman/logger"
)

var rootCmd = &cobra.Command{
	Use:   "yoman",
	Short: "yoman - reminders and calendar from chat messages",
	Long: `yoman - a Hebrew-first scheduling assistant.

yoman reads free-text chat messages in Hebrew or English, works out when
something should happen and what the user wants done, and delivers the
reminders on time through the chat bridge.

Available commands:
  pulse   - Run the reminder daemon (bridge, scheduler, health)
  tell    - Handle one message as if it came from a chat user
  resolve - Show how a time expression is resolved
  jobs    - Inspect and cancel scheduled reminders
  am      - Manage configuration ("I am")
  db      - Manage the database

Examples:
  yoman pulse start
  yoman tell --user 972501234567 "תזכיר לי מחר ב-9 להתקשר לאמא"
  yoman resolve "next friday at 5pm"
  yoman jobs ls --user 972501234567`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		verbosity, _ := cmd.Flags().GetCount("verbose")
		jsonLogs, _ := cmd.Flags().GetBool("json-logs")
		if err := logger.Initialize(jsonLogs, verbosity); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logger.Cleanup()
	},
}

func init() {
	rootCmd.PersistentFlags().CountP("verbose", "v", "Increase output verbosity (repeat for more detail: -v, -vv, -vvv)")
	rootCmd.PersistentFlags().Bool("json-logs", false, "Write logs as JSON")

	rootCmd.AddCommand(commands.AmCmd)
	rootCmd.AddCommand(commands.DbCmd)
	rootCmd.AddCommand(commands.JobsCmd)
	rootCmd.AddCommand(commands.PulseCmd)
	rootCmd.AddCommand(commands.ResolveCmd)
	rootCmd.AddCommand(commands.TellCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
