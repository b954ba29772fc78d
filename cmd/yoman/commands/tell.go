package commands

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/yoman/am"
	"github.com/teranos/yoman/assistant"
	"github.com/teranos/yoman/errors"
	"github.com/teranos/yoman/logger"
)

// TellCmd runs one message through the assistant against the local
// database, as if a chat user had sent it. Nothing is delivered; due jobs
// wait for the daemon.
var TellCmd = &cobra.Command{
	Use:     "tell <message>",
	Aliases: []string{"say"},
	Short:   "Handle one message as if it came from a chat user",
	Long: `Handle one message as if it came from a chat user.

The reply is printed instead of sent. Scheduled reminders are stored and
fire when 'yoman pulse start' is running.

Examples:
  yoman tell --user 972501234567 "תזכיר לי מחר ב-9 להתקשר לאמא"
  yoman tell --user 972501234567 "what's on my list"
  yoman tell --user alice --tz Europe/London "move it to friday at 10"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runTell,
}

var (
	tellUser   string
	tellTZ     string
	tellLocale string
	tellJSON   bool
)

func init() {
	TellCmd.Flags().StringVarP(&tellUser, "user", "u", "cli", "Sender id (a phone number picks the timezone)")
	TellCmd.Flags().StringVar(&tellTZ, "tz", "", "Sender timezone")
	TellCmd.Flags().StringVar(&tellLocale, "locale", "", "Reply language, he or en (default from the message)")
	TellCmd.Flags().BoolVarP(&tellJSON, "json", "j", false, "Output the full reply as JSON")
}

func runTell(cmd *cobra.Command, args []string) error {
	cfg, err := am.Load()
	if err != nil {
		return errors.Wrap(err, "failed to load config")
	}
	database, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	rt, err := newRuntime(cfg, database, nil, logger.Logger)
	if err != nil {
		return err
	}

	reply := rt.engine.Handle(cmd.Context(), assistant.Message{
		UserID:   tellUser,
		Text:     strings.Join(args, " "),
		Timezone: tellTZ,
		Locale:   tellLocale,
	})

	if tellJSON {
		out, err := json.MarshalIndent(struct {
			assistant.Reply
			Error string `json:"error,omitempty"`
		}{reply, errString(reply.Err)}, "", "  ")
		if err != nil {
			return errors.Wrap(err, "failed to marshal reply")
		}
		fmt.Println(string(out))
		return nil
	}

	fmt.Println(reply.Text)
	if reply.Job != nil {
		pterm.Info.Printfln("job %s fires at %s", shortID(reply.Job.ID), fireAt(reply.Job))
	}
	if verbosity, _ := cmd.Flags().GetCount("verbose"); reply.Err != nil && verbosity > 0 {
		pterm.Warning.Println(reply.Err.Error())
	}
	return nil
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
