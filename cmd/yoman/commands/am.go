package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/teranos/yoman/am"
	"github.com/teranos/yoman/errors"
	"github.com/teranos/yoman/logger"
)

// AmCmd represents the am (configuration) command
var AmCmd = &cobra.Command{
	Use:   "am",
	Short: logger.SymAM + " Manage yoman configuration",
	Long: logger.SymAM + ` am - Manage yoman configuration ("I am")

Configuration sources (later overrides earlier):
1. Default values
2. System config (/etc/yoman/am.toml)
3. User config (~/.yoman/am.toml)
4. Project config (./am.toml, searched up the directory tree)
5. Environment variables (YOMAN_* prefix)

Examples:
  yoman am show                          # Show current configuration
  yoman am show --format json            # Show configuration as JSON
  yoman am where                         # Which files were merged
  yoman am validate                      # Validate current configuration
  yoman am set temporal.default_timezone Asia/Jerusalem
  yoman am quota --per-day 500           # Change model call limits`,
}

var amShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long:  "Display the current configuration from all sources. Secrets are omitted.",
	RunE:  runAmShow,
}

var amValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate current configuration",
	RunE:  runAmValidate,
}

var amWhereCmd = &cobra.Command{
	Use:   "where",
	Short: "Show where configuration is loaded from",
	RunE:  runAmWhere,
}

var amSetCmd = &cobra.Command{
	Use:   "set <section.key> <value>",
	Short: "Set a value in the user config file",
	Args:  cobra.ExactArgs(2),
	RunE:  runAmSet,
}

var amQuotaCmd = &cobra.Command{
	Use:   "quota",
	Short: "Change model call limits",
	Long: `Change model call limits in the user config file.

A running daemon watching the same file applies the new limits without a
restart. Flags that are not given keep their current value.`,
	RunE: runAmQuota,
}

var configFormat string

func init() {
	amShowCmd.Flags().StringVar(&configFormat, "format", "toml", "Output format: toml, json, yaml")

	amQuotaCmd.Flags().Int("per-minute", 0, "Model calls per minute")
	amQuotaCmd.Flags().Int("per-hour", 0, "Model calls per hour")
	amQuotaCmd.Flags().Int("per-day", 0, "Model calls per day")
	amQuotaCmd.Flags().Int("per-user-daily", 0, "Model calls per user per day")
	amQuotaCmd.Flags().Float64("daily-budget-usd", 0, "Daily model spend limit in USD (0 disables)")

	AmCmd.AddCommand(amShowCmd)
	AmCmd.AddCommand(amValidateCmd)
	AmCmd.AddCommand(amWhereCmd)
	AmCmd.AddCommand(amSetCmd)
	AmCmd.AddCommand(amQuotaCmd)
}

func runAmShow(cmd *cobra.Command, args []string) error {
	cfg, err := am.Load()
	if err != nil {
		return errors.Wrap(err, "failed to load config")
	}

	// The yaml tags carry the snake_case keys and drop secrets, so every
	// format goes through them.
	raw, err := yaml.Marshal(cfg)
	if err != nil {
		return errors.Wrap(err, "failed to marshal config")
	}

	switch configFormat {
	case "yaml":
		fmt.Printf("# yoman configuration\n%s", raw)
		return nil
	case "json", "toml":
	default:
		return errors.Newf("unsupported format: %s (supported: toml, json, yaml)", configFormat)
	}

	var tree map[string]interface{}
	if err := yaml.Unmarshal(raw, &tree); err != nil {
		return errors.Wrap(err, "failed to convert config")
	}

	if configFormat == "json" {
		data, err := json.MarshalIndent(tree, "", "  ")
		if err != nil {
			return errors.Wrap(err, "failed to marshal config to JSON")
		}
		fmt.Println(string(data))
		return nil
	}

	data, err := toml.Marshal(tree)
	if err != nil {
		return errors.Wrap(err, "failed to marshal config to TOML")
	}
	fmt.Printf("# yoman configuration\n%s", data)
	return nil
}

func runAmValidate(cmd *cobra.Command, args []string) error {
	// Load validates too; report its error the same way.
	cfg, err := am.Load()
	if err != nil {
		return errors.Wrap(err, "configuration validation failed")
	}
	if err := cfg.Validate(); err != nil {
		return errors.Wrap(err, "configuration validation failed")
	}
	pterm.Success.Println("Configuration is valid")
	return nil
}

func runAmWhere(cmd *cobra.Command, args []string) error {
	if _, err := am.Load(); err != nil {
		return errors.Wrap(err, "failed to load config")
	}
	loaded := make(map[string]bool)
	for _, f := range am.LoadedFiles() {
		loaded[f] = true
	}

	candidates := []string{"/etc/yoman/am.toml", am.UserConfigPath()}
	for _, f := range am.LoadedFiles() {
		if f != candidates[0] && f != candidates[1] {
			candidates = append(candidates, f)
		}
	}

	table := pterm.TableData{{"File", "Status"}}
	for _, f := range candidates {
		status := "missing"
		if loaded[f] {
			status = "loaded"
		} else if _, err := os.Stat(f); err == nil {
			status = "unreadable"
		}
		table = append(table, []string{f, status})
	}
	if err := pterm.DefaultTable.WithHasHeader().WithData(table).Render(); err != nil {
		return err
	}

	var env []string
	for _, kv := range os.Environ() {
		if strings.HasPrefix(kv, "YOMAN_") {
			env = append(env, strings.SplitN(kv, "=", 2)[0])
		}
	}
	if len(env) > 0 {
		pterm.Info.Printfln("Environment overrides: %s", strings.Join(env, ", "))
	}
	return nil
}

func runAmSet(cmd *cobra.Command, args []string) error {
	section, key, ok := strings.Cut(args[0], ".")
	if !ok || section == "" || key == "" {
		return errors.WithHint(errors.Newf("invalid key %q", args[0]), "use section.key, e.g. temporal.default_timezone")
	}
	path := am.UserConfigPath()
	if err := am.SetValue(path, section, key, parseValue(args[1])); err != nil {
		return err
	}
	am.Reset()
	if _, err := am.Load(); err != nil {
		return errors.WithHint(err, fmt.Sprintf("%s was written but the result does not validate; a backup was kept next to it", path))
	}
	pterm.Success.Printfln("%s = %s in %s", args[0], args[1], path)
	return nil
}

// parseValue keeps TOML types for numbers and booleans.
func parseValue(s string) interface{} {
	if i, err := strconv.Atoi(s); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	return s
}

func runAmQuota(cmd *cobra.Command, args []string) error {
	cfg, err := am.Load()
	if err != nil {
		return errors.Wrap(err, "failed to load config")
	}
	q := cfg.Quota
	flags := cmd.Flags()
	if flags.Changed("per-minute") {
		q.PerMinute, _ = flags.GetInt("per-minute")
	}
	if flags.Changed("per-hour") {
		q.PerHour, _ = flags.GetInt("per-hour")
	}
	if flags.Changed("per-day") {
		q.PerDay, _ = flags.GetInt("per-day")
	}
	if flags.Changed("per-user-daily") {
		q.PerUserDaily, _ = flags.GetInt("per-user-daily")
	}
	if flags.Changed("daily-budget-usd") {
		q.DailyBudgetUSD, _ = flags.GetFloat64("daily-budget-usd")
	}
	if q.PerMinute < 0 || q.PerHour < 0 || q.PerDay < 0 || q.PerUserDaily < 0 || q.DailyBudgetUSD < 0 {
		return errors.Wrap(errors.ErrInvalidRequest, "quota limits must not be negative")
	}

	path := am.UserConfigPath()
	if err := am.UpdateQuota(path, q); err != nil {
		return err
	}
	pterm.Success.Printfln("Quota written to %s", path)
	return pterm.DefaultTable.WithData(pterm.TableData{
		{"Per minute", fmt.Sprint(q.PerMinute)},
		{"Per hour", fmt.Sprint(q.PerHour)},
		{"Per day", fmt.Sprint(q.PerDay)},
		{"Per user daily", fmt.Sprint(q.PerUserDaily)},
		{"Daily budget", fmt.Sprintf("$%.2f", q.DailyBudgetUSD)},
	}).Render()
}
