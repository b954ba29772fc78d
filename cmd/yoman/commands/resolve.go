package commands

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/yoman/am"
	"github.com/teranos/yoman/am/geotime"
	"github.com/teranos/yoman/errors"
	"github.com/teranos/yoman/logger"
	"github.com/teranos/yoman/recur"
	"github.com/teranos/yoman/resolver"
	"github.com/teranos/yoman/temporal"
)

// ResolveCmd shows how a time expression is read.
var ResolveCmd = &cobra.Command{
	Use:   "resolve <text>",
	Short: logger.SymResolve + " Show how a time expression is resolved",
	Long: logger.SymResolve + ` resolve - run the temporal tiers on a phrase

The deterministic parser always runs. With --model, phrases it cannot read
are sent to the configured model provider through the cache and quota.

Examples:
  yoman resolve "tomorrow at 9"
  yoman resolve "מחר בשמונה בערב" --tz Asia/Jerusalem
  yoman resolve "every monday at 09:00 30 minutes before"
  yoman resolve "the day after the holiday" --model`,
	Args: cobra.MinimumNArgs(1),
	RunE: runResolve,
}

var (
	resolveTZ    string
	resolveRef   string
	resolveModel bool
	resolveJSON  bool
	resolveNext  int
)

func init() {
	ResolveCmd.Flags().StringVar(&resolveTZ, "tz", "", "IANA timezone (default from am.toml)")
	ResolveCmd.Flags().StringVar(&resolveRef, "ref", "", "Reference instant, RFC 3339 (default now)")
	ResolveCmd.Flags().BoolVar(&resolveModel, "model", false, "Escalate to the model resolver on a miss")
	ResolveCmd.Flags().BoolVarP(&resolveJSON, "json", "j", false, "Output as JSON")
	ResolveCmd.Flags().IntVar(&resolveNext, "next", 3, "Occurrences to show for recurring phrases")
}

type resolveResult struct {
	Text       string                 `json:"text"`
	Reference  time.Time              `json:"reference"`
	Timezone   string                 `json:"timezone"`
	Resolved   *temporal.ResolvedTime `json:"resolved,omitempty"`
	Compound   bool                   `json:"compound,omitempty"`
	Remainder  string                 `json:"remainder"`
	Recurrence *recur.Rule            `json:"recurrence,omitempty"`
	LeadTime   recur.LeadTime         `json:"lead_time_minutes,omitempty"`
	FireAt     []time.Time            `json:"fire_at,omitempty"`
}

func runResolve(cmd *cobra.Command, args []string) error {
	cfg, err := am.Load()
	if err != nil {
		return errors.Wrap(err, "failed to load config")
	}
	text := strings.Join(args, " ")

	tz := cfg.Temporal.DefaultTimezone
	if resolveTZ != "" {
		tz = resolveTZ
	}
	if err := geotime.ValidateTimezone(tz); err != nil {
		return err
	}
	ref := time.Now()
	if resolveRef != "" {
		if ref, err = time.Parse(time.RFC3339, resolveRef); err != nil {
			return errors.Wrapf(errors.ErrInvalidRequest, "--ref %q is not RFC 3339", resolveRef)
		}
	}

	ext, err := recur.Extract(text, ref, tz)
	if err != nil {
		return err
	}
	res := resolveResult{Text: text, Reference: ref, Timezone: tz, Recurrence: ext.Rule, LeadTime: ext.Lead}

	rt, m, err := temporal.NewParser().Parse(ext.Remainder, ref, tz)
	if err != nil {
		return err
	}
	res.Compound = m.Compound
	res.Remainder = m.Remainder
	if m.OK {
		res.Resolved = &rt
	}

	if res.Resolved == nil && resolveModel {
		resolved, err := resolveWithModel(cmd, cfg, resolver.Request{
			Text:      ext.Remainder,
			Reference: ref,
			Timezone:  tz,
			Locale:    cfg.Temporal.DefaultLocale,
			UserID:    "cli",
		})
		if err != nil {
			return err
		}
		res.Resolved = resolved
	}

	if res.Resolved != nil {
		plan, err := recur.Expand(*res.Resolved, ext.Rule, ext.Lead)
		if err != nil {
			return err
		}
		res.FireAt = []time.Time{plan.FireAt}
		if plan.Recurring() && resolveNext > 1 {
			res.FireAt = plan.Next(plan.FireAt.Add(-time.Second), resolveNext)
		}
	}

	if resolveJSON {
		out, err := json.MarshalIndent(res, "", "  ")
		if err != nil {
			return errors.Wrap(err, "failed to marshal result")
		}
		fmt.Println(string(out))
		return nil
	}
	return printResolve(res)
}

func resolveWithModel(cmd *cobra.Command, cfg *am.Config, req resolver.Request) (*temporal.ResolvedTime, error) {
	database, err := openDatabase(cfg)
	if err != nil {
		return nil, err
	}
	defer database.Close()

	rt, err := newRuntime(cfg, database, nil, logger.Logger)
	if err != nil {
		return nil, err
	}
	if rt.resolver == nil {
		return nil, errors.WithHint(errors.New("no model resolver available"), "configure openrouter.api_key or local_inference")
	}
	resolved, err := rt.resolver.Resolve(cmd.Context(), req)
	if err != nil {
		return nil, err
	}
	return &resolved, nil
}

func printResolve(r resolveResult) error {
	loc, err := geotime.Load(r.Timezone)
	if err != nil {
		return err
	}
	if r.Resolved == nil {
		if r.Compound {
			pterm.Warning.Println("Compound expression: needs the model resolver (--model)")
		} else {
			pterm.Warning.Println("No time found")
		}
		return nil
	}

	format := "Mon 2006-01-02 15:04 MST"
	if r.Resolved.IsAllDay {
		format = "Mon 2006-01-02 (all day)"
	}
	data := pterm.TableData{
		{"When", r.Resolved.Instant.In(loc).Format(format)},
		{"Source", string(r.Resolved.Source)},
		{"Confidence", fmt.Sprintf("%.2f", r.Resolved.Confidence)},
		{"Remainder", r.Remainder},
	}
	if r.Recurrence.Recurring() {
		data = append(data, []string{"Repeats", r.Recurrence.String()})
	}
	if r.LeadTime > 0 {
		data = append(data, []string{"Lead", r.LeadTime.Duration().String()})
	}
	for i, t := range r.FireAt {
		data = append(data, []string{fmt.Sprintf("Fires #%d", i+1), t.In(loc).Format("Mon 2006-01-02 15:04 MST")})
	}
	return pterm.DefaultTable.WithData(data).Render()
}
