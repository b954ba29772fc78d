package commands

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/yoman/ai/tracker"
	"github.com/teranos/yoman/am"
	"github.com/teranos/yoman/errors"
	"github.com/teranos/yoman/logger"
	"github.com/teranos/yoman/pulse/budget"
)

// DbCmd represents the db (database) command
var DbCmd = &cobra.Command{
	Use:   "db",
	Short: logger.SymDB + " Manage the yoman database",
	Long: logger.SymDB + ` db - Manage the yoman database

Examples:
  yoman db migrate             # Apply pending migrations
  yoman db stats               # Items, jobs and model usage
  yoman db stats --since 168h  # Model usage over the last week`,
}

var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := am.Load()
		if err != nil {
			return errors.Wrap(err, "failed to load configuration")
		}
		database, err := openDatabase(cfg)
		if err != nil {
			return err
		}
		defer database.Close()
		pterm.Success.Printfln("%s Database at %s is up to date", logger.SymDB, cfg.GetDatabasePath())
		return nil
	},
}

var dbStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show item, job and model usage statistics",
	RunE:  runDbStats,
}

var statsSinceFlag time.Duration

func init() {
	DbCmd.AddCommand(dbMigrateCmd)
	DbCmd.AddCommand(dbStatsCmd)
	dbStatsCmd.Flags().DurationVar(&statsSinceFlag, "since", 24*time.Hour, "Window for model usage statistics")
}

func runDbStats(cmd *cobra.Command, args []string) error {
	cfg, err := am.Load()
	if err != nil {
		return errors.Wrap(err, "failed to load configuration")
	}
	database, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	var items, owners int
	err = database.QueryRow(`
		SELECT COUNT(*), COUNT(DISTINCT owner_user_id)
		FROM items
		WHERE deleted_at IS NULL
	`).Scan(&items, &owners)
	if err != nil {
		return errors.Wrap(err, "failed to count items")
	}

	pterm.DefaultSection.Printfln("%s Database Statistics", logger.SymDB)
	data := pterm.TableData{
		{"Path", cfg.GetDatabasePath()},
		{"Items", fmt.Sprint(items)},
		{"Users", fmt.Sprint(owners)},
	}

	rows, err := database.Query(`SELECT state, COUNT(*) FROM scheduled_jobs GROUP BY state ORDER BY state`)
	if err != nil {
		return errors.Wrap(err, "failed to count jobs")
	}
	defer rows.Close()
	for rows.Next() {
		var state string
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			return errors.Wrap(err, "failed to scan job counts")
		}
		data = append(data, []string{"Jobs " + state, fmt.Sprint(n)})
	}
	if err := rows.Err(); err != nil {
		return errors.Wrap(err, "failed to count jobs")
	}
	if err := pterm.DefaultTable.WithData(data).Render(); err != nil {
		return err
	}

	usage := tracker.NewUsageTracker(database)
	since := time.Now().Add(-statsSinceFlag)
	stats, err := usage.GetUsageStats(cmd.Context(), since)
	if err != nil {
		return err
	}
	pterm.DefaultSection.Printfln("Model usage (last %s)", statsSinceFlag)
	err = pterm.DefaultTable.WithData(pterm.TableData{
		{"Requests", fmt.Sprint(stats.TotalRequests)},
		{"Success rate", fmt.Sprintf("%.1f%%", stats.SuccessRate*100)},
		{"Tokens", fmt.Sprint(stats.TotalTokens)},
		{"Cost", fmt.Sprintf("$%.4f", stats.TotalCost)},
		{"Models", fmt.Sprint(stats.UniqueModels)},
		{"Users", fmt.Sprint(stats.UniqueUsers)},
	}).Render()
	if err != nil || stats.TotalRequests == 0 {
		return err
	}

	models, err := usage.GetModelBreakdown(cmd.Context(), since)
	if err != nil {
		return err
	}
	table := pterm.TableData{{"Model", "Provider", "Requests", "Tokens", "Cost"}}
	for _, m := range models {
		table = append(table, []string{m.ModelName, m.ModelProvider,
			fmt.Sprint(m.RequestCount), fmt.Sprint(m.TotalTokens), fmt.Sprintf("$%.4f", m.TotalCost)})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(table).Render()
}

// printBudget shows spend against the configured dollar budget.
func printBudget(cfg *am.Config, database *sql.DB) error {
	status, err := budget.NewTracker(database, budget.BudgetConfig{
		DailyBudgetUSD: cfg.Quota.DailyBudgetUSD,
		CostPerCallUSD: estimatedCallCost,
	}).GetStatus()
	if err != nil {
		return err
	}
	pterm.DefaultSection.Println("Model budget")
	return pterm.DefaultTable.WithData(pterm.TableData{
		{"Daily spend", fmt.Sprintf("$%.4f of $%.2f", status.DailySpend, cfg.Quota.DailyBudgetUSD)},
		{"Daily calls", fmt.Sprint(status.DailyOps)},
		{"Weekly spend", fmt.Sprintf("$%.4f", status.WeeklySpend)},
		{"Monthly spend", fmt.Sprintf("$%.4f", status.MonthlySpend)},
	}).Render()
}
