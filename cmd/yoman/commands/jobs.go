package commands

import (
	"fmt"
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/yoman/am"
	"github.com/teranos/yoman/am/geotime"
	"github.com/teranos/yoman/errors"
	"github.com/teranos/yoman/logger"
	"github.com/teranos/yoman/pulse/schedule"
)

// JobsCmd represents the jobs command
var JobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: logger.SymPulse + " Inspect and cancel scheduled reminders",
	Long: logger.SymPulse + ` jobs - scheduled reminder firings

Examples:
  yoman jobs ls                        # All pending jobs, soonest first
  yoman jobs ls --user 972501234567    # One user's jobs
  yoman jobs failed                    # Jobs that exhausted their retries
  yoman jobs attempts <job-id>         # Dispatch log for a job
  yoman jobs cancel <job-id>           # Cancel a pending job`,
}

var jobsLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List pending jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		user, _ := cmd.Flags().GetString("user")
		states, _ := cmd.Flags().GetStringSlice("state")
		return runJobsLs(cmd, user, states)
	},
}

var jobsFailedCmd = &cobra.Command{
	Use:   "failed",
	Short: "List jobs that exhausted their retries",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		return withStore(func(store *schedule.Store) error {
			jobs, err := store.ListFailed(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(jobs) == 0 {
				pterm.Success.Println("No failed jobs")
				return nil
			}
			table := pterm.TableData{{"ID", "User", "Fire at", "Attempts", "Last error"}}
			for _, j := range jobs {
				table = append(table, []string{shortID(j.ID), j.OwnerUserID, fireAt(j),
					fmt.Sprint(j.Attempts), truncate(j.LastError, 60)})
			}
			return pterm.DefaultTable.WithHasHeader().WithData(table).Render()
		})
	},
}

var jobsAttemptsCmd = &cobra.Command{
	Use:   "attempts <job-id>",
	Short: "Show the dispatch log for a job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(store *schedule.Store) error {
			job, err := resolveJob(cmd, store, args[0])
			if err != nil {
				return err
			}
			attempts, err := store.ListAttempts(cmd.Context(), job.ID)
			if err != nil {
				return err
			}
			pterm.DefaultSection.Printfln("%s %s (%s)", logger.SymPulse, job.ID, job.State)
			if len(attempts) == 0 {
				pterm.Info.Println("No dispatch attempts yet")
				return nil
			}
			table := pterm.TableData{{"#", "At", "Outcome", "Error"}}
			for _, a := range attempts {
				table = append(table, []string{fmt.Sprint(a.Attempt),
					a.AttemptedAt.Local().Format("2006-01-02 15:04:05"), string(a.Outcome), truncate(a.Error, 60)})
			}
			return pterm.DefaultTable.WithHasHeader().WithData(table).Render()
		})
	},
}

var jobsCancelCmd = &cobra.Command{
	Use:   "cancel <job-id>",
	Short: "Cancel a pending job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := am.Load()
		if err != nil {
			return errors.Wrap(err, "failed to load config")
		}
		database, err := openDatabase(cfg)
		if err != nil {
			return err
		}
		defer database.Close()

		sched := schedule.New(schedule.NewStore(database), nil, nil, schedule.ConfigFromAm(cfg), logger.Logger.Named("pulse"))
		job, err := resolveJob(cmd, sched.Store(), args[0])
		if err != nil {
			return err
		}
		if err := sched.Cancel(cmd.Context(), job.ID); err != nil {
			return err
		}
		pterm.Success.Printfln("Cancelled %s", job.ID)
		return nil
	},
}

func init() {
	jobsLsCmd.Flags().String("user", "", "Only this user's jobs")
	jobsLsCmd.Flags().StringSlice("state", nil, "Filter by state with --user (pending, fired, cancelled, failed)")
	jobsFailedCmd.Flags().Int("limit", 20, "Maximum number of jobs to show")

	JobsCmd.AddCommand(jobsLsCmd)
	JobsCmd.AddCommand(jobsFailedCmd)
	JobsCmd.AddCommand(jobsAttemptsCmd)
	JobsCmd.AddCommand(jobsCancelCmd)
}

func runJobsLs(cmd *cobra.Command, user string, states []string) error {
	return withStore(func(store *schedule.Store) error {
		var jobs []*schedule.Job
		var err error
		if user == "" {
			jobs, err = store.ListPending(cmd.Context())
		} else {
			filter := make([]schedule.State, 0, len(states))
			for _, st := range states {
				filter = append(filter, schedule.State(strings.ToLower(st)))
			}
			if len(filter) == 0 {
				filter = append(filter, schedule.StatePending)
			}
			jobs, err = store.ListByOwner(cmd.Context(), user, filter...)
		}
		if err != nil {
			return err
		}
		if len(jobs) == 0 {
			pterm.Info.Println("No jobs found")
			return nil
		}

		table := pterm.TableData{{"ID", "User", "Kind", "Fire at", "Repeats", "State", "Attempts"}}
		for _, j := range jobs {
			repeats := "-"
			if j.Recurring() {
				repeats = j.Recurrence.String()
			}
			table = append(table, []string{shortID(j.ID), j.OwnerUserID, j.ItemKind, fireAt(j),
				repeats, string(j.State), fmt.Sprint(j.Attempts)})
		}
		return pterm.DefaultTable.WithHasHeader().WithData(table).Render()
	})
}

func withStore(fn func(*schedule.Store) error) error {
	cfg, err := am.Load()
	if err != nil {
		return errors.Wrap(err, "failed to load config")
	}
	database, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer database.Close()
	return fn(schedule.NewStore(database))
}

// resolveJob accepts a full id or the short prefix printed by ls.
func resolveJob(cmd *cobra.Command, store *schedule.Store, id string) (*schedule.Job, error) {
	job, err := store.Get(cmd.Context(), id)
	if err == nil || !errors.IsNotFoundError(err) {
		return job, err
	}
	all, err := store.ListPending(cmd.Context())
	if err != nil {
		return nil, err
	}
	failed, err := store.ListFailed(cmd.Context(), 0)
	if err != nil {
		return nil, err
	}
	all = append(all, failed...)
	var match *schedule.Job
	for _, j := range all {
		if strings.HasPrefix(j.ID, id) {
			if match != nil {
				return nil, errors.WithHint(errors.Newf("job prefix %s is ambiguous", id), "use the full id")
			}
			match = j
		}
	}
	if match == nil {
		return nil, errors.NewNotFoundError("job %s", id)
	}
	return match, nil
}

// fireAt renders the fire time in the job's own zone.
func fireAt(j *schedule.Job) string {
	t := j.FireAt
	if loc, err := geotime.Load(j.Timezone); err == nil {
		t = t.In(loc)
	}
	return t.Format("2006-01-02 15:04 MST")
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
