package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/teranos/yoman/am"
	"github.com/teranos/yoman/assistant"
	"github.com/teranos/yoman/errors"
	"github.com/teranos/yoman/logger"
	"github.com/teranos/yoman/pulse/schedule"
	"github.com/teranos/yoman/server"
	"github.com/teranos/yoman/transport/bridge"
)

// PulseCmd represents the pulse command - the reminder daemon
var PulseCmd = &cobra.Command{
	Use:   "pulse",
	Short: logger.SymPulse + " Run the reminder daemon",
	Long: logger.SymPulse + ` Pulse daemon - durable reminder delivery.

The daemon:
- Keeps a connection to the chat bridge and answers incoming messages
- Fires due reminders through the bridge, behind a circuit breaker
- Retries failed sends with backoff and parks exhausted jobs as failed
- Recovers pending jobs after a restart
- Serves gRPC health with the circuit state

Example:
  yoman pulse start
  yoman pulse status`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

// PulseStartCmd starts the daemon in the foreground
var PulseStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the Pulse daemon",
	Long: `Start the Pulse daemon in foreground mode.

Runs until interrupted (Ctrl+C). In-flight sends finish before exit.`,
	RunE: runPulseStart,
}

var pulseStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show scheduler and model budget status",
	RunE:  runPulseStatus,
}

func init() {
	PulseStartCmd.Flags().Int("workers", 0, "Number of dispatch workers (default from am.toml)")
	PulseCmd.AddCommand(PulseStartCmd)
	PulseCmd.AddCommand(pulseStatusCmd)
}

func runPulseStart(cmd *cobra.Command, args []string) error {
	cfg, err := am.Load()
	if err != nil {
		return errors.Wrap(err, "failed to load config")
	}
	if workers, _ := cmd.Flags().GetInt("workers"); workers > 0 {
		cfg.Scheduler.Workers = workers
	}
	if cfg.Transport.BridgeURL == "" {
		return errors.WithHint(errors.New("no bridge configured"),
			"set transport.bridge_url in am.toml or YOMAN_TRANSPORT_BRIDGE_URL")
	}

	database, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	log := logger.Logger
	client := bridge.New(bridge.ConfigFromAm(cfg), log.Named("bridge"))
	rt, err := newRuntime(cfg, database, client, log)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return client.Run(ctx) })
	g.Go(func() error {
		rt.breaker.Follow(ctx, client.Events())
		return nil
	})
	if health := server.NewFromAm(cfg, log); health != nil {
		health.Follow(rt.breaker)
		g.Go(func() error { return health.Serve(ctx) })
	}
	g.Go(func() error {
		answer(ctx, rt.engine, client)
		return nil
	})

	if err := rt.scheduler.Start(ctx); err != nil {
		stop()
		_ = g.Wait()
		return err
	}

	watcher, err := rt.watchQuota(log)
	if err != nil {
		log.Warnw("Quota hot reload disabled", logger.FieldError, err)
	}

	pterm.Success.Printfln("%s Pulse daemon started", logger.SymPulse)
	pterm.Printfln("  Bridge:   %s", cfg.Transport.BridgeURL)
	pterm.Printfln("  Workers:  %d", cfg.Scheduler.Workers)
	pterm.Printfln("  Timezone: %s", cfg.Temporal.DefaultTimezone)
	if cfg.Health.GRPCAddr != "" {
		pterm.Printfln("  Health:   %s", cfg.Health.GRPCAddr)
	}
	pterm.Info.Printfln("%s Press Ctrl+C for graceful shutdown", logger.SymPulse)

	err = g.Wait()

	pterm.Info.Printfln("%s Shutting down...", logger.SymPulseClose)
	rt.scheduler.Stop()
	if watcher != nil {
		_ = watcher.Stop()
	}
	if err != nil {
		return err
	}
	pterm.Success.Printfln("%s Pulse daemon stopped", logger.SymPulseClose)
	return nil
}

// answer handles inbound chat messages until the bridge closes them.
func answer(ctx context.Context, engine *assistant.Engine, client *bridge.Client) {
	for msg := range client.Inbound() {
		reply := engine.Handle(ctx, assistant.Message{UserID: msg.UserID, Text: msg.Text})
		if reply.Text == "" {
			continue
		}
		if err := client.Send(ctx, msg.UserID, reply.Text); err != nil {
			logger.Logger.Warnw("Reply not delivered",
				logger.FieldUserID, msg.UserID,
				logger.FieldOutcome, string(reply.Outcome),
				logger.FieldError, err)
		}
	}
}

func runPulseStatus(cmd *cobra.Command, args []string) error {
	cfg, err := am.Load()
	if err != nil {
		return errors.Wrap(err, "failed to load config")
	}
	database, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	ctx := cmd.Context()
	store := schedule.NewStore(database)
	pending, err := store.ListPending(ctx)
	if err != nil {
		return err
	}
	failed, err := store.ListFailed(ctx, 0)
	if err != nil {
		return err
	}

	pterm.DefaultSection.Printfln("%s Pulse", logger.SymPulse)
	data := pterm.TableData{
		{"Pending", fmt.Sprint(len(pending))},
		{"Failed", fmt.Sprint(len(failed))},
	}
	next, err := store.NextDue(ctx)
	if err != nil {
		return err
	}
	if next != nil {
		data = append(data, []string{"Next due", fmt.Sprintf("%s (in %s)",
			next.DueAt.Local().Format("2006-01-02 15:04"), time.Until(next.DueAt).Round(time.Second))})
	}
	if err := pterm.DefaultTable.WithData(data).Render(); err != nil {
		return err
	}

	if cfg.Quota.DailyBudgetUSD > 0 {
		return printBudget(cfg, database)
	}
	return nil
}
