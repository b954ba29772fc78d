package commands

import (
	"database/sql"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/yoman/ai/provider"
	"github.com/teranos/yoman/am"
	"github.com/teranos/yoman/assistant"
	"github.com/teranos/yoman/db"
	"github.com/teranos/yoman/errors"
	"github.com/teranos/yoman/intent"
	"github.com/teranos/yoman/logger"
	"github.com/teranos/yoman/pulse/budget"
	"github.com/teranos/yoman/pulse/circuit"
	"github.com/teranos/yoman/pulse/schedule"
	"github.com/teranos/yoman/resolver"
	"github.com/teranos/yoman/temporal"
	"github.com/teranos/yoman/transport"
)

// openDatabase opens and migrates the database named by am config.
func openDatabase(cfg *am.Config) (*sql.DB, error) {
	path := cfg.GetDatabasePath()
	database, err := db.Open(path, logger.Logger)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open database at %s", path)
	}
	if err := db.Migrate(database, logger.Logger); err != nil {
		database.Close()
		return nil, errors.Wrapf(err, "failed to run migrations on %s", path)
	}
	return database, nil
}

// runtime holds the components every message-handling command needs.
type runtime struct {
	cfg        *am.Config
	db         *sql.DB
	gateway    *budget.Gateway
	resolver   resolver.Resolver // nil when no model provider is usable
	classifier *intent.Classifier
	items      *assistant.ItemStore
	breaker    *circuit.Breaker
	scheduler  *schedule.Scheduler
	engine     *assistant.Engine
}

// newRuntime wires the pipeline over database. tr may be nil for commands
// that never dispatch.
func newRuntime(cfg *am.Config, database *sql.DB, tr transport.Transport, log *zap.SugaredLogger) (*runtime, error) {
	rt := &runtime{cfg: cfg, db: database}

	rt.gateway = budget.NewGateway(budget.LimitsFromConfig(cfg.Quota), logger.AddPulseSymbol(log.Named("budget")))
	if cfg.Quota.DailyBudgetUSD > 0 {
		tracker := budget.NewTracker(database, budget.BudgetConfig{
			DailyBudgetUSD: cfg.Quota.DailyBudgetUSD,
			CostPerCallUSD: estimatedCallCost,
		})
		rt.gateway.SetSpendGuard(tracker, tracker.EstimateCallCost(1))
	}

	rt.breaker = circuit.New(circuit.Config{
		FailureThreshold: cfg.Circuit.FailureThreshold,
		Cooldown:         time.Duration(cfg.Circuit.CooldownSeconds) * time.Second,
	}, log.Named("circuit"))

	rt.items = assistant.NewItemStore(database)
	rt.classifier = intent.New(intent.ConfigFromAm(cfg), rt.items, log.Named("intent"))
	if err := rt.wireModels(log); err != nil {
		log.Warnw("Model tier disabled, only the deterministic parser will resolve times",
			logger.FieldError, err.Error(), logger.FieldHint, errors.FlattenHints(err))
	}

	rt.scheduler = schedule.New(schedule.NewStore(database), rt.breaker, tr, schedule.ConfigFromAm(cfg), log.Named("pulse")).
		WithFormatter(assistant.FormatReminder).
		WithReporter(assistant.NewLogReporter(log.Named("pulse.failures")))

	rt.engine = assistant.New(assistant.ConfigFromAm(cfg), temporal.NewParser(), rt.resolver,
		rt.classifier, rt.items, rt.scheduler, log.Named("assistant"))
	return rt, nil
}

// estimatedCallCost is the expected price of one short model call in USD.
const estimatedCallCost = 0.0005

func (rt *runtime) wireModels(log *zap.SugaredLogger) error {
	if rt.cfg.Resolver.Provider != string(provider.ProviderLocal) && rt.cfg.OpenRouter.APIKey == "" {
		return errors.WithHint(errors.New("no OpenRouter API key"), "set openrouter.api_key or YOMAN_OPENROUTER_API_KEY")
	}
	client, err := provider.NewAIClient(rt.cfg, rt.db, log.Named("ai"), "temporal-resolve")
	if err != nil {
		return err
	}

	rcfg := resolver.ConfigFromAm(rt.cfg)
	cached, err := resolver.NewCachedResolver(
		resolver.NewModelResolver(client, rcfg, log.Named("resolver")),
		rt.gateway, rcfg, log.Named("resolver"))
	if err != nil {
		return err
	}
	rt.resolver = cached.WithCircuit(rt.breaker)

	if rt.cfg.Classifier.ModelFallback {
		classify, err := provider.NewAIClient(rt.cfg, rt.db, log.Named("ai"), "intent-classify")
		if err != nil {
			return err
		}
		rt.classifier = rt.classifier.WithFallback(intent.NewModelClassifier(classify, rt.gateway,
			rcfg.ConfidenceThreshold, rcfg.Timeout, log.Named("intent")).WithCircuit(rt.breaker))
	}
	return nil
}

// watchQuota applies quota edits from the user config without a restart.
func (rt *runtime) watchQuota(log *zap.SugaredLogger) (*am.ConfigWatcher, error) {
	files := am.LoadedFiles()
	if len(files) == 0 {
		return nil, nil
	}
	w, err := am.NewConfigWatcher(files[len(files)-1], log.Named("am"))
	if err != nil {
		return nil, err
	}
	w.OnReload(func(c *am.Config) error {
		rt.gateway.SetLimits(budget.LimitsFromConfig(c.Quota))
		log.Infow("Quota limits reloaded", "per_minute", c.Quota.PerMinute, "per_day", c.Quota.PerDay)
		return nil
	})
	am.SetGlobalWatcher(w)
	w.Start()
	return w, nil
}
