package app

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/spf13/viper"

	"github.com/vmxmy/invoice-assistant-v2-sub001/internal/accounts"
	"github.com/vmxmy/invoice-assistant-v2-sub001/internal/batch"
	"github.com/vmxmy/invoice-assistant-v2-sub001/internal/config"
	"github.com/vmxmy/invoice-assistant-v2-sub001/internal/delivery"
	"github.com/vmxmy/invoice-assistant-v2-sub001/internal/email"
	"github.com/vmxmy/invoice-assistant-v2-sub001/internal/logger"
	"github.com/vmxmy/invoice-assistant-v2-sub001/internal/models"
	"github.com/vmxmy/invoice-assistant-v2-sub001/internal/pdf"
	"github.com/vmxmy/invoice-assistant-v2-sub001/internal/resilience"
	"github.com/vmxmy/invoice-assistant-v2-sub001/internal/scanner"
	"github.com/vmxmy/invoice-assistant-v2-sub001/internal/scheduler"
	"github.com/vmxmy/invoice-assistant-v2-sub001/internal/syncstate"
	"github.com/vmxmy/invoice-assistant-v2-sub001/internal/types"
)

// runner is the full scan stack for one configuration profile: state
// store, connection pool, breakers, scanner and batch coordinator. Each
// profile gets its own so accounts from different profiles never share
// connections or circuit state.
type runner struct {
	cfg         *types.Config
	store       syncstate.Store
	pool        *email.ConnectionPool
	directory   *accounts.ConfigDirectory
	scanner     *scanner.Scanner
	coordinator *batch.Coordinator

	// wg counts in-flight scans so a reload never closes the state
	// store under a running scan.
	wg sync.WaitGroup
}

func (r *runner) stop(log *slog.Logger) {
	r.wg.Wait()
	r.pool.Drain()
	if err := r.store.Close(); err != nil {
		log.Warn("failed to close state store",
			"config_id", r.cfg.Meta.ID,
			"error", err,
		)
	}
}

// App owns the long-running service: configuration store and watcher,
// one runner per enabled profile, and the scheduler that fires batch
// scans.
type App struct {
	logger    *slog.Logger
	configID  string
	store     *config.Store
	watcher   *config.Watcher
	scheduler *scheduler.Scheduler

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.RWMutex
	runners map[string]*runner

	wg sync.WaitGroup
}

// New loads configurations from configDir and prepares the application.
// When configID is set, only that profile runs, otherwise all enabled
// profiles do.
func New(bootLogger *slog.Logger, configDir string, configID string) (*App, error) {
	store := config.NewStore(configDir, bootLogger)
	if err := store.Load(); err != nil {
		return nil, fmt.Errorf("failed to load configs: %w", err)
	}

	if configID != "" {
		if _, err := store.Get(configID); err != nil {
			return nil, fmt.Errorf("failed to get config %s: %w", configID, err)
		}
	}

	app := &App{
		logger:   bootLogger,
		configID: configID,
		store:    store,
		runners:  make(map[string]*runner),
	}

	// The first selected profile decides logging, with command line and
	// environment overrides on top.
	if configs := app.selectedConfigs(); len(configs) > 0 {
		logCfg := *configs[0]
		if level := viper.GetString("logging.level"); level != "" {
			logCfg.Logging.Level = level
		}
		if format := viper.GetString("logging.format"); format != "" {
			logCfg.Logging.Format = format
		}
		app.logger = logger.Setup(&logCfg)
		slog.SetDefault(app.logger)
	}

	app.scheduler = scheduler.NewScheduler(app.runScheduled, app.logger)
	return app, nil
}

// Logger returns the effective application logger.
func (a *App) Logger() *slog.Logger {
	return a.logger
}

// Open builds the scan runners without starting the scheduler or the
// configuration watcher. The one-shot scan command uses it directly.
func (a *App) Open() error {
	a.ctx, a.cancel = context.WithCancel(context.Background())

	configs := a.selectedConfigs()
	if len(configs) == 0 {
		return fmt.Errorf("no enabled configurations to run")
	}
	a.buildRunners(configs)
	return nil
}

// Start builds the runners, starts the configuration watcher and the
// scheduler, and begins reacting to config reloads.
func (a *App) Start() error {
	if err := a.Open(); err != nil {
		return err
	}

	watcher, err := config.StartWatcher(a.store, a.logger)
	if err != nil {
		return fmt.Errorf("failed to start config watcher: %w", err)
	}
	a.watcher = watcher

	a.scheduler.Sync(a.runnerConfigs())
	a.scheduler.Start()

	a.wg.Add(1)
	go a.watchConfigs()

	return nil
}

// Stop shuts everything down in dependency order: no new scans, wait
// for running ones, then release connections and stores.
func (a *App) Stop() {
	if a.cancel != nil {
		a.cancel()
	}
	if a.watcher != nil {
		a.watcher.Stop()
	}
	if a.scheduler != nil {
		a.scheduler.Stop()
	}
	a.wg.Wait()

	a.mu.Lock()
	runners := a.runners
	a.runners = make(map[string]*runner)
	a.mu.Unlock()

	for _, r := range runners {
		r.stop(a.logger)
	}
	a.logger.Info("application stopped")
}

// Scan routes one scan request. A request without an account id fans
// out to every account of the selected profiles, otherwise only the
// named account is scanned, with a "full" scan type forcing a full
// resynchronization first.
func (a *App) Scan(ctx context.Context, req models.ScanRequest) (map[string]models.ScanResult, error) {
	if req.AccountID == "" {
		return a.ScanAll(ctx, req.MaxMessages)
	}
	result, err := a.ScanAccount(ctx, req.AccountID, req.MaxMessages, req.DaysBack, req.ScanType == "full")
	if err != nil {
		return nil, err
	}
	return map[string]models.ScanResult{req.AccountID: *result}, nil
}

// ScanAll runs one batch scan for every account of the selected
// profiles and returns results keyed by account id.
func (a *App) ScanAll(ctx context.Context, maxMessages int) (map[string]models.ScanResult, error) {
	results := make(map[string]models.ScanResult)
	for _, id := range a.runnerIDs() {
		r := a.acquireRunner(id)
		if r == nil {
			continue
		}
		profileResults, err := r.coordinator.ScanAll(ctx, maxMessages, 0)
		r.wg.Done()
		if err != nil {
			return results, fmt.Errorf("batch scan for %s: %w", id, err)
		}
		for accountID, res := range profileResults {
			results[accountID] = res
		}
	}
	return results, nil
}

// ScanAccount runs one scan for a single account, optionally forcing a
// full resynchronization first.
func (a *App) ScanAccount(ctx context.Context, accountID string, maxMessages, daysBack int, forceFull bool) (*models.ScanResult, error) {
	r, err := a.runnerForAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	defer r.wg.Done()

	if forceFull {
		if err := r.scanner.ForceFullSync(ctx, accountID); err != nil {
			return nil, fmt.Errorf("failed to force full sync for %s: %w", accountID, err)
		}
	}
	return r.coordinator.ScanOne(ctx, accountID, maxMessages, daysBack)
}

// runScheduled is the scheduler callback for one profile's job.
func (a *App) runScheduled(cfg *types.Config) {
	r := a.acquireRunner(cfg.Meta.ID)
	if r == nil {
		a.logger.Warn("no runner for scheduled configuration", "config_id", cfg.Meta.ID)
		return
	}
	defer r.wg.Done()

	if _, err := r.coordinator.ScanAll(a.ctx, 0, 0); err != nil {
		a.logger.Error("scheduled scan failed",
			"config_id", cfg.Meta.ID,
			"error", err,
		)
	}
}

// selectedConfigs resolves which profiles this instance runs.
func (a *App) selectedConfigs() []*types.Config {
	if a.configID != "" {
		cfg, err := a.store.Get(a.configID)
		if err != nil {
			a.logger.Error("selected config disappeared",
				"config_id", a.configID,
				"error", err,
			)
			return nil
		}
		return []*types.Config{cfg}
	}
	return a.store.Enabled()
}

func (a *App) buildRunners(configs []*types.Config) {
	built := make(map[string]*runner, len(configs))
	for _, cfg := range configs {
		r, err := a.buildRunner(cfg)
		if err != nil {
			a.logger.Error("failed to build runner for configuration",
				"config_id", cfg.Meta.ID,
				"error", err,
			)
			continue
		}
		built[cfg.Meta.ID] = r
		a.logger.Info("started services for configuration",
			"id", cfg.Meta.ID,
			"name", cfg.Meta.Name,
			"accounts", len(cfg.Accounts),
		)
	}

	a.mu.Lock()
	old := a.runners
	a.runners = built
	a.mu.Unlock()

	for _, r := range old {
		r.stop(a.logger)
	}
}

func (a *App) buildRunner(cfg *types.Config) (*runner, error) {
	log := a.logger.With("config_id", cfg.Meta.ID)

	store, err := syncstate.NewStore(cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize state store: %w", err)
	}

	processor, err := delivery.NewProcessor(a.ctx, cfg, log)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to initialize delivery: %w", err)
	}

	retry := resilience.New(cfg, log)
	breakers := resilience.NewBreakerRegistry(cfg, log)
	auth := accounts.NewAuthenticator(cfg, log)
	pool := email.NewConnectionPool(cfg, auth, retry, log)
	fetcher := pdf.NewFetcher(cfg, retry, log)
	directory := accounts.NewConfigDirectory(cfg.Accounts)

	sc := scanner.New(cfg, pool, breakers, retry, store, fetcher, processor, log)
	coordinator := batch.NewCoordinator(cfg, sc, directory, log)

	return &runner{
		cfg:         cfg,
		store:       store,
		pool:        pool,
		directory:   directory,
		scanner:     sc,
		coordinator: coordinator,
	}, nil
}

// runnerIDs returns the active profile ids in a stable order.
func (a *App) runnerIDs() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	ids := make([]string, 0, len(a.runners))
	for id := range a.runners {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// acquireRunner looks a runner up and marks a scan in flight on it in
// one step, so a concurrent reload cannot close its resources before
// the scan starts. Callers must call wg.Done when the scan ends.
func (a *App) acquireRunner(id string) *runner {
	a.mu.RLock()
	defer a.mu.RUnlock()
	r := a.runners[id]
	if r != nil {
		r.wg.Add(1)
	}
	return r
}

func (a *App) runnerConfigs() []*types.Config {
	a.mu.RLock()
	defer a.mu.RUnlock()
	configs := make([]*types.Config, 0, len(a.runners))
	for _, r := range a.runners {
		configs = append(configs, r.cfg)
	}
	return configs
}

// runnerForAccount finds the profile that declares an account, acquired
// the same way as acquireRunner.
func (a *App) runnerForAccount(ctx context.Context, accountID string) (*runner, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	ids := make([]string, 0, len(a.runners))
	for id := range a.runners {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		r := a.runners[id]
		if _, err := r.directory.Account(ctx, accountID); err == nil {
			r.wg.Add(1)
			return r, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", accounts.ErrUnknownAccount, accountID)
}

// watchConfigs rebuilds runners and reschedules jobs whenever the
// watcher reports a successful configuration reload.
func (a *App) watchConfigs() {
	defer a.wg.Done()

	for {
		select {
		case <-a.ctx.Done():
			return
		case <-a.watcher.ReloadChan():
			a.logger.Info("reloading services due to configuration change")
			a.buildRunners(a.selectedConfigs())
			a.scheduler.Sync(a.runnerConfigs())
		}
	}
}
