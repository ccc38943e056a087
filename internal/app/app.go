// Package app wires configuration, storage, services and transports
// into a runnable instance.
package app

import (
	"context"
	"os"
	"sync"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/rs/zerolog"

	"github.com/telemart/telemart/internal/bus"
	"github.com/telemart/telemart/internal/config"
	"github.com/telemart/telemart/internal/db"
	"github.com/telemart/telemart/internal/oracle"
	"github.com/telemart/telemart/internal/provider/blockchain"
	"github.com/telemart/telemart/internal/provider/etherscan"
	"github.com/telemart/telemart/internal/provider/tonapi"
	"github.com/telemart/telemart/internal/scheduler"
	server "github.com/telemart/telemart/internal/server/http"
	"github.com/telemart/telemart/internal/server/http/billingapi"
	"github.com/telemart/telemart/internal/service/billing"
	"github.com/telemart/telemart/internal/service/notifier"
	"github.com/telemart/telemart/internal/service/shop"
	"github.com/telemart/telemart/pkg/graceful"
)

type App struct {
	ctx    context.Context
	config *config.Config
	logger *zerolog.Logger

	onBeforeRun []BeforeRun
	runOnce     sync.Once

	db        *pgxpool.Pool
	events    *bus.Bus
	shops     *shop.Service
	billing   *billing.Service
	lifecycle *billing.Lifecycle
	server    *server.Server
	scheduler *scheduler.Scheduler
}

type BeforeRun func(ctx context.Context, app *App) error

func New(ctx context.Context, cfg *config.Config) *App {
	logger := newLogger(cfg.Telemart)

	pool, err := db.Connect(ctx, cfg.Telemart.Postgres.DataSource, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("unable to connect to postgres")
	}

	graceful.AddCallback(func(context.Context) error {
		pool.Close()
		return nil
	})

	events := bus.New(logger)
	graceful.AddCallback(func(context.Context) error {
		events.Wait()
		return nil
	})

	shops := shop.New(pool, logger)
	payments := billing.NewPgPaymentStore(pool)

	ledger := newOracle(cfg.Telemart, logger)

	lifecycle := billing.NewLifecycle(shops, payments, events, logger)
	billingService := billing.New(payments, shops, ledger, lifecycle, logger)

	notifierService := notifier.New(events, notifier.NewLogSender(logger), logger)
	if err := notifierService.Start(); err != nil {
		logger.Fatal().Err(err).Msg("unable to start notifier")
	}

	handler := billingapi.New(billingService, logger)

	webServer := server.New(
		server.Config{
			Address: cfg.Telemart.Web.Address,
			Port:    cfg.Telemart.Web.Port,
		},
		logger,
		server.WithBillingAPI(handler),
	)

	return &App{
		ctx:       ctx,
		config:    cfg,
		logger:    logger,
		db:        pool,
		events:    events,
		shops:     shops,
		billing:   billingService,
		lifecycle: lifecycle,
		server:    webServer,
		scheduler: scheduler.New(logger),
	}
}

func newLogger(cfg config.Telemart) *zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Logger.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}

	var logger zerolog.Logger
	if cfg.Logger.Pretty {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr})
	} else {
		logger = zerolog.New(os.Stderr)
	}

	logger = logger.Level(level).With().
		Timestamp().
		Str("env", cfg.Env).
		Logger()

	return &logger
}

func newOracle(cfg config.Telemart, logger *zerolog.Logger) *oracle.Service {
	ledger := oracle.New(oracle.Config{
		RequestTimeout: cfg.Oracle.RequestTimeout,
		MaxRetries:     cfg.Oracle.MaxRetries,
		RetryBaseDelay: cfg.Oracle.RetryBaseDelay,
	}, logger)

	ledger.RegisterClient("ethereum", etherscan.New(etherscan.Config{
		BaseURL: cfg.Providers.Etherscan.BaseURL,
		APIKey:  cfg.Providers.Etherscan.APIKey,
	}, logger))

	ledger.RegisterClient("bitcoin", blockchain.New(blockchain.Config{
		BaseURL: cfg.Providers.Blockchain.BaseURL,
		APIKey:  cfg.Providers.Blockchain.APIKey,
	}, logger))

	ledger.RegisterClient("ton", tonapi.New(tonapi.Config{
		BaseURL: cfg.Providers.TONAPI.BaseURL,
		APIKey:  cfg.Providers.TONAPI.APIKey,
	}, logger))

	return ledger
}

func (app *App) Logger() *zerolog.Logger {
	return app.logger
}

func (app *App) Config() *config.Config {
	return app.config
}

func (app *App) DB() *pgxpool.Pool {
	return app.db
}

func (app *App) BillingService() *billing.Service {
	return app.billing
}

// OnBeforeRun registers a hook executed once before the first Run* call.
func (app *App) OnBeforeRun(fn BeforeRun) {
	app.onBeforeRun = append(app.onBeforeRun, fn)
}

func (app *App) runHooks() {
	app.runOnce.Do(func() {
		for _, fn := range app.onBeforeRun {
			if err := fn(app.ctx, app); err != nil {
				app.logger.Fatal().Err(err).Msg("unable to run server")
			}
		}
	})
}

// RunServer starts the web server in the background and registers its
// shutdown with the graceful package.
func (app *App) RunServer() {
	app.runHooks()

	go func() {
		if err := app.server.Run(); err != nil {
			app.logger.Error().Err(err).Msg("web server stopped with error")
			_ = graceful.ShutdownNow()
		}
	}()

	graceful.AddCallback(func(context.Context) error {
		return app.server.Shutdown()
	})
}

// RunScheduler registers the billing jobs and starts the scheduler.
func (app *App) RunScheduler() {
	app.runHooks()

	handler := scheduler.NewHandler(app.lifecycle)
	cfg := app.config.Telemart.Scheduler

	jobs := []struct {
		spec string
		name string
		job  scheduler.Job
	}{
		{cfg.SweepCron, "sweep_subscriptions", handler.SweepSubscriptions},
		{cfg.ReminderCron, "send_payment_reminders", handler.SendPaymentReminders},
	}

	for _, j := range jobs {
		if err := app.scheduler.Add(j.spec, j.name, j.job); err != nil {
			app.logger.Fatal().Err(err).Str("job", j.name).Msg("unable to schedule job")
		}
	}

	app.scheduler.Start()

	graceful.AddCallback(func(context.Context) error {
		app.scheduler.Stop()
		return nil
	})
}
