package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/ducminhle1904/rsi-momentum-bot/internal/audit"
	"github.com/ducminhle1904/rsi-momentum-bot/internal/bot"
	"github.com/ducminhle1904/rsi-momentum-bot/internal/config"
	"github.com/ducminhle1904/rsi-momentum-bot/internal/exchange"
	"github.com/ducminhle1904/rsi-momentum-bot/internal/exchange/bybit"
	"github.com/ducminhle1904/rsi-momentum-bot/internal/execution"
	"github.com/ducminhle1904/rsi-momentum-bot/internal/logger"
	"github.com/ducminhle1904/rsi-momentum-bot/internal/monitoring"
	"github.com/ducminhle1904/rsi-momentum-bot/internal/notifications"
	"github.com/ducminhle1904/rsi-momentum-bot/internal/portfolio"
	"github.com/ducminhle1904/rsi-momentum-bot/internal/risk"
	"github.com/ducminhle1904/rsi-momentum-bot/internal/safety"
	"github.com/ducminhle1904/rsi-momentum-bot/internal/state"
	"github.com/ducminhle1904/rsi-momentum-bot/pkg/data"
	"github.com/ducminhle1904/rsi-momentum-bot/pkg/reporting"
)

func main() {
	var (
		configFile = flag.String("config", "config", "Configuration file or name under configs/")
		envFile    = flag.String("env", ".env", "Environment file path")
		exportXLSX = flag.String("export", "", "Write the persisted trade journal to this .xlsx file and exit")
		once       = flag.Bool("once", false, "Run a single cycle and exit")
	)
	flag.Parse()

	if err := loadEnvFile(*envFile); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v, using process environment\n", err)
	}

	cfg, err := config.LoadWithEnv(config.ResolvePath(*configFile))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	if *exportXLSX != "" {
		if err := exportJournal(cfg, *exportXLSX); err != nil {
			fmt.Fprintf(os.Stderr, "Export failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Trade journal written to %s\n", *exportXLSX)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *once); err != nil {
		fmt.Fprintf(os.Stderr, "Bot stopped with error: %v\n", err)
		os.Exit(1)
	}
}

func loadEnvFile(envFile string) error {
	if _, err := os.Stat(envFile); err != nil {
		return fmt.Errorf("env file %s not found", envFile)
	}
	return godotenv.Load(envFile)
}

func run(ctx context.Context, cfg *config.Config, once bool) error {
	log, err := logger.New(cfg.Logger)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer log.Close()

	sink, closeSinks, err := openAuditSinks(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeSinks()

	markers, closeMarkers, err := safety.OpenMarkerStore(ctx, cfg.Safety)
	if err != nil {
		return err
	}
	defer closeMarkers()

	coordinator := safety.NewCoordinator(cfg.Safety, markers,
		safety.WithAuditSink(sink),
		safety.WithLogger(log),
	)

	venue, direct, err := buildExchange(cfg, log)
	if err != nil {
		return err
	}
	gated := exchange.NewGatedClient(venue, coordinator)

	riskEngine, err := risk.NewEngine(cfg.Risk, risk.WithLogger(log))
	if err != nil {
		return fmt.Errorf("create risk engine: %w", err)
	}

	executor := execution.NewManager(gated, riskEngine,
		execution.WithEmergencyPlacer(direct),
		execution.WithErrorRecorder(coordinator),
		execution.WithAuditSink(sink),
		execution.WithLogger(log),
		execution.WithValidator(safety.NewValidator()),
	)

	health := monitoring.NewHealthChecker(cfg.Monitoring.HealthMaxSilence)
	opts := []bot.Option{
		bot.WithAuditSink(sink),
		bot.WithHealth(health),
		bot.WithLogger(log),
	}

	if cfg.State.Enabled {
		store := state.NewStore(cfg.State, log.Component("state"))
		if err := restoreState(store, riskEngine, executor, log); err != nil {
			return err
		}
		opts = append(opts, bot.WithStore(store))
	}
	if cfg.Portfolio.Enabled {
		opts = append(opts, bot.WithPortfolio(portfolio.NewSelector(cfg.Portfolio)))
	}
	if cfg.Monitoring.StatusTable {
		opts = append(opts, bot.WithStatusWriter(os.Stdout, cfg.Exchange.Mode, venue.GetName()))
	}

	b, err := bot.New(cfg.Bot, cfg.Strategy, bot.Deps{
		Market:    gated,
		Balances:  gated,
		Safety:    coordinator,
		Risk:      riskEngine,
		Execution: executor,
	}, opts...)
	if err != nil {
		return fmt.Errorf("create bot: %w", err)
	}

	if cfg.Monitoring.Enabled {
		srv := &http.Server{
			Addr:              cfg.Monitoring.Addr,
			Handler:           monitoring.NewServeMux(health),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			log.Info("monitoring listening on %s", cfg.Monitoring.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.LogError("monitoring server failed", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	log.Info("mode=%s exchange=%s dry_run=%t", cfg.Exchange.Mode, venue.GetName(), cfg.Bot.DryRun)

	if once {
		cycleErr := b.RunCycle(ctx)
		if cycleErr != nil {
			log.LogError("cycle finished with errors", cycleErr)
		}
		return nil
	}
	return b.Run(ctx)
}

// buildExchange returns the venue the bot trades through and the same venue
// without the safety gates, used for emergency exits.
func buildExchange(cfg *config.Config, log *logger.Logger) (exchange.Exchange, exchange.OrderPlacer, error) {
	client := bybit.NewClient(cfg.Exchange.Bybit)
	if cfg.IsLive() {
		return client, client, nil
	}

	var feed exchange.MarketData = client
	if replay := cfg.Exchange.Replay; replay.DataDir != "" {
		warmup := cfg.Bot.BarLimit
		if need := cfg.Strategy.RequiredBars() + 1; warmup < need {
			warmup = need
		}
		rf, err := data.LoadReplayFeed(replay.DataDir, client.GetName(), replay.Category, cfg.Bot.Interval, cfg.Bot.Symbols, warmup)
		if err != nil {
			return nil, nil, fmt.Errorf("load replay data: %w", err)
		}
		log.Info("replaying stored bars from %s", replay.DataDir)
		feed = rf
	}

	paperCfg := cfg.Exchange.Paper
	paperCfg.AllowShort = paperCfg.AllowShort || cfg.Bot.AllowShort
	paper := exchange.NewPaperExchange(paperCfg, feed)
	return paper, paper, nil
}

func openAuditSinks(ctx context.Context, c *config.Config, log *logger.Logger) (audit.Sink, func(), error) {
	var sinks audit.MultiSink
	var closers []func()
	cfg := c.Audit

	if c.Alerts.Telegram.Enabled() {
		alerts := notifications.NewAlertSink(notifications.NewTelegramNotifier(c.Alerts.Telegram), c.Alerts, log.Component("alerts"))
		sinks = append(sinks, alerts)
		closers = append(closers, alerts.Close)
	}

	if cfg.FilePath != "" {
		fileSink, err := audit.NewFileSink(cfg.FilePath)
		if err != nil {
			closeAll(closers)
			return nil, nil, fmt.Errorf("open audit log: %w", err)
		}
		sinks = append(sinks, fileSink)
		closers = append(closers, func() { _ = fileSink.Close() })
	}

	if cfg.Postgres.DSN != "" {
		pg, err := audit.NewPostgresSink(ctx, cfg.Postgres)
		if err != nil {
			closeAll(closers)
			return nil, nil, fmt.Errorf("connect audit database: %w", err)
		}
		if err := pg.Migrate(ctx); err != nil {
			pg.Close()
			closeAll(closers)
			return nil, nil, fmt.Errorf("migrate audit database: %w", err)
		}
		sinks = append(sinks, pg)
		closers = append(closers, pg.Close)
		log.Info("audit events mirrored to postgres")
	}

	release := func() { closeAll(closers) }
	if len(sinks) == 0 {
		return audit.Nop{}, release, nil
	}
	return sinks, release, nil
}

func closeAll(closers []func()) {
	for i := len(closers) - 1; i >= 0; i-- {
		closers[i]()
	}
}

func restoreState(store *state.Store, riskEngine *risk.Engine, executor *execution.Manager, log *logger.Logger) error {
	snap, err := store.Load()
	if err != nil {
		return fmt.Errorf("load state: %w", err)
	}
	if snap == nil {
		return nil
	}

	riskEngine.Restore(snap.Risk)
	if err := executor.Restore(snap.Positions(), snap.History); err != nil {
		return fmt.Errorf("restore positions: %w", err)
	}
	log.Info("restored %d open positions and %d closed trades from %s",
		len(snap.Risk.OpenPositions), len(snap.History), store.Path())
	return nil
}

func exportJournal(cfg *config.Config, path string) error {
	store := state.NewStore(cfg.State, logger.Nop())
	snap, err := store.Load()
	if err != nil {
		return err
	}

	var trades []execution.ClosedTrade
	if snap != nil {
		trades = snap.History
	}
	if err := reporting.WriteTradesXLSX(path, trades); err != nil {
		return err
	}
	reporting.RenderTrades(os.Stdout, trades, 20)
	return nil
}
