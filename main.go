package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"trendrider/api"
	"trendrider/config"
	"trendrider/daemon"
	"trendrider/logging"
	"trendrider/models"
	"trendrider/notify"
	"trendrider/position"
	"trendrider/risk"
	"trendrider/status"
	"trendrider/store"
	"trendrider/strategy"
)

const shutdownTimeout = 10 * time.Second

// exchange is what the trader and coordinator need from the venue.
type exchange interface {
	strategy.MarketData
	position.Executor
}

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	debugFlag := flag.Bool("debug", false, "enable debug logs")
	dryRun := flag.Bool("dry-run", false, "trade against the paper exchange")
	daemonStart := flag.Bool("start-daemon", false, "Start the application as a daemon")
	daemonStop := flag.Bool("stop-daemon", false, "Stop the daemon process")
	daemonRestart := flag.Bool("restart-daemon", false, "Restart the daemon process")
	flag.Parse()

	if *debugFlag {
		_ = os.Setenv("LOG_LEVEL", "debug")
	}
	if *dryRun {
		_ = os.Setenv("DRY_RUN", "true")
	}

	if *daemonStart || *daemonStop || *daemonRestart {
		if err := runDaemonCommand(*configPath, *daemonStart, *daemonStop); err != nil {
			log.Fatalf("%v", err)
		}
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.NewLogger(cfg.LogFile, cfg.LogMaxSize, cfg.LogMaxBackups, cfg.LogMaxAge, cfg.LogCompress, logging.ParseLevel(cfg.LogLevel))
	if err != nil {
		log.Fatalf("Failed to initialize logging: %v", err)
	}
	defer func() {
		_ = logger.Sync()
		_ = logger.Close()
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("Trader exited with error: %v", err)
		os.Exit(1)
	}
	logger.Info("Application stopped")
}

func runDaemonCommand(configPath string, start, stopOnly bool) error {
	pidFile := config.LoadConfig().PIDFile
	if cfg, err := config.Load(configPath); err == nil {
		pidFile = cfg.PIDFile
	}
	args := daemon.ChildArgs(os.Args[1:])
	switch {
	case start:
		return daemon.StartDaemon(pidFile, args)
	case stopOnly:
		return daemon.StopDaemon(pidFile)
	default:
		return daemon.RestartDaemon(pidFile, args)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *logging.Logger) error {
	logger.Info("Application starting: symbol=%s interval=%s dry_run=%t daemon=%t", cfg.Symbol, cfg.Interval, cfg.DryRun, daemon.IsDaemon())

	rest := api.NewRESTClient(cfg, logger)
	ictx, cancel := context.WithTimeout(ctx, 15*time.Second)
	instr, err := rest.GetInstrumentInfo(ictx, cfg.Symbol)
	cancel()
	if err != nil {
		return fmt.Errorf("instrument info: %w", err)
	}
	logger.Info("Instrument %s: minQty=%.8f qtyStep=%.8f tick=%.8f minNotional=%.4f", cfg.Symbol, instr.MinQty, instr.QtyStep, instr.TickSize, instr.MinNotional)

	var venue exchange = rest
	if cfg.DryRun {
		logger.Info("Dry run: paper trading with equity %.2f", cfg.PaperEquity)
		venue = api.NewPaperExchange(rest, cfg.PaperEquity, logger)
	} else if _, err := rest.GetEquity(ctx); err != nil {
		return fmt.Errorf("API authentication failed, check your API credentials: %w", err)
	}

	st, err := store.Open(ctx, store.Options{
		Driver:        cfg.StoreDriver,
		DSN:           cfg.StoreDSN,
		RedisAddr:     cfg.RedisAddr,
		RedisPassword: cfg.RedisPassword,
		RedisDB:       cfg.RedisDB,
		RedisPrefix:   cfg.RedisPrefix,
	})
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	if st != nil {
		defer st.Close()
	}

	hub := status.NewHub(logger)
	defer hub.Close()
	notifiers := notify.Fanout{notify.Log{Logger: logger}, hub}

	tgCtx, tgCancel := context.WithCancel(context.WithoutCancel(ctx))
	if cfg.TelegramEnabled {
		tg, err := notify.NewTelegram(cfg.TelegramToken, cfg.TelegramChatID, logger)
		if err != nil {
			logger.Warning("Telegram disabled: %v", err)
		} else {
			go tg.Run(tgCtx)
			defer tg.Wait()
			notifiers = append(notifiers, tg)
		}
	}
	defer tgCancel()

	rm, err := risk.NewManager(cfg.RiskParameters(), instr)
	if err != nil {
		return err
	}

	coord := position.NewCoordinator(cfg.Symbol, venue, rm, position.Options{
		Trailing:         cfg.EnableTrailing,
		TrailActivationR: cfg.TrailActivationR,
		Retry:            cfg.RetryPolicy(),
	}, logger).WithNotifier(notifiers)
	if st != nil {
		coord.WithStore(st)
	}

	state := &models.State{}
	trader := strategy.NewTrader(strategy.Settings{
		Market:       cfg.Symbol,
		Interval:     cfg.Interval,
		CandleLimit:  cfg.CandleLimit,
		BookDepth:    cfg.ObDepth,
		PollInterval: cfg.PollInterval,
		Periods:      cfg.Periods(),
	}, venue, strategy.NewAggregator(cfg.Thresholds()), rm, coord, state, logger).WithNotifier(notifiers)

	srv := &status.Server{Symbol: cfg.Symbol, State: state, Hub: hub, Logger: logger}
	if st != nil {
		srv.Outcomes = st
	}
	httpServer := srv.StartServer(cfg.StatusAddr)

	runErr := trader.Run(ctx)

	if httpServer != nil {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		if err := httpServer.Shutdown(sctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Warning("Status server shutdown: %v", err)
		}
		cancel()
	}
	return runErr
}
