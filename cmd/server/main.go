package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/go-echarts/statsview"
	"github.com/go-echarts/statsview/viewer"
	"github.com/sasha-s/go-deadlock"

	"github.com/OCharnyshevich/chunk-server/internal/server"
	"github.com/OCharnyshevich/chunk-server/internal/server/config"
	"github.com/OCharnyshevich/chunk-server/internal/server/storage"
)

func main() {
	cfg := config.DefaultConfig()

	configPath := flag.String("config", "", "path to a TOML config file")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.IntVar(&cfg.Port, "port", cfg.Port, "server port")
	flag.StringVar(&cfg.MOTD, "motd", cfg.MOTD, "server description")
	flag.IntVar(&cfg.MaxPlayers, "max-players", cfg.MaxPlayers, "maximum number of players")
	flag.IntVar(&cfg.ViewDistance, "view-distance", cfg.ViewDistance, "maximum chunk view distance")
	flag.Int64Var(&cfg.Seed, "seed", cfg.Seed, "world seed")
	flag.StringVar(&cfg.GeneratorType, "generator", cfg.GeneratorType, "world generator: default or flat")
	flag.StringVar(&cfg.DataDir, "data", cfg.DataDir, "world data directory, empty keeps the world in memory")
	flag.BoolVar(&cfg.Debug.DeadlockDetection, "deadlock", cfg.Debug.DeadlockDetection, "enable lock-order deadlock detection")
	flag.StringVar(&cfg.Debug.StatsAddr, "stats", cfg.Debug.StatsAddr, "statsview listen address")
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))

	if *configPath != "" {
		fromFile, err := config.Load(*configPath)
		if err != nil {
			log.Error("load config", "error", err)
			os.Exit(1)
		}
		explicit := make(map[string]bool)
		flag.Visit(func(f *flag.Flag) { explicit[f.Name] = true })
		config.Merge(cfg, fromFile, explicit)
	}
	if err := cfg.Validate(); err != nil {
		log.Error("invalid config", "error", err)
		os.Exit(1)
	}

	deadlock.Opts.Disable = !cfg.Debug.DeadlockDetection
	deadlock.Opts.DeadlockTimeout = 30 * time.Second

	if err := run(cfg, log); err != nil {
		log.Error("server error", "error", err)
		os.Exit(1)
	}
}

// run starts the server and blocks until it is interrupted. Everything it
// opens is closed before it returns.
func run(cfg *config.Config, log *slog.Logger) error {
	if cfg.Debug.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{Dsn: cfg.Debug.SentryDSN}); err != nil {
			return fmt.Errorf("init sentry: %w", err)
		}
		defer sentry.Flush(2 * time.Second)
	}

	if cfg.Debug.StatsAddr != "" {
		// set configurations before calling `statsview.New()` method
		viewer.SetConfiguration(viewer.WithAddr(cfg.Debug.StatsAddr))
		mgr := statsview.New()
		go mgr.Start()
		log.Info("statsview enabled", "addr", cfg.Debug.StatsAddr)
	}

	var store *storage.Store
	if cfg.DataDir != "" {
		var err error
		store, err = storage.Open(cfg.DataDir, log.With("component", "storage"))
		if err != nil {
			return fmt.Errorf("open storage: %w", err)
		}
		defer func() {
			if err := store.Close(); err != nil {
				log.Error("close storage", "error", err)
			}
		}()
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	srv, err := server.New(cfg, log, store)
	if err != nil {
		return fmt.Errorf("create server: %w", err)
	}
	return srv.Start(ctx)
}
