package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/phroun/copus/internal/config"
	"github.com/phroun/copus/internal/markserver"
	"github.com/phroun/copus/markstore"
)

type options struct {
	Config   string `short:"c" long:"config" description:"Path to a YAML config file"`
	Addr     string `short:"a" long:"addr" description:"Listen address (overrides server.addr)"`
	Store    string `long:"store" choice:"memory" choice:"bolt" choice:"postgres" description:"Mark store backend"`
	Events   string `long:"events" choice:"hub" choice:"redis" description:"Event fan-out backend"`
	LogLevel string `short:"l" long:"log-level" description:"Log level (trace, debug, info, warn, error)"`
}

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	var opts options
	parser := flags.NewParser(&opts, flags.Default)
	_, err := parser.Parse()
	if flags.WroteHelp(err) {
		os.Exit(0)
	} else if err != nil {
		fmt.Fprintf(os.Stderr, "fatal error (e.g. flag parsing):\n > %s\n", err.Error())
		os.Exit(1)
	}

	cfg, err := loadConfig(opts)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	setupLogging(cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Fatal().Err(err).Msg("server stopped")
	}
	log.Info().Msg("server stopped")
}

func loadConfig(opts options) (config.Config, error) {
	cfg, err := config.Load(opts.Config)
	if err != nil {
		return cfg, err
	}
	if opts.Addr != "" {
		cfg.Server.Addr = opts.Addr
	}
	if opts.Store != "" {
		cfg.Store.Backend = opts.Store
	}
	if opts.Events != "" {
		cfg.Events.Backend = opts.Events
	}
	if opts.LogLevel != "" {
		cfg.Log.Level = opts.LogLevel
	}
	return cfg, cfg.Validate()
}

func setupLogging(l config.Log) {
	if l.Console != nil && !*l.Console {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
	level, _ := l.ZerologLevel()
	zerolog.SetGlobalLevel(level)
}

func openStore(ctx context.Context, cfg config.Store) (markstore.Store, error) {
	switch cfg.Backend {
	case config.StoreBolt:
		return markstore.OpenBolt(cfg.BoltPath)
	case config.StorePostgres:
		return markstore.OpenPostgres(ctx, cfg.DatabaseURL)
	default:
		return markstore.NewMemory(), nil
	}
}

func run(ctx context.Context, cfg config.Config) error {
	store, err := openStore(ctx, cfg.Store)
	if err != nil {
		return err
	}
	defer store.Close()
	log.Info().Str("backend", cfg.Store.Backend).Msg("mark store ready")

	// Redis must be reachable before the hub or listener start
	var rdb *redis.Client
	if cfg.Events.Backend == config.EventsRedis {
		rdb, err = markserver.ConnectRedis(ctx, cfg.Events.RedisAddr)
		if err != nil {
			return err
		}
		defer rdb.Close()
	}

	metrics := markserver.NewMetrics()
	hub := markserver.NewHub(log.Logger, metrics)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hub.Run(ctx)
		return nil
	})

	var publisher markserver.Publisher = hub
	if rdb != nil {
		publisher = markserver.NewRedisPublisher(rdb, cfg.Events.ChannelPrefix)
		g.Go(func() error {
			return markserver.RelayRedis(ctx, rdb, cfg.Events.ChannelPrefix, hub, log.Logger)
		})
	}

	srv := markserver.New(markserver.Options{
		Store:       store,
		Hub:         hub,
		Publisher:   publisher,
		Metrics:     metrics,
		MetricsPath: cfg.Server.MetricsPath,
	})
	httpServer := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g.Go(func() error {
		log.Info().Str("addr", cfg.Server.Addr).Msg("mark server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
