package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/danmuck/edgefetch/internal/admin"
	"github.com/danmuck/edgefetch/internal/config"
	"github.com/danmuck/edgefetch/internal/events"
	"github.com/danmuck/edgefetch/internal/fetch"
	"github.com/danmuck/edgefetch/internal/node"
	"github.com/danmuck/edgefetch/internal/observability"
	"github.com/danmuck/edgefetch/internal/protocol/frame"
	"github.com/danmuck/edgefetch/internal/server"
	"github.com/danmuck/edgefetch/internal/tools"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	configPath := flag.String("config", "", "path to fetchctl TOML config (defaults and env when empty)")
	flag.Parse()

	logger := observability.InitLogger("fetchctl")
	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fetchctl: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info().
		Str("node", cfg.ID).
		Str("listen", cfg.ListenAddr).
		Str("admin", cfg.AdminAddr).
		Msg("fetchctl starting")
	if err := run(ctx, cfg); err != nil {
		fmt.Fprintf(os.Stderr, "fetchctl: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig(path string) (config.ServerConfig, error) {
	if path != "" {
		return config.LoadServerConfig(path)
	}
	cfg := config.DefaultServerConfig()
	config.ApplyEnvOverrides(&cfg, os.Getenv)
	return cfg, config.ValidateServerConfig(cfg)
}

func run(ctx context.Context, cfg config.ServerConfig) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sink, closeSinks, err := buildSink(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeSinks()

	svc := server.NewService(server.ServiceConfig{
		NodeID:      cfg.ID,
		ListenAddr:  cfg.ListenAddr,
		Limits:      frame.Limits{MaxPayloadBytes: cfg.MaxPayloadBytes},
		IdleTimeout: cfg.IdleTimeout,
		MaxSessions: cfg.MaxSessions,
	}, buildInvoker(cfg.Download), server.WithSink(sink))

	errCh := make(chan error, 2)
	running := 1
	go func() { errCh <- svc.Run(ctx) }()
	if cfg.AdminAddr != "" {
		adm := admin.New(admin.Config{
			ID:          cfg.ID,
			Addr:        cfg.AdminAddr,
			Token:       cfg.AdminToken,
			CorsOrigins: cfg.CorsOrigins,
		}, svc)
		announceNode(log.Logger, adm)
		running++
		go func() { errCh <- adm.Serve(ctx) }()
	}

	var first error
	for i := 0; i < running; i++ {
		if err := <-errCh; err != nil && first == nil {
			first = err
		}
		cancel()
	}
	return first
}

func announceNode(logger zerolog.Logger, n node.Node) {
	logger.Info().
		Str("node", n.NodeID()).
		Str("kind", n.Kind()).
		Str("addr", n.Addr()).
		Int("routes", len(n.HTTPRouter().Routes())).
		Msg("node starting")
}

func buildInvoker(cfg config.DownloadConfig) fetch.Invoker {
	router := fetch.NewRouter(fetch.NewHTTPInvoker(cfg.HTTPTimeout))
	if cfg.VideoViaTool {
		router.Handle(fetch.KindVideo, fetch.NewToolInvoker(cfg.VideoTool, tools.ExecRunner{}))
	}
	return router
}

func buildSink(ctx context.Context, cfg config.ServerConfig) (events.Sink, func(), error) {
	var sinks events.Multi
	var closers []func()
	closeAll := func() {
		for _, c := range closers {
			c()
		}
	}

	if cfg.Events.NATSURL != "" {
		nc, err := events.ConnectNATS(cfg.Events.NATSURL, cfg.ID)
		if err != nil {
			return nil, closeAll, fmt.Errorf("connect nats %s: %w", cfg.Events.NATSURL, err)
		}
		closers = append(closers, nc.Close)
		sinks = append(sinks, events.NewNATSSink(nc, cfg.Events.SubjectPrefix))
		log.Info().Str("url", cfg.Events.NATSURL).Msg("publishing session events to nats")
	}

	if cfg.Events.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Events.RedisAddr, DB: cfg.Events.RedisDB})
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			closeAll()
			return nil, func() {}, fmt.Errorf("connect redis %s: %w", cfg.Events.RedisAddr, err)
		}
		closers = append(closers, func() { _ = rdb.Close() })
		sinks = append(sinks, events.NewRedisRegistry(rdb, cfg.Events.SessionTTL))
		log.Info().Str("addr", cfg.Events.RedisAddr).Msg("registering sessions in redis")
	}

	switch len(sinks) {
	case 0:
		return events.Nop{}, closeAll, nil
	case 1:
		return sinks[0], closeAll, nil
	default:
		return sinks, closeAll, nil
	}
}
