package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/commune-sh/public-appservice/internal/cache"
	"github.com/commune-sh/public-appservice/internal/clock"
	"github.com/commune-sh/public-appservice/internal/config"
	"github.com/commune-sh/public-appservice/internal/handlers"
	"github.com/commune-sh/public-appservice/internal/homeserver"
	httpx "github.com/commune-sh/public-appservice/internal/http"
	"github.com/commune-sh/public-appservice/internal/proxy"
	"github.com/commune-sh/public-appservice/internal/service"
)

const (
	shutdownTimeout = 30 * time.Second
	startupTimeout  = 30 * time.Second
)

func newLogger(cfg config.Logging, out io.Writer) (zerolog.Logger, error) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		return zerolog.Logger{}, fmt.Errorf("logging.level: %w", err)
	}
	if level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	if cfg.Pretty {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	return zerolog.New(out).Level(level).With().Timestamp().Logger(), nil
}

// newStore connects to Redis when configured and falls back to an
// in-process cache otherwise.
func newStore(ctx context.Context, cfg config.Config, log zerolog.Logger) (cache.Store, func(), error) {
	if cfg.Redis.URL == "" {
		log.Warn().Msg("No redis.url configured, using in-memory cache")
		return cache.NewMemoryStore(clock.Real()), func() {}, nil
	}
	rdb, err := cache.NewRedisClient(cfg.RedisOptions())
	if err != nil {
		return nil, nil, err
	}
	store := cache.NewRedisStore(rdb)
	if err := store.Ping(ctx); err != nil {
		_ = rdb.Close()
		return nil, nil, fmt.Errorf("connect to redis: %w", err)
	}
	log.Info().Msg("Connected to redis")
	return store, func() { _ = rdb.Close() }, nil
}

func serve(ctx context.Context, cfg config.Config) error {
	log, err := newLogger(cfg.Logging, os.Stdout)
	if err != nil {
		return err
	}
	zerolog.DefaultContextLogger = &log

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = log.WithContext(ctx)

	startCtx, cancelStart := context.WithTimeout(ctx, startupTimeout)
	defer cancelStart()

	store, closeStore, err := newStore(startCtx, cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()

	hs, err := homeserver.New(homeserver.Options{
		Homeserver:   cfg.Matrix.Homeserver,
		UserID:       cfg.BotUserID(),
		AccessToken:  cfg.Appservice.AccessToken,
		AppserviceID: cfg.Appservice.ID,
		Logger:       log,
	})
	if err != nil {
		return err
	}

	rooms := service.NewJoinedRoomSet()
	syncer := service.NewSynchronizer(hs, rooms, store, clock.Real(), cfg.SyncRules(), log)
	if err := syncer.Seed(startCtx); err != nil {
		log.Warn().Err(err).Msg("Failed to seed joined rooms, starting empty")
	}
	dir := service.NewDirectory(hs, rooms, store, cfg.DirectoryOptions(), log)
	access := service.NewRoomAccess(hs, rooms, store, cfg.Matrix.ServerName, cfg.Appservice.Rules.FederationDomainWhitelist, cfg.JoinedCache())
	pings := service.NewPingStore()
	gw := proxy.NewGateway(proxy.Options{
		Homeserver:  cfg.Matrix.Homeserver,
		AccessToken: cfg.Appservice.AccessToken,
		Store:       store,
		Policy:      cfg.ProxyPolicy(),
		Logger:      log,
	})

	hub := handlers.NewDirectoryHub(log)
	syncer.SetObserver(hub)

	router := httpx.NewRouter(httpx.Handlers{
		Appservice: handlers.NewAppserviceHandler(syncer, pings),
		Room:       handlers.NewRoomHandler(dir, syncer, access),
		Directory:  handlers.NewDirectoryHandler(dir),
		Proxy:      handlers.NewProxyHandler(gw),
		System:     handlers.NewSystemHandler(hs, cfg.BotUserID(), cfg.Search.Disabled, handlers.BuildInfo{Version: Version, Commit: Commit}),
		WebSocket:  handlers.NewWebSocketHandler(hub, cfg.Server.AllowOrigin),
		Access:     access,
	}, httpx.Options{
		HSToken:        cfg.Appservice.HSAccessToken,
		AdminToken:     cfg.Appservice.AdminToken,
		AllowedOrigins: cfg.Server.AllowOrigin,
		SearchDisabled: cfg.Search.Disabled,
		Logger:         log,
	})

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      60 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Stringer("user_id", cfg.BotUserID()).Msg("Listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	go func() {
		log.Info().Msg("Pinging homeserver")
		if err := service.PingHomeserver(ctx, hs, pings); err != nil {
			log.Warn().Err(err).Msg("Failed to ping homeserver")
			return
		}
		log.Info().Msg("Homeserver pinged successfully")
	}()

	select {
	case err := <-errc:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}
	log.Info().Msg("Shutdown signal received, shutting down gracefully")

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	hub.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server shutdown error")
	}
	syncer.Wait()
	gw.Wait()
	log.Info().Msg("Server stopped")
	return nil
}
