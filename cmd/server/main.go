package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/npezzotti/go-chatrooms/internal/api"
	"github.com/npezzotti/go-chatrooms/internal/auth"
	"github.com/npezzotti/go-chatrooms/internal/cache"
	"github.com/npezzotti/go-chatrooms/internal/config"
	"github.com/npezzotti/go-chatrooms/internal/database"
	"github.com/npezzotti/go-chatrooms/internal/server"
	"github.com/npezzotti/go-chatrooms/internal/stats"
)

const shutdownTimeout = 10 * time.Second

func newLogger(env string) zerolog.Logger {
	if env == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
			With().Timestamp().Str("service", "gochat").Logger().
			Level(zerolog.DebugLevel)
	}

	return zerolog.New(os.Stdout).
		With().Timestamp().Str("service", "gochat").Logger().
		Level(zerolog.InfoLevel)
}

func openRepository(ctx context.Context, cfg *config.Config) (database.GoChatRepository, error) {
	if cfg.DatabaseDriver == config.DriverSqlite {
		return database.NewSqliteGoChatRepository(cfg.DatabaseDSN)
	}

	repo, err := database.NewPgGoChatRepository(cfg.DatabaseDSN)
	if err != nil {
		return nil, err
	}
	if err := repo.Ping(ctx); err != nil {
		repo.Close()
		return nil, err
	}
	if err := repo.Migrate(); err != nil {
		repo.Close()
		return nil, err
	}

	return repo, nil
}

func openCache(ctx context.Context, cfg *config.Config) (cache.OccupantCache, func(), error) {
	if cfg.RedisURL == "" {
		return cache.NewMemoryOccupantCache(), func() {}, nil
	}

	rc, err := cache.NewRedisOccupantCache(ctx, cfg.RedisURL)
	if err != nil {
		return nil, nil, err
	}

	return rc, func() { rc.Close() }, nil
}

func main() {
	config.LoadEnv()

	var p config.Params
	var origins string
	flag.StringVar(&p.Env, "env", config.Getenv("GOCHAT_ENV", "development"), "runtime environment")
	flag.StringVar(&p.ServerAddr, "addr", config.Getenv("GOCHAT_ADDR", "localhost:8000"), "server address")
	flag.StringVar(&p.DatabaseDriver, "db-driver", config.Getenv("GOCHAT_DB_DRIVER", config.DriverPostgres), "database driver (postgres or sqlite)")
	flag.StringVar(&p.DatabaseDSN, "dsn", config.Getenv("GOCHAT_DSN", "host=localhost user=postgres password=postgres dbname=postgres sslmode=disable"), "database connection string")
	flag.StringVar(&p.RedisURL, "redis-url", config.Getenv("GOCHAT_REDIS_URL", ""), "redis URL for the occupant cache; in-memory when empty")
	flag.StringVar(&p.SigningKey, "signing-key", config.Getenv("GOCHAT_SIGNING_KEY", ""), "base64 encoded signing key (required)")
	flag.StringVar(&origins, "allowed-origins", config.Getenv("GOCHAT_ALLOWED_ORIGINS", ""), "comma-separated list of allowed origins for CORS")
	flag.StringVar(&p.AuthTimeout, "auth-timeout", config.Getenv("GOCHAT_AUTH_TIMEOUT", "10s"), "time allowed for the websocket auth frame")
	flag.StringVar(&p.NotifyJoiner, "notify-joiner", config.Getenv("GOCHAT_NOTIFY_JOINER", "true"), "send join notices to the joining session too")
	flag.Parse()
	p.AllowedOrigins = config.SplitList(origins)

	cfg, err := config.NewConfig(p)
	if err != nil {
		l := newLogger("")
		l.Fatal().Err(err).Msg("config")
	}

	logger := newLogger(cfg.Env)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	repo, err := openRepository(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Str("driver", cfg.DatabaseDriver).Msg("db open")
	}
	defer func() {
		if err := repo.Close(); err != nil {
			logger.Error().Err(err).Msg("db close")
		}
	}()

	occupants, closeCache, err := openCache(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("cache open")
	}
	defer closeCache()

	statsUpdater := stats.NewStatsUpdater()

	chatServer := server.NewChatServer(logger, repo, occupants, statsUpdater, server.Options{
		NotifyJoiner: cfg.NotifyJoiner,
	})
	gateway := server.NewGateway(chatServer, auth.NewTokenSigner(cfg.SigningKey), cfg.AuthTimeout, cfg.AllowedOrigins, logger)

	app := api.NewGoChatApp(http.NewServeMux(), logger, chatServer, gateway, repo, statsUpdater.Handler(), cfg)

	go chatServer.Run()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := app.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		httpErr := app.Shutdown(shutdownCtx)

		logger.Info().Msg("shutting down chat server...")
		return errors.Join(httpErr, chatServer.Shutdown(shutdownCtx))
	})

	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("server")
		return
	}

	logger.Info().Msg("shutdown complete")
}
