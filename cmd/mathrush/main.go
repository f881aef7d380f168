package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mathrush/backend/internal/archive"
	"github.com/mathrush/backend/internal/config"
	"github.com/mathrush/backend/internal/game"
	"github.com/mathrush/backend/internal/gateway"
	"github.com/mathrush/backend/internal/problem"
	"github.com/mathrush/backend/internal/session"
	"github.com/mathrush/backend/internal/store"
	"github.com/mathrush/backend/internal/store/memstore"
	"github.com/mathrush/backend/internal/store/natsstore"
	"github.com/mathrush/backend/internal/trigger"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("no .env file loaded")
	}

	cfg := config.FromEnv()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.LoadFile(path); err != nil {
			log.Fatal().Err(err).Str("path", path).Msg("failed to load config file")
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open store")
	}
	defer closeStore()

	clock := clockwork.NewRealClock()
	machine := game.NewMachine(st, problem.NewSeeded(), clock, cfg.GameDuration, cfg.StartingRating)

	var archiver trigger.Archiver
	if cfg.ArchiveEnabled {
		pool, err := pgxpool.New(ctx, cfg.Postgres.DSN())
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to archive database")
		}
		defer pool.Close()
		archiver = archive.NewRepository(pool)
		log.Info().Str("database", cfg.Postgres.Database).Msg("archive enabled")
	}

	handler := trigger.NewHandler(st, archiver, clock, cfg.KFactor, cfg.StartingRating)
	runner := trigger.NewRunner(st, handler)
	go func() {
		if err := runner.Run(ctx); err != nil {
			log.Error().Err(err).Msg("rating trigger runner exited")
			stop()
		}
	}()

	sessionCfg := session.Config{Duration: cfg.GameDuration, BotTicks: cfg.BotTicks()}
	gw := gateway.New(machine, st, clock, sessionCfg)

	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: gw.Handler(),
	}

	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("gateway listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("http server failed")
			stop()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown failed")
	}
}

func openStore(ctx context.Context, cfg config.Config) (store.Store, func(), error) {
	switch cfg.StoreBackend {
	case "memory":
		log.Warn().Msg("using in-memory store; state is lost on restart")
		return memstore.New(), func() {}, nil
	case "nats":
		natsCfg := natsstore.DefaultConfig()
		natsCfg.URL = cfg.NATSURL
		s, err := natsstore.Connect(ctx, natsCfg)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	default:
		return nil, nil, errors.New("unknown store backend: " + cfg.StoreBackend)
	}
}
