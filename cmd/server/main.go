package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Viewing/internal/adapters/auth"
	router "github.com/dkeye/Viewing/internal/adapters/http"
	"github.com/dkeye/Viewing/internal/app"
	"github.com/dkeye/Viewing/internal/app/orch"
	"github.com/dkeye/Viewing/internal/config"
	"github.com/dkeye/Viewing/internal/core"
	"github.com/dkeye/Viewing/internal/postgres"
)

type directory interface {
	core.MetadataLookup
	core.IdentityLookup
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}

	var dir directory = app.NewStaticDirectory()
	if cfg.PostgresDSN != "" {
		pool, err := postgres.NewPool(ctx, postgres.Config{
			DSN:             cfg.PostgresDSN,
			MaxConns:        8,
			MaxConnIdleTime: 5 * time.Minute,
			ApplicationName: "viewing-coordinator",
		})
		if err != nil {
			log.Fatal().Err(err).Msg("postgres connect")
		}
		defer pool.Close()
		dir = postgres.NewDirectory(pool)
		log.Info().Msg("using postgres session directory")
	} else {
		log.Warn().Msg("no postgres_dsn set, session metadata checks disabled")
	}

	reg := app.NewRegistry(cfg.GracePeriod)
	chat := app.NewChatRelay(cfg.ChatHistory)
	o := orch.New(reg, chat, dir, dir)
	go o.RunJanitor(ctx, cfg.JanitorPeriod, cfg.TombstoneTTL)

	verifier := auth.NewVerifier(cfg.Secret, cfg.JWTIssuer, cfg.JWTClockSkew)

	r := router.SetupRouter(ctx, cfg, o, verifier)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("Viewing coordinator started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Server exited gracefully")
}
