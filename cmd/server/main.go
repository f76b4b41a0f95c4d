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

	router "github.com/openmeet/sfu/internal/adapters/http"
	"github.com/openmeet/sfu/internal/adapters/rtc"
	signaladapter "github.com/openmeet/sfu/internal/adapters/signal"
	"github.com/openmeet/sfu/internal/app"
	"github.com/openmeet/sfu/internal/auth"
	"github.com/openmeet/sfu/internal/config"
)

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

	engine := rtc.NewEngine(rtc.Config{
		MinPort:     cfg.RTCMinPort,
		MaxPort:     cfg.RTCMaxPort,
		AnnouncedIP: cfg.AnnouncedIP,
		STUNURLs:    cfg.STUNURLs,
	})

	// A worker failing to come up leaves the media plane unusable; there is
	// no partial-capacity mode.
	workers, err := app.NewWorkerPool(engine, cfg.NumWorkers)
	if err != nil {
		log.Fatal().Err(err).Msg("worker pool startup failed")
	}
	defer workers.Close()

	orch := &app.Orchestrator{
		Workers:  workers,
		Routers:  app.NewRouterRegistry(workers, rtc.DefaultCodecs()),
		Sessions: app.NewSessionRegistry(),
	}

	ctl := signaladapter.NewController(orch, signaladapter.NewHub(), auth.NewVerifier(cfg.Secret))
	ctl.ReadLimit = cfg.ReadLimit
	ctl.PingPeriod = cfg.PingPeriod

	r := router.SetupRouter(ctx, cfg, orch, ctl)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Int("workers", workers.Len()).Msg("SFU server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}
	log.Info().Msg("server exited gracefully")
}
