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

	"github.com/avdeev/cobrowse/internal/app"
	"github.com/avdeev/cobrowse/internal/config"
	"github.com/avdeev/cobrowse/internal/hub"
	"github.com/avdeev/cobrowse/internal/store"
	router "github.com/avdeev/cobrowse/internal/transport/http"
	"github.com/avdeev/cobrowse/internal/transport/ws"
	"github.com/avdeev/cobrowse/internal/upstream"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	// Human-friendly output for terminal; in production you may want JSON only.
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open store")
	}
	defer st.Close()

	engine := upstream.NewClient(cfg.UpstreamBaseURL)
	h := hub.New()

	api := &router.API{
		Cfg:      cfg,
		Sessions: &app.Sessions{Store: st, Upstream: engine, Limit: cfg.MaxActiveSessions},
		Janitor:  &app.Janitor{Store: st, Upstream: engine, APIKey: cfg.UpstreamAPIKey},
		Rooms:    app.NewRooms(st),
		Hub:      h,
		WS:       &ws.Controller{Hub: h, ReadLimit: cfg.ReadLimit, PingPeriod: cfg.PingPeriod},
	}

	r := router.SetupRouter(ctx, cfg, api)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("cobrowse server started")
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
