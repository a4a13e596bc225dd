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

	"github.com/joho/godotenv"

	"liverelay/internal/bootstrap"
	"liverelay/internal/logging"
)

func main() {
	_ = godotenv.Load()

	services, err := bootstrap.BuildRelay()
	if err != nil {
		fmt.Fprintln(os.Stderr, "relay bootstrap failed:", err)
		os.Exit(1)
	}

	logging.Init(logging.Config{
		Level:  services.Config.Logging.Level,
		Format: services.Config.Logging.Format,
	})
	log := logging.WithComponent("relay")

	srv := &http.Server{
		Addr:              services.Config.Relay.ListenAddr,
		Handler:           services.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("relay listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("relay server failed")
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("shutdown did not complete cleanly")
	}
}
