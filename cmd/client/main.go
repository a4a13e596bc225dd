package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"liverelay/internal/bootstrap"
	"liverelay/internal/domain"
	"liverelay/internal/logging"
)

// consoleSink renders session output on the terminal: one line per
// transcript update, state transitions and errors on stderr.
type consoleSink struct{}

func (consoleSink) StateChanged(state domain.ConnectionState) {
	fmt.Fprintf(os.Stderr, "-- session %s\n", state)
}

func (consoleSink) Transcript(entry domain.TranscriptEntry) {
	speaker := "you"
	if entry.Speaker == domain.SpeakerAssistant {
		speaker = "assistant"
	}
	marker := ""
	switch {
	case entry.IsRefined:
		marker = " (refined)"
	case !entry.IsFinal:
		marker = " ..."
	}
	fmt.Printf("[%s] %s%s\n", speaker, entry.Text, marker)
}

func (consoleSink) SessionError(code domain.ErrorCode, detail string) {
	fmt.Fprintf(os.Stderr, "!! %s: %s\n", code, detail)
}

func main() {
	_ = godotenv.Load()

	services, err := bootstrap.BuildClient(consoleSink{})
	if err != nil {
		fmt.Fprintln(os.Stderr, "client bootstrap failed:", err)
		os.Exit(1)
	}

	logging.Init(logging.Config{
		Level:  services.Config.Logging.Level,
		Format: services.Config.Logging.Format,
	})
	log := logging.WithComponent("client")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := services.Controller.Start(ctx); err != nil {
		log.Error().Err(err).Msg("failed to start live session")
		os.Exit(1)
	}
	defer services.Controller.Stop()

	// typed lines go into the session as text turns; EOF or a signal
	// ends the session
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			text := strings.TrimSpace(scanner.Text())
			if text == "" {
				continue
			}
			if err := services.Controller.SendText(text); err != nil {
				log.Warn().Err(err).Msg("could not send text")
			}
		}
		stop()
	}()

	<-ctx.Done()
	log.Info().Msg("stopping live session")
}
