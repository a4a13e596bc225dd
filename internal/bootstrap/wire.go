// Package bootstrap assembles the runtime dependency graphs for the two
// binaries.
package bootstrap

import (
	"fmt"
	"net/http"
	"net/url"

	"liverelay/internal/analysis"
	"liverelay/internal/audio"
	"liverelay/internal/config"
	"liverelay/internal/logging"
	"liverelay/internal/metrics"
	"liverelay/internal/ports"
	"liverelay/internal/providers/gemini"
	"liverelay/internal/relay"
	"liverelay/internal/transport"
	"liverelay/internal/usecase"
)

// RelayServices is the assembled relay runtime.
type RelayServices struct {
	Router http.Handler
	Config config.Config
}

// BuildRelay wires the relay server: the Gemini Live provider behind the
// websocket endpoint and the static-model analysis API.
func BuildRelay() (RelayServices, error) {
	cfg, err := config.Load()
	if err != nil {
		return RelayServices{}, err
	}

	provider := gemini.NewProvider(gemini.Config{
		APIKey: cfg.Gemini.APIKey,
		Host:   cfg.Gemini.Host,
		Model:  cfg.Gemini.LiveModel,
	})

	model := analysis.NewGeminiModel(cfg.Gemini.APIKey, cfg.Gemini.Host, cfg.Gemini.StaticModel)
	handler := analysis.NewHandler(model, metrics.Default, logging.WithComponent("analysis"))

	server := relay.NewServer(provider, cfg.Relay.Conversational, metrics.Default, handler.Routes())
	return RelayServices{Router: server.Router(), Config: cfg}, nil
}

// ClientServices is the assembled client runtime.
type ClientServices struct {
	Controller *usecase.Controller
	Config     config.Config
}

// BuildClient wires the client session controller against the relay
// named by the configuration.
func BuildClient(sink ports.EventSink) (ClientServices, error) {
	cfg, err := config.Load()
	if err != nil {
		return ClientServices{}, err
	}

	refineBase, err := httpBaseURL(cfg.Client.ServerURL)
	if err != nil {
		return ClientServices{}, err
	}

	var system *ports.CaptureConfig
	if cfg.Client.SystemDevice != "" {
		system = &ports.CaptureConfig{
			SampleRate:  cfg.Client.SampleRate,
			Channels:    1,
			InputFormat: cfg.Client.MicFormat,
			InputDevice: cfg.Client.SystemDevice,
		}
	}

	controller := usecase.NewController(
		transport.NewDialer(),
		audio.NewCapture(cfg.Client.FFmpegCommand),
		audio.NewFFPlaySink(cfg.Client.FFplayCommand),
		analysis.NewHTTPRefiner(refineBase),
		sink,
		usecase.Config{
			ServerURL:         cfg.Client.ServerURL,
			SystemInstruction: cfg.Client.SystemInstruction,
			SampleRate:        cfg.Client.SampleRate,
			ChunkSize:         cfg.Client.ChunkSize,
			PlaybackRate:      cfg.Client.PlaybackRate,
			Conversational:    cfg.Relay.Conversational,
			Mic: ports.CaptureConfig{
				SampleRate:  cfg.Client.SampleRate,
				Channels:    1,
				InputFormat: cfg.Client.MicFormat,
				InputDevice: cfg.Client.MicDevice,
			},
			System: system,
		},
		logging.WithComponent("client"),
	)

	return ClientServices{Controller: controller, Config: cfg}, nil
}

// httpBaseURL derives the relay's HTTP base from its websocket URL, so
// the refinement endpoint follows the websocket configuration.
func httpBaseURL(wsURL string) (string, error) {
	parsed, err := url.Parse(wsURL)
	if err != nil {
		return "", fmt.Errorf("parse server url %q: %w", wsURL, err)
	}
	switch parsed.Scheme {
	case "ws":
		parsed.Scheme = "http"
	case "wss":
		parsed.Scheme = "https"
	}
	parsed.Path = ""
	parsed.RawQuery = ""
	return parsed.String(), nil
}
