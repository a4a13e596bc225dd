package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultSystemInstruction is the session configuration used when the
// client supplies none.
const DefaultSystemInstruction = `You are a silent strategic conversation partner.
You are listening to a conversation through the user's microphone.

Do NOT respond to everything. Do NOT be conversational.
Wait for significant chunks of information.

When you detect a pause or a good moment for the user to interject, provide a "Strategic Question" the user can ask to deepen the engagement.
Keep your responses VERY short. Only the question.
Example output: "Ask: How did that make you feel regarding the timeline?"

If the conversation is flowing well, remain silent.`

// Config stores runtime configuration for both binaries.
type Config struct {
	Relay   RelayConfig   `yaml:"relay"`
	Client  ClientConfig  `yaml:"client"`
	Gemini  GeminiConfig  `yaml:"gemini"`
	Logging LoggingConfig `yaml:"logging"`
}

type RelayConfig struct {
	ListenAddr string `yaml:"listenAddr"`
	// Conversational forwards assistant audio/text to clients instead of
	// muting it (silent-listener mode).
	Conversational bool `yaml:"conversational"`
}

type ClientConfig struct {
	ServerURL string `yaml:"serverUrl"`

	SampleRate   int `yaml:"sampleRate"`
	ChunkSize    int `yaml:"chunkSize"`
	PlaybackRate int `yaml:"playbackRate"`

	MicFormat string `yaml:"micFormat"`
	MicDevice string `yaml:"micDevice"`
	// SystemDevice is the optional second capture source (display or
	// system audio monitor). Empty disables it.
	SystemDevice string `yaml:"systemDevice"`

	FFmpegCommand string `yaml:"ffmpegCommand"`
	FFplayCommand string `yaml:"ffplayCommand"`

	SystemInstruction string `yaml:"systemInstruction"`
}

type GeminiConfig struct {
	APIKey      string `yaml:"apiKey"`
	Host        string `yaml:"host"`
	LiveModel   string `yaml:"liveModel"`
	StaticModel string `yaml:"staticModel"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load resolves configuration from an optional YAML file plus environment
// variables. Environment values always override file values.
func Load() (Config, error) {
	cfg := defaults()

	if path := strings.TrimSpace(os.Getenv("LIVERELAY_CONFIG")); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	applyEnv(&cfg)

	if cfg.Client.SampleRate <= 0 {
		cfg.Client.SampleRate = 16000
	}
	if cfg.Client.ChunkSize < 256 {
		cfg.Client.ChunkSize = 4096
	}
	if cfg.Client.PlaybackRate <= 0 {
		cfg.Client.PlaybackRate = 24000
	}

	return cfg, nil
}

func defaults() Config {
	return Config{
		Relay: RelayConfig{
			ListenAddr:     ":3001",
			Conversational: false,
		},
		Client: ClientConfig{
			ServerURL:         "ws://localhost:3001/ws",
			SampleRate:        16000,
			ChunkSize:         4096,
			PlaybackRate:      24000,
			MicFormat:         "pulse",
			MicDevice:         "default",
			FFmpegCommand:     "ffmpeg",
			FFplayCommand:     "ffplay",
			SystemInstruction: DefaultSystemInstruction,
		},
		Gemini: GeminiConfig{
			Host:        "generativelanguage.googleapis.com",
			LiveModel:   "models/gemini-2.5-flash-native-audio-preview-09-2025",
			StaticModel: "models/gemini-2.0-flash",
		},
		Logging: LoggingConfig{Level: "info", Format: "json"},
	}
}

func applyEnv(cfg *Config) {
	cfg.Relay.ListenAddr = envOrDefault("LIVERELAY_LISTEN_ADDR", cfg.Relay.ListenAddr)
	cfg.Relay.Conversational = envOrDefaultBool("LIVERELAY_CONVERSATIONAL", cfg.Relay.Conversational)

	cfg.Client.ServerURL = envOrDefault("LIVERELAY_SERVER_URL", cfg.Client.ServerURL)
	cfg.Client.SampleRate = envOrDefaultInt("LIVERELAY_SAMPLE_RATE", cfg.Client.SampleRate)
	cfg.Client.ChunkSize = envOrDefaultInt("LIVERELAY_CHUNK_SIZE", cfg.Client.ChunkSize)
	cfg.Client.PlaybackRate = envOrDefaultInt("LIVERELAY_PLAYBACK_RATE", cfg.Client.PlaybackRate)
	cfg.Client.MicFormat = envOrDefault("LIVERELAY_MIC_FORMAT", cfg.Client.MicFormat)
	cfg.Client.MicDevice = envOrDefault("LIVERELAY_MIC_DEVICE", cfg.Client.MicDevice)
	cfg.Client.SystemDevice = envOrDefault("LIVERELAY_SYSTEM_DEVICE", cfg.Client.SystemDevice)
	cfg.Client.FFmpegCommand = envOrDefault("LIVERELAY_FFMPEG_COMMAND", cfg.Client.FFmpegCommand)
	cfg.Client.FFplayCommand = envOrDefault("LIVERELAY_FFPLAY_COMMAND", cfg.Client.FFplayCommand)
	cfg.Client.SystemInstruction = envOrDefault("LIVERELAY_SYSTEM_INSTRUCTION", cfg.Client.SystemInstruction)

	cfg.Gemini.APIKey = envOrDefault("GEMINI_API_KEY", cfg.Gemini.APIKey)
	cfg.Gemini.Host = envOrDefault("GEMINI_HOST", cfg.Gemini.Host)
	cfg.Gemini.LiveModel = envOrDefault("GEMINI_LIVE_MODEL", cfg.Gemini.LiveModel)
	cfg.Gemini.StaticModel = envOrDefault("GEMINI_STATIC_MODEL", cfg.Gemini.StaticModel)

	cfg.Logging.Level = envOrDefault("LIVERELAY_LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.Format = envOrDefault("LIVERELAY_LOG_FORMAT", cfg.Logging.Format)
}

func envOrDefault(key string, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func envOrDefaultInt(key string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envOrDefaultBool(key string, fallback bool) bool {
	switch strings.TrimSpace(strings.ToLower(os.Getenv(key))) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}
