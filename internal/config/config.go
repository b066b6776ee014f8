package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"

	BackendPortAudio = "portaudio"
	BackendMalgo     = "malgo"
)

// RemoteConfig selects and configures the conversational audio service.
type RemoteConfig struct {
	Provider       string        `yaml:"provider" env:"CONSULT_REMOTE_PROVIDER"`
	Model          string        `yaml:"model" env:"CONSULT_REMOTE_MODEL"`
	Instructions   string        `yaml:"instructions"`
	Voice          string        `yaml:"voice"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	Gemini         GeminiConfig  `yaml:"gemini"`
	OpenAI         OpenAIConfig  `yaml:"openai"`
}

// GeminiConfig stores Gemini Live specific configurations.
type GeminiConfig struct {
	APIKey  string `yaml:"api_key" env:"GEMINI_API_KEY"`
	BaseURL string `yaml:"base_url"`
}

// OpenAIConfig stores OpenAI Realtime specific configurations.
type OpenAIConfig struct {
	APIKey  string `yaml:"api_key" env:"OPENAI_API_KEY"`
	BaseURL string `yaml:"base_url"`
}

// CaptureConfig configures the microphone.
type CaptureConfig struct {
	Backend    string `yaml:"backend" env:"CONSULT_CAPTURE_BACKEND"`
	QueueDepth int    `yaml:"queue_depth"`
}

// PlaybackConfig configures the speaker.
type PlaybackConfig struct {
	BufferSize time.Duration `yaml:"buffer_size"`
}

// TranscriptConfig configures transcript retention.
type TranscriptConfig struct {
	MaxConsultations int           `yaml:"max_consultations"`
	FlushAfter       time.Duration `yaml:"flush_after"`
}

// ObservabilityConfig configures the metrics endpoint. An empty address
// disables it.
type ObservabilityConfig struct {
	MetricsAddr string `yaml:"metrics_addr" env:"CONSULT_METRICS_ADDR"`
}

// Config stores the application configuration.
type Config struct {
	Remote        RemoteConfig        `yaml:"remote"`
	Capture       CaptureConfig       `yaml:"capture"`
	Playback      PlaybackConfig      `yaml:"playback"`
	Transcript    TranscriptConfig    `yaml:"transcript"`
	Observability ObservabilityConfig `yaml:"observability"`
	LogLevel      string              `yaml:"log_level" env:"CONSULT_LOG_LEVEL"`
}

// Credential returns the API key of the selected provider.
func (c *Config) Credential() string {
	if c.Remote.Provider == ProviderOpenAI {
		return c.Remote.OpenAI.APIKey
	}
	return c.Remote.Gemini.APIKey
}

// LoadConfig loads the configuration from the given file path. Environment
// variables override file values; unset values get defaults.
func LoadConfig(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes YAML, applies environment overrides and defaults, and
// validates the result.
func Parse(data []byte) (*Config, error) {
	var cfg Config

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Remote.Provider == "" {
		c.Remote.Provider = ProviderGemini
	}
	if c.Remote.ConnectTimeout == 0 {
		c.Remote.ConnectTimeout = 15 * time.Second
	}
	if c.Capture.Backend == "" {
		c.Capture.Backend = BackendPortAudio
	}
	if c.Capture.QueueDepth == 0 {
		c.Capture.QueueDepth = 8
	}
	if c.Playback.BufferSize == 0 {
		c.Playback.BufferSize = 100 * time.Millisecond
	}
	if c.Transcript.MaxConsultations == 0 {
		c.Transcript.MaxConsultations = 32
	}
	if c.Transcript.FlushAfter == 0 {
		c.Transcript.FlushAfter = 800 * time.Millisecond
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

// Validate reports every invalid setting at once. A missing credential is
// not an error here: the live session rejects it on connect.
func (c *Config) Validate() error {
	var errs []error

	switch c.Remote.Provider {
	case ProviderGemini, ProviderOpenAI:
	default:
		errs = append(errs, fmt.Errorf("remote.provider: unknown provider %q", c.Remote.Provider))
	}
	if c.Remote.ConnectTimeout < 0 {
		errs = append(errs, errors.New("remote.connect_timeout: must not be negative"))
	}
	switch c.Capture.Backend {
	case BackendPortAudio, BackendMalgo:
	default:
		errs = append(errs, fmt.Errorf("capture.backend: unknown backend %q", c.Capture.Backend))
	}
	if c.Capture.QueueDepth < 0 {
		errs = append(errs, errors.New("capture.queue_depth: must not be negative"))
	}
	if c.Playback.BufferSize < 0 {
		errs = append(errs, errors.New("playback.buffer_size: must not be negative"))
	}
	if c.Transcript.MaxConsultations < 0 {
		errs = append(errs, errors.New("transcript.max_consultations: must not be negative"))
	}
	if c.Transcript.FlushAfter < 0 {
		errs = append(errs, errors.New("transcript.flush_after: must not be negative"))
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log_level: unknown level %q", c.LogLevel))
	}

	return errors.Join(errs...)
}
