// Package config handles application configuration loaded from the environment.
package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/upskill-ai/salescoach/internal/dotenv"
)

// Config is the top-level application configuration.
type Config struct {
	Server  ServerConfig
	Azure   AzureConfig
	Speech  SpeechConfig
	Logging LoggingConfig
}

// ServerConfig defines the HTTP listener and asset settings.
type ServerConfig struct {
	Host             string        // HOST, default "0.0.0.0"
	Port             int           // PORT, default 8000
	ScenarioDir      string        // SCENARIO_DIR, default "./scenarios"
	StaticDir        string        // STATIC_DIR, default "./static"
	GraphDataFile    string        // GRAPH_DATA_FILE, default "./data/graph-api-canned.json"
	AllowedOrigins   []string      // ALLOWED_ORIGINS, comma-separated; default ["*"]
	HandshakeTimeout time.Duration // VOICE_HANDSHAKE_TIMEOUT, 0 disables
}

// AzureConfig defines the Azure AI resource and OpenAI settings.
type AzureConfig struct {
	ResourceName    string // AZURE_AI_RESOURCE_NAME
	Region          string // AZURE_AI_REGION, default "swedencentral"
	ProjectName     string // AZURE_AI_PROJECT_NAME
	AgentID         string // AGENT_ID, optional default remote agent
	OpenAIEndpoint  string // AZURE_OPENAI_ENDPOINT
	OpenAIAPIKey    string // AZURE_OPENAI_API_KEY
	ModelDeployment string // MODEL_DEPLOYMENT_NAME, default "gpt-4o"
}

// SpeechConfig defines the Azure Speech settings for pronunciation assessment.
type SpeechConfig struct {
	Key    string // AZURE_SPEECH_KEY
	Region string // AZURE_SPEECH_REGION, default "swedencentral"
}

// LoggingConfig defines logging settings.
type LoggingConfig struct {
	Level  string // LOG_LEVEL, default "info"
	Format string // LOG_FORMAT, "json" (default) or "text"
}

// Load reads configuration from a .env file (if present) and the process
// environment. Missing credentials are not a load error: the voice proxy and
// analyzers report them at use time so the rest of the server stays usable.
func Load(envFile string) (*Config, error) {
	if err := dotenv.Load(envFile); err != nil {
		return nil, err
	}

	port, err := intEnv("PORT", 8000)
	if err != nil {
		return nil, err
	}
	handshakeTimeout, err := durationEnv("VOICE_HANDSHAKE_TIMEOUT", 0)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Server: ServerConfig{
			Host:             env("HOST", "0.0.0.0"),
			Port:             port,
			ScenarioDir:      env("SCENARIO_DIR", "./scenarios"),
			StaticDir:        env("STATIC_DIR", "./static"),
			GraphDataFile:    env("GRAPH_DATA_FILE", "./data/graph-api-canned.json"),
			AllowedOrigins:   splitEnv("ALLOWED_ORIGINS", []string{"*"}),
			HandshakeTimeout: handshakeTimeout,
		},
		Azure: AzureConfig{
			ResourceName:    os.Getenv("AZURE_AI_RESOURCE_NAME"),
			Region:          env("AZURE_AI_REGION", "swedencentral"),
			ProjectName:     os.Getenv("AZURE_AI_PROJECT_NAME"),
			AgentID:         os.Getenv("AGENT_ID"),
			OpenAIEndpoint:  os.Getenv("AZURE_OPENAI_ENDPOINT"),
			OpenAIAPIKey:    os.Getenv("AZURE_OPENAI_API_KEY"),
			ModelDeployment: env("MODEL_DEPLOYMENT_NAME", "gpt-4o"),
		},
		Speech: SpeechConfig{
			Key:    os.Getenv("AZURE_SPEECH_KEY"),
			Region: env("AZURE_SPEECH_REGION", "swedencentral"),
		},
		Logging: LoggingConfig{
			Level:  env("LOG_LEVEL", "info"),
			Format: env("LOG_FORMAT", "json"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("PORT must be between 1 and 65535, got %d", c.Server.Port)
	}
	switch c.Logging.Format {
	case "json", "text":
	default:
		return fmt.Errorf("LOG_FORMAT must be \"json\" or \"text\", got %q", c.Logging.Format)
	}
	return nil
}

// Addr returns the listen address in host:port form.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Server.Host, strconv.Itoa(c.Server.Port))
}

func env(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func intEnv(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

func durationEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be a duration (e.g. \"10s\"), got %q", key, v)
	}
	return d, nil
}

func splitEnv(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
