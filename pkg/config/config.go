// Package config loads runtime configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	BackendProcess = "process"
	BackendDocker  = "docker"

	JournalJSONL  = "jsonl"
	JournalSQLite = "sqlite"
)

var ErrMissingAPIKey = errors.New("GEMINI_API_KEY environment variable not set")

// Config holds all application configuration.
type Config struct {
	Model   ModelConfig
	Sandbox SandboxConfig
	Browser BrowserConfig
	Search  SearchConfig
	Journal JournalConfig
	Logging LogConfig
	Server  ServerConfig
}

// ModelConfig configures the planning and code generation agents.
type ModelConfig struct {
	APIKey           string `envconfig:"GEMINI_API_KEY"`
	PlannerModel     string `envconfig:"PLANNER_MODEL" default:"gemini-2.0-flash"`
	SynthesizerModel string `envconfig:"SYNTHESIZER_MODEL" default:"gemini-2.0-flash"`
	MaxTurns         int    `envconfig:"AGENT_MAX_TURNS" default:"8"`
}

// SandboxConfig configures where and how generated scripts run.
type SandboxConfig struct {
	Backend     string `envconfig:"SANDBOX_BACKEND" default:"process"`
	Interpreter string `envconfig:"SANDBOX_INTERPRETER" default:"python3"`
	TempDir     string `envconfig:"SANDBOX_TEMP_DIR"`
	// Timeout of zero waits for the script to finish on its own.
	Timeout       time.Duration `envconfig:"SANDBOX_TIMEOUT" default:"0s"`
	DockerImage   string        `envconfig:"SANDBOX_DOCKER_IMAGE" default:"mcr.microsoft.com/playwright/python:v1.47.0-jammy"`
	DockerNetwork string        `envconfig:"SANDBOX_DOCKER_NETWORK" default:"host"`
}

// BrowserConfig describes the browser generated scripts attach to.
type BrowserConfig struct {
	CDPEndpoint string `envconfig:"BROWSER_CDP_ENDPOINT" default:"http://localhost:9222"`
}

// SearchConfig configures the web search tool.
type SearchConfig struct {
	Endpoint   string        `envconfig:"SEARCH_ENDPOINT" default:"https://html.duckduckgo.com/html/"`
	MaxResults int           `envconfig:"SEARCH_MAX_RESULTS" default:"5"`
	Timeout    time.Duration `envconfig:"SEARCH_TIMEOUT" default:"10s"`
}

// JournalConfig enables the run journal when Dir is set.
type JournalConfig struct {
	Dir     string `envconfig:"JOURNAL_DIR"`
	Backend string `envconfig:"JOURNAL_BACKEND" default:"jsonl"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `envconfig:"LOG_LEVEL" default:"info"`
	Format string `envconfig:"LOG_FORMAT" default:"text"`
	File   string `envconfig:"LOG_FILE"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Addr string `envconfig:"SERVER_ADDR" default:":8080"`
	// RetainedRuns caps the finished runs the server keeps in memory.
	RetainedRuns int `envconfig:"SERVER_RETAINED_RUNS" default:"100"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Model: ModelConfig{
			PlannerModel:     "gemini-2.0-flash",
			SynthesizerModel: "gemini-2.0-flash",
			MaxTurns:         8,
		},
		Sandbox: SandboxConfig{
			Backend:       BackendProcess,
			Interpreter:   "python3",
			DockerImage:   "mcr.microsoft.com/playwright/python:v1.47.0-jammy",
			DockerNetwork: "host",
		},
		Browser: BrowserConfig{
			CDPEndpoint: "http://localhost:9222",
		},
		Search: SearchConfig{
			Endpoint:   "https://html.duckduckgo.com/html/",
			MaxResults: 5,
			Timeout:    10 * time.Second,
		},
		Journal: JournalConfig{
			Backend: JournalJSONL,
		},
		Logging: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Server: ServerConfig{
			Addr:         ":8080",
			RetainedRuns: 100,
		},
	}
}

// Validate checks the settings needed to build a pipeline. The API key is
// checked last, so ErrMissingAPIKey means every other setting is valid.
func (c *Config) Validate() error {
	switch c.Sandbox.Backend {
	case BackendProcess, BackendDocker:
	default:
		return fmt.Errorf("unknown sandbox backend %q (want %q or %q)", c.Sandbox.Backend, BackendProcess, BackendDocker)
	}
	switch c.Journal.Backend {
	case JournalJSONL, JournalSQLite:
	default:
		return fmt.Errorf("unknown journal backend %q (want %q or %q)", c.Journal.Backend, JournalJSONL, JournalSQLite)
	}
	if c.Sandbox.Timeout < 0 {
		return fmt.Errorf("sandbox timeout must not be negative, got %s", c.Sandbox.Timeout)
	}
	if c.Model.MaxTurns <= 0 {
		return fmt.Errorf("agent max turns must be positive, got %d", c.Model.MaxTurns)
	}
	if c.Model.APIKey == "" {
		return ErrMissingAPIKey
	}
	return nil
}
