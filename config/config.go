// Package config loads toolscope runtime settings from TOOLSCOPE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/skosovsky/toolscope"
)

const envPrefix = "TOOLSCOPE"

// Config holds engine, dispatcher and transport settings.
type Config struct {
	// Engine
	ToolTimeout    time.Duration `envconfig:"TOOL_TIMEOUT" default:"30s"`
	MaxConcurrency int           `envconfig:"MAX_CONCURRENCY" default:"10"`
	RecoverPanics  bool          `envconfig:"RECOVER_PANICS" default:"true"`

	// Dispatcher / factory
	AgentName    string        `envconfig:"AGENT_NAME" default:"tool_dispatcher"`
	HealthBudget time.Duration `envconfig:"HEALTH_BUDGET" default:"5s"`

	// Logging
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"text"`

	// Transports. Empty NATSURL disables the NATS publisher.
	WSAddr            string `envconfig:"WS_ADDR" default:":8080"`
	NATSURL           string `envconfig:"NATS_URL"`
	NATSSubjectPrefix string `envconfig:"NATS_SUBJECT_PREFIX" default:"toolscope.events"`
}

// Load reads the configuration from the environment and validates it.
func Load() (*Config, error) {
	var c Config
	if err := envconfig.Process(envPrefix, &c); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	if c.ToolTimeout < 0 {
		errs = append(errs, errors.New("TOOLSCOPE_TOOL_TIMEOUT must not be negative"))
	}
	if c.HealthBudget <= 0 {
		errs = append(errs, errors.New("TOOLSCOPE_HEALTH_BUDGET must be positive"))
	}
	if strings.TrimSpace(c.AgentName) == "" {
		errs = append(errs, errors.New("TOOLSCOPE_AGENT_NAME must not be empty"))
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("TOOLSCOPE_LOG_FORMAT must be text or json, got %q", c.LogFormat))
	}
	if c.NATSURL != "" && strings.TrimSpace(c.NATSSubjectPrefix) == "" {
		errs = append(errs, errors.New("TOOLSCOPE_NATS_SUBJECT_PREFIX is required when TOOLSCOPE_NATS_URL is set"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// EngineOptions translates the engine settings into toolscope options.
func (c *Config) EngineOptions() []toolscope.EngineOption {
	return []toolscope.EngineOption{
		toolscope.WithDefaultTimeout(c.ToolTimeout),
		toolscope.WithMaxConcurrency(c.MaxConcurrency),
		toolscope.WithRecoverPanics(c.RecoverPanics),
	}
}

// FactoryOptions returns the factory settings; transports and observers are added by the caller.
func (c *Config) FactoryOptions() []toolscope.FactoryOption {
	return []toolscope.FactoryOption{
		toolscope.WithHealthBudget(c.HealthBudget),
		toolscope.WithDispatcherOptions(toolscope.WithAgentName(c.AgentName)),
	}
}

// NewLogger builds a slog logger writing to w in the configured format and level.
func (c *Config) NewLogger(w io.Writer) *slog.Logger {
	level, err := parseLevel(c.LogLevel)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if c.LogFormat == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("TOOLSCOPE_LOG_LEVEL: %w", err)
	}
	return level, nil
}
