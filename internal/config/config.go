// Package config provides configuration loading and management.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// DefaultFile is the configuration file looked up in the working directory.
const DefaultFile = "orchestrator.toml"

// Config represents the orchestrator configuration.
type Config struct {
	Server       ServerConfig       `toml:"server"`
	Agents       AgentsConfig       `toml:"agents"`
	Registration RegistrationConfig `toml:"registration"` // Startup discovery retry
	Timeouts     TimeoutsConfig     `toml:"timeouts"`     // Network operation timeouts
	Workflow     WorkflowConfig     `toml:"workflow"`
	Log          LogConfig          `toml:"log"`
	Telemetry    TelemetryConfig    `toml:"telemetry"`
	Events       EventsConfig       `toml:"events"` // Completion events
}

// ServerConfig contains HTTP listener settings.
type ServerConfig struct {
	Addr            string  `toml:"addr"`
	MaxConnections  int     `toml:"max_connections"`  // 0 = unlimited
	RateLimit       float64 `toml:"rate_limit"`       // Requests per second, 0 = disabled
	RateBurst       int     `toml:"rate_burst"`
	ShutdownTimeout int     `toml:"shutdown_timeout"` // Seconds
}

// AgentsConfig names the three collaborating agents and their base addresses.
type AgentsConfig struct {
	Question AgentEndpoint `toml:"question"`
	Answer   AgentEndpoint `toml:"answer"`
	Judge    AgentEndpoint `toml:"judge"`
}

// AgentEndpoint is one agent's registry name and base URL.
type AgentEndpoint struct {
	Name string `toml:"name"`
	URL  string `toml:"url"`
}

// RegistrationConfig controls startup discovery retry.
type RegistrationConfig struct {
	MaxAttempts int    `toml:"max_attempts"` // Total tries per agent (default 5)
	RetryDelay  string `toml:"retry_delay"`  // Fixed delay between tries (default "2s")
}

// TimeoutsConfig contains timeout settings for network operations.
type TimeoutsConfig struct {
	Discovery int `toml:"discovery"` // Agent card fetch timeout in seconds (default 2)
	Invoke    int `toml:"invoke"`    // Capability call timeout in seconds (default 30)
}

// WorkflowConfig holds request defaults and upper bounds.
type WorkflowConfig struct {
	DefaultQuestions  int `toml:"default_questions"`
	DefaultAttempts   int `toml:"default_attempts"`
	MaxQuestionsLimit int `toml:"max_questions_limit"`
	MaxAttemptsLimit  int `toml:"max_attempts_limit"`
}

// LogConfig selects log verbosity and encoding.
type LogConfig struct {
	Level string `toml:"level"` // debug|info|warn|error
}

// TelemetryConfig contains telemetry settings.
type TelemetryConfig struct {
	Enabled     bool              `toml:"enabled"`
	Endpoint    string            `toml:"endpoint"` // OTLP endpoint (e.g., localhost:4317)
	Protocol    string            `toml:"protocol"` // noop (default), grpc or http
	Insecure    bool              `toml:"insecure"` // Disable TLS (default false)
	Headers     map[string]string `toml:"headers"`  // Auth headers (e.g., DD-API-KEY, x-honeycomb-team)
	ServiceName string            `toml:"service_name"`
}

// EventsConfig configures the NATS completion publisher.
type EventsConfig struct {
	NATSURL string `toml:"nats_url"` // Empty disables publishing
	Subject string `toml:"subject"`
}

// New creates a new config with defaults.
func New() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8000",
			RateBurst:       10,
			ShutdownTimeout: 10,
		},
		Agents: AgentsConfig{
			Question: AgentEndpoint{Name: "question_generator", URL: "http://question-agent:8080"},
			Answer:   AgentEndpoint{Name: "answer_generator", URL: "http://answer-agent:8080"},
			Judge:    AgentEndpoint{Name: "quality_judge", URL: "http://judge-agent:8080"},
		},
		Registration: RegistrationConfig{
			MaxAttempts: 5,
			RetryDelay:  "2s",
		},
		Timeouts: TimeoutsConfig{
			Discovery: 2,
			Invoke:    30,
		},
		Workflow: WorkflowConfig{
			DefaultQuestions:  3,
			DefaultAttempts:   3,
			MaxQuestionsLimit: 20,
			MaxAttemptsLimit:  10,
		},
		Log: LogConfig{
			Level: "info",
		},
		Telemetry: TelemetryConfig{
			Protocol:    "noop",
			ServiceName: "orchestrator",
		},
		Events: EventsConfig{
			Subject: "orchestrator.courses",
		},
	}
}

// Default returns a default configuration.
func Default() *Config {
	return New()
}

// LoadFile loads configuration from a TOML file.
func LoadFile(path string) (*Config, error) {
	cfg := New()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

// LoadDefault loads configuration from orchestrator.toml in the current directory.
func LoadDefault() (*Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to get current directory: %w", err)
	}

	return LoadFile(filepath.Join(cwd, DefaultFile))
}

// Load reads path, or orchestrator.toml when path is empty. A missing default
// file yields defaults; a missing explicit file is an error.
func Load(path string) (*Config, error) {
	if path != "" {
		return LoadFile(path)
	}
	cfg, err := LoadDefault()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Default(), nil
		}
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overlays environment overrides using lookup (os.LookupEnv in production).
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	set := func(dst *string, key string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	set(&c.Agents.Question.URL, "QUESTION_AGENT_URL")
	set(&c.Agents.Answer.URL, "ANSWER_AGENT_URL")
	set(&c.Agents.Judge.URL, "JUDGE_AGENT_URL")
	set(&c.Server.Addr, "ORCHESTRATOR_ADDR")
	set(&c.Events.NATSURL, "NATS_URL")
	set(&c.Log.Level, "LOG_LEVEL")
}

// Validate checks values that would otherwise fail later at runtime.
func (c *Config) Validate() error {
	urls := make(map[string]string, 3)
	for _, a := range []AgentEndpoint{c.Agents.Question, c.Agents.Answer, c.Agents.Judge} {
		if a.Name == "" {
			return fmt.Errorf("agents: empty agent name")
		}
		if a.URL == "" {
			return fmt.Errorf("agents.%s: url is required", a.Name)
		}
		// One agent may serve several roles, but only from one address.
		if prev, ok := urls[a.Name]; ok && prev != a.URL {
			return fmt.Errorf("agents: name %q is configured with two urls (%s, %s)", a.Name, prev, a.URL)
		}
		urls[a.Name] = a.URL
	}
	if c.Registration.MaxAttempts < 1 {
		return fmt.Errorf("registration.max_attempts must be at least 1, got %d", c.Registration.MaxAttempts)
	}
	if _, err := c.RetryDelay(); err != nil {
		return err
	}
	if c.Timeouts.Discovery <= 0 || c.Timeouts.Invoke <= 0 {
		return fmt.Errorf("timeouts must be positive")
	}
	w := c.Workflow
	if w.DefaultQuestions < 1 || w.DefaultAttempts < 1 {
		return fmt.Errorf("workflow defaults must be positive")
	}
	if w.MaxQuestionsLimit < w.DefaultQuestions || w.MaxAttemptsLimit < w.DefaultAttempts {
		return fmt.Errorf("workflow limits must not be below defaults")
	}
	switch c.Telemetry.Protocol {
	case "", "noop", "http", "grpc":
	default:
		return fmt.Errorf("telemetry.protocol: unknown protocol %q", c.Telemetry.Protocol)
	}
	return nil
}

// RetryDelay parses registration.retry_delay.
func (c *Config) RetryDelay() (time.Duration, error) {
	d, err := time.ParseDuration(c.Registration.RetryDelay)
	if err != nil {
		return 0, fmt.Errorf("registration.retry_delay: %w", err)
	}
	if d < 0 {
		return 0, fmt.Errorf("registration.retry_delay must not be negative")
	}
	return d, nil
}

// DiscoveryTimeout returns timeouts.discovery as a duration.
func (c *Config) DiscoveryTimeout() time.Duration {
	return time.Duration(c.Timeouts.Discovery) * time.Second
}

// InvokeTimeout returns timeouts.invoke as a duration.
func (c *Config) InvokeTimeout() time.Duration {
	return time.Duration(c.Timeouts.Invoke) * time.Second
}

// ShutdownTimeout returns server.shutdown_timeout as a duration.
func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Server.ShutdownTimeout) * time.Second
}
