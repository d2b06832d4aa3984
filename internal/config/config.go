// Package config provides application configuration.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ashureev/triage-agents/internal/agentsvc"
	"github.com/ashureev/triage-agents/internal/domain"
	"github.com/ashureev/triage-agents/internal/poller"
)

// Agent service transports.
const (
	TransportREST = agentsvc.TransportREST
	TransportGRPC = agentsvc.TransportGRPC
)

var errEndpointMissing = errors.New("AIFOUNDRY_PROJECT_ENDPOINT is required")

// Config holds all application configuration.
type Config struct {
	Port            string
	GRPCPort        string // empty disables the gRPC gateway
	FrontendURL     string
	DBPath          string
	LogLevel        string
	DefinitionsPath string
	Transport       string
	GRPCAddr        string
	Foundry         FoundryConfig
	Run             RunConfig
	Agents          domain.AgentSet
}

// FoundryConfig describes the remote agent service project.
type FoundryConfig struct {
	Endpoint    string
	AccountHost string
	Model       string // overrides the definitions file model when set
	APIVersion  string
	AccessToken string
	DNSTimeout  time.Duration
	DNSInterval time.Duration
}

// RunConfig is the polling schedule for agent runs.
type RunConfig struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	env := make(map[string]string, len(domain.Roles))
	for _, role := range domain.Roles {
		env[role.EnvKey()] = os.Getenv(role.EnvKey())
	}

	cfg := &Config{
		Port:            getEnv("PORT", "8080"),
		GRPCPort:        getEnv("GRPC_PORT", ""),
		FrontendURL:     getEnv("FRONTEND_URL", ""),
		DBPath:          getEnv("DB_PATH", "./data/agents.db"),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		DefinitionsPath: getEnv("AGENT_DEFINITIONS", ""),
		Transport:       strings.ToLower(strings.TrimSpace(getEnv("AGENT_TRANSPORT", TransportREST))),
		GRPCAddr:        getEnv("AGENT_GRPC_ADDR", ""),
		Foundry: FoundryConfig{
			Endpoint:    strings.TrimSpace(firstEnv("AIFOUNDRY_PROJECT_ENDPOINT", "projectEndpoint", "PROJECT_ENDPOINT")),
			AccountHost: strings.TrimSpace(getEnv("AIFOUNDRY_ACCOUNT_HOST", "")),
			Model:       strings.TrimSpace(getEnv("AIFOUNDRY_AGENT_MODEL", "")),
			APIVersion:  getEnv("AIFOUNDRY_API_VERSION", "v1"),
			AccessToken: getEnv("AIFOUNDRY_ACCESS_TOKEN", ""),
			DNSTimeout:  time.Duration(getEnvInt("AIFOUNDRY_DNS_TIMEOUT", 900)) * time.Second,
			DNSInterval: getEnvDuration("AIFOUNDRY_DNS_INTERVAL", 10*time.Second),
		},
		Run: RunConfig{
			MaxAttempts:    getEnvInt("RUN_MAX_ATTEMPTS", poller.DefaultMaxAttempts),
			InitialBackoff: getEnvDuration("RUN_INITIAL_BACKOFF", poller.DefaultInitialDelay),
			MaxBackoff:     getEnvDuration("RUN_MAX_BACKOFF", poller.DefaultMaxDelay),
		},
		Agents: domain.AgentSetFromEnv(env),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	switch c.Transport {
	case TransportREST:
	case TransportGRPC:
		if c.GRPCAddr == "" {
			return fmt.Errorf("AGENT_GRPC_ADDR is required when AGENT_TRANSPORT=grpc")
		}
	default:
		return fmt.Errorf("AGENT_TRANSPORT must be %q or %q, got %q", TransportREST, TransportGRPC, c.Transport)
	}
	if c.Foundry.DNSTimeout < 0 {
		return fmt.Errorf("AIFOUNDRY_DNS_TIMEOUT must be >= 0")
	}
	if c.Foundry.DNSInterval <= 0 {
		return fmt.Errorf("AIFOUNDRY_DNS_INTERVAL must be > 0")
	}
	if err := c.Schedule().Validate(); err != nil {
		return fmt.Errorf("RUN_* settings: %w", err)
	}
	return nil
}

// RequireEndpoint fails when no project endpoint is configured.
func (c *Config) RequireEndpoint() error {
	if c.Foundry.Endpoint == "" {
		return errEndpointMissing
	}
	return nil
}

// Schedule returns the run polling schedule.
func (c *Config) Schedule() poller.Schedule {
	return poller.Schedule{
		InitialDelay: c.Run.InitialBackoff,
		MaxDelay:     c.Run.MaxBackoff,
		MaxAttempts:  c.Run.MaxAttempts,
	}
}

// Service returns the transport settings for agentsvc.Open.
func (c *Config) Service() agentsvc.OpenConfig {
	return agentsvc.OpenConfig{
		Transport:  c.Transport,
		Endpoint:   c.Foundry.Endpoint,
		APIVersion: c.Foundry.APIVersion,
		Token:      c.Foundry.AccessToken,
		GRPCAddr:   c.GRPCAddr,
	}
}

// SlogLevel maps LOG_LEVEL to a slog level, defaulting to info.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(strings.TrimSpace(c.LogLevel)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func firstEnv(keys ...string) string {
	for _, key := range keys {
		if value := os.Getenv(key); value != "" {
			return value
		}
	}
	return ""
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

// getEnvDuration accepts Go durations ("2s", "1m30s") or bare seconds ("12", "0.5").
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	value = strings.TrimSpace(value)
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.ParseFloat(value, 64); err == nil {
		return time.Duration(secs * float64(time.Second))
	}
	return fallback
}

// IsContainer returns true if running inside a container.
func IsContainer() bool {
	if getEnvBool("CONTAINER", false) {
		return true
	}
	_, err := os.Stat("/.dockerenv")
	return err == nil
}
