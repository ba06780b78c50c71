// Package config provides configuration management for the orchestrator.
// It supports loading configuration from environment variables, config files, and defaults.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration sections for the orchestrator.
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Database     DatabaseConfig     `mapstructure:"database"`
	NATS         NATSConfig         `mapstructure:"nats"`
	Agent        AgentConfig        `mapstructure:"agent"`
	Planner      PlannerConfig      `mapstructure:"planner"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
	Logging      LoggingConfig      `mapstructure:"logging"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"readTimeout"`  // in seconds
	WriteTimeout int    `mapstructure:"writeTimeout"` // in seconds
}

// DatabaseConfig holds persistence configuration. Driver selects the store
// implementation: memory, sqlite, or postgres.
type DatabaseConfig struct {
	Driver   string `mapstructure:"driver"`
	Path     string `mapstructure:"path"` // sqlite file path
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbName"`
	SSLMode  string `mapstructure:"sslMode"`
	MaxConns int    `mapstructure:"maxConns"`
}

// NATSConfig holds NATS messaging configuration. An empty URL means the
// in-memory event bus is used.
type NATSConfig struct {
	URL           string `mapstructure:"url"`
	ClientID      string `mapstructure:"clientId"`
	MaxReconnects int    `mapstructure:"maxReconnects"`
}

// AgentConfig holds defaults applied to every spawned agent.
type AgentConfig struct {
	Model          string `mapstructure:"model"`
	WorkingDir     string `mapstructure:"workingDir"`
	LogDir         string `mapstructure:"logDir"`
	EnableLogging  bool   `mapstructure:"enableLogging"`
	PermissionMode string `mapstructure:"permissionMode"`
	MaxConcurrent  int    `mapstructure:"maxConcurrent"`
}

// PlannerConfig controls how workflow plans are produced.
type PlannerConfig struct {
	UseAI bool   `mapstructure:"useAi"`
	Model string `mapstructure:"model"`
}

// OrchestratorConfig holds facade-level settings.
type OrchestratorConfig struct {
	MonitorInterval     int     `mapstructure:"monitorInterval"` // in seconds
	ContextWarningRatio float64 `mapstructure:"contextWarningRatio"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"outputPath"`
}

// ReadTimeoutDuration returns the read timeout as a time.Duration.
func (s *ServerConfig) ReadTimeoutDuration() time.Duration {
	return time.Duration(s.ReadTimeout) * time.Second
}

// WriteTimeoutDuration returns the write timeout as a time.Duration.
func (s *ServerConfig) WriteTimeoutDuration() time.Duration {
	return time.Duration(s.WriteTimeout) * time.Second
}

// MonitorIntervalDuration returns the monitor interval as a time.Duration.
func (o *OrchestratorConfig) MonitorIntervalDuration() time.Duration {
	return time.Duration(o.MonitorInterval) * time.Second
}

// detectDefaultLogFormat returns "json" for production-looking environments
// and human-readable "text" for terminal use.
func detectDefaultLogFormat() string {
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		return "json"
	}
	if env := os.Getenv("ORCH_ENV"); env == "production" || env == "prod" {
		return "json"
	}
	return "text"
}

// setDefaults configures default values for all configuration options.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 30)

	// Database defaults - in-memory store unless configured otherwise
	v.SetDefault("database.driver", "memory")
	v.SetDefault("database.path", "orchestrator.db")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "orchestrator")
	v.SetDefault("database.password", "")
	v.SetDefault("database.dbName", "orchestrator")
	v.SetDefault("database.sslMode", "disable")
	v.SetDefault("database.maxConns", 10)

	// NATS defaults - empty URL means use in-memory event bus
	v.SetDefault("nats.url", "")
	v.SetDefault("nats.clientId", "orchestrator")
	v.SetDefault("nats.maxReconnects", 10)

	// Agent defaults
	v.SetDefault("agent.model", "claude-sonnet-4-5")
	v.SetDefault("agent.workingDir", ".")
	v.SetDefault("agent.logDir", "agent_logs")
	v.SetDefault("agent.enableLogging", true)
	v.SetDefault("agent.permissionMode", "bypassPermissions")
	v.SetDefault("agent.maxConcurrent", 8)

	// Planner defaults
	v.SetDefault("planner.useAi", false)
	v.SetDefault("planner.model", "claude-sonnet-4-5")

	// Orchestrator defaults
	v.SetDefault("orchestrator.monitorInterval", 15)
	v.SetDefault("orchestrator.contextWarningRatio", 0.8)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", detectDefaultLogFormat())
	v.SetDefault("logging.outputPath", "stdout")
}

// Load reads configuration from environment variables, config file, and defaults.
// Environment variables use the prefix ORCH_ with snake_case naming.
// Config file should be named config.yaml and placed in the current directory
// or /etc/orchestrator/.
func Load() (*Config, error) {
	return LoadWithPath("")
}

// LoadWithPath reads configuration from the specified path or default locations.
func LoadWithPath(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("ORCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// AutomaticEnv does not handle camelCase to SNAKE_CASE conversion, so
	// keys whose env var naming differs from the config key are bound
	// explicitly. AGENT_LOG_DIR and ENABLE_AGENT_LOGGING are legacy names
	// kept for compatibility with existing deployments.
	_ = v.BindEnv("agent.logDir", "AGENT_LOG_DIR", "ORCH_AGENT_LOG_DIR")
	_ = v.BindEnv("agent.enableLogging", "ENABLE_AGENT_LOGGING", "ORCH_AGENT_ENABLE_LOGGING")
	_ = v.BindEnv("agent.workingDir", "ORCH_AGENT_WORKING_DIR")
	_ = v.BindEnv("agent.permissionMode", "ORCH_AGENT_PERMISSION_MODE")
	_ = v.BindEnv("planner.useAi", "ORCH_PLANNER_USE_AI")

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/orchestrator/")

	// Read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// validate checks that all required configuration fields are set.
func validate(cfg *Config) error {
	var errs []string

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}

	switch strings.ToLower(cfg.Database.Driver) {
	case "memory":
	case "sqlite":
		if cfg.Database.Path == "" {
			errs = append(errs, "database.path is required for the sqlite driver")
		}
	case "postgres":
		if cfg.Database.Host == "" {
			errs = append(errs, "database.host is required for the postgres driver")
		}
		if cfg.Database.User == "" {
			errs = append(errs, "database.user is required for the postgres driver")
		}
		if cfg.Database.DBName == "" {
			errs = append(errs, "database.dbName is required for the postgres driver")
		}
	default:
		errs = append(errs, "database.driver must be one of: memory, sqlite, postgres")
	}

	if cfg.Agent.MaxConcurrent <= 0 {
		errs = append(errs, "agent.maxConcurrent must be positive")
	}
	if cfg.Orchestrator.MonitorInterval <= 0 {
		errs = append(errs, "orchestrator.monitorInterval must be positive")
	}
	if cfg.Orchestrator.ContextWarningRatio <= 0 || cfg.Orchestrator.ContextWarningRatio > 1 {
		errs = append(errs, "orchestrator.contextWarningRatio must be in (0, 1]")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[strings.ToLower(cfg.Logging.Format)] {
		errs = append(errs, "logging.format must be one of: json, text")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}

	return nil
}

// DSN returns the PostgreSQL connection string.
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode,
	)
}
