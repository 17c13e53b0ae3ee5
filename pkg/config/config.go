package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/platinummonkey/orgdeploy/pkg/observability"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig

	// Database configuration (account catalog)
	Database DatabaseConfig

	// Redis configuration (self-registration session store)
	Redis RedisConfig

	// Deployment configuration
	Deployment DeploymentConfig

	// Observability configuration
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Health/metrics server (separate port for k8s probes)
	HealthPort string
}

// DatabaseConfig holds the account catalog database settings
type DatabaseConfig struct {
	PostgresURL      string
	PostgresMaxConns int
}

// RedisConfig holds the self-registration session store settings. An empty
// URL selects the in-memory store.
type RedisConfig struct {
	URL      string
	Password string
	DB       int
}

// DeploymentConfig holds the orchestration settings
type DeploymentConfig struct {
	// AWSRegion is the home region of the orchestrator's own credential
	// chain; customer calls run in the region of each request.
	AWSRegion string

	// StackSetName is the stack set carrying the analysis role template.
	StackSetName string

	// AnalysisRoleName is the role name registered in each target account.
	AnalysisRoleName string

	PollInterval      time.Duration
	StallThreshold    int
	DetectionCacheTTL time.Duration
	WatchTimeout      time.Duration
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	// Logging
	LogLevel observability.LogLevel

	// Metrics
	MetricsEnabled bool

	// OpenTelemetry
	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool // Use insecure gRPC connection
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Database:      loadDatabaseConfig(),
		Redis:         loadRedisConfig(),
		Deployment:    loadDeploymentConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// loadServerConfig loads server configuration from environment
func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("ORGDEPLOY_HOST", "0.0.0.0"),
		Port:            getEnv("ORGDEPLOY_PORT", "8080"),
		ReadTimeout:     getEnvDuration("ORGDEPLOY_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("ORGDEPLOY_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("ORGDEPLOY_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("ORGDEPLOY_SHUTDOWN_TIMEOUT", 30*time.Second),
		HealthPort:      getEnv("ORGDEPLOY_HEALTH_PORT", "9090"),
	}
}

// loadDatabaseConfig loads catalog database configuration from environment
func loadDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		PostgresURL:      getEnv("ORGDEPLOY_POSTGRES_URL", ""),
		PostgresMaxConns: getEnvInt("ORGDEPLOY_POSTGRES_MAX_CONNS", 20),
	}
}

// loadRedisConfig loads session store configuration from environment
func loadRedisConfig() RedisConfig {
	return RedisConfig{
		URL:      getEnv("ORGDEPLOY_REDIS_URL", ""),
		Password: getEnv("ORGDEPLOY_REDIS_PASSWORD", ""),
		DB:       getEnvInt("ORGDEPLOY_REDIS_DB", 0),
	}
}

// loadDeploymentConfig loads orchestration configuration from environment
func loadDeploymentConfig() DeploymentConfig {
	return DeploymentConfig{
		AWSRegion:         getEnv("ORGDEPLOY_AWS_REGION", "us-east-1"),
		StackSetName:      getEnv("ORGDEPLOY_STACK_SET_NAME", "orgdeploy-analysis-role"),
		AnalysisRoleName:  getEnv("ORGDEPLOY_ANALYSIS_ROLE_NAME", "OrgAnalysisReadOnlyRole"),
		PollInterval:      getEnvDuration("ORGDEPLOY_POLL_INTERVAL", 10*time.Second),
		StallThreshold:    getEnvInt("ORGDEPLOY_STALL_THRESHOLD", 3),
		DetectionCacheTTL: getEnvDuration("ORGDEPLOY_DETECTION_CACHE_TTL", 5*time.Minute),
		WatchTimeout:      getEnvDuration("ORGDEPLOY_WATCH_TIMEOUT", 15*time.Minute),
	}
}

// loadObservabilityConfig loads observability configuration from environment
func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           observability.ParseLogLevel(getEnv("ORGDEPLOY_LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("ORGDEPLOY_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("ORGDEPLOY_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("ORGDEPLOY_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("ORGDEPLOY_OTEL_SERVICE_NAME", "orgdeploy"),
		OTelServiceVersion: getEnv("ORGDEPLOY_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("ORGDEPLOY_OTEL_INSECURE", true),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Validate server config
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	// Validate database config
	if c.Database.PostgresURL == "" {
		return fmt.Errorf("postgres URL is required")
	}

	// Validate deployment config
	if c.Deployment.StackSetName == "" {
		return fmt.Errorf("stack set name is required")
	}
	if c.Deployment.AnalysisRoleName == "" {
		return fmt.Errorf("analysis role name is required")
	}
	if c.Deployment.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive")
	}
	if c.Deployment.StallThreshold < 1 {
		return fmt.Errorf("stall threshold must be at least 1")
	}

	// Validate OpenTelemetry config
	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
