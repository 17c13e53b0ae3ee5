// Package config provides application configuration management from environment variables.
//
// # Overview
//
// This package loads and validates configuration from environment variables with
// sensible defaults for all settings.
//
// # Configuration Structure
//
// Server settings:
//
//	ORGDEPLOY_HOST="0.0.0.0"
//	ORGDEPLOY_PORT="8080"
//	ORGDEPLOY_HEALTH_PORT="9090"
//	ORGDEPLOY_READ_TIMEOUT="15s"
//	ORGDEPLOY_WRITE_TIMEOUT="15s"
//
// Database settings:
//
//	ORGDEPLOY_POSTGRES_URL="postgres://localhost/orgdeploy"
//	ORGDEPLOY_POSTGRES_MAX_CONNS="20"
//
// Session store settings:
//
//	ORGDEPLOY_REDIS_URL="redis://localhost:6379"
//	ORGDEPLOY_REDIS_PASSWORD=""
//	ORGDEPLOY_REDIS_DB="0"
//
// Deployment settings:
//
//	ORGDEPLOY_AWS_REGION="us-east-1"
//	ORGDEPLOY_STACK_SET_NAME="orgdeploy-analysis-role"
//	ORGDEPLOY_ANALYSIS_ROLE_NAME="OrgAnalysisReadOnlyRole"
//	ORGDEPLOY_POLL_INTERVAL="10s"
//	ORGDEPLOY_STALL_THRESHOLD="3"
//	ORGDEPLOY_DETECTION_CACHE_TTL="5m"
//	ORGDEPLOY_WATCH_TIMEOUT="15m"
//
// Observability settings:
//
//	ORGDEPLOY_LOG_LEVEL="info"  # debug, info, warn, error
//	ORGDEPLOY_METRICS_ENABLED="true"
//	ORGDEPLOY_OTEL_ENABLED="true"
//	ORGDEPLOY_OTEL_ENDPOINT="otel-collector:4317"
//
// # Usage Example
//
// Load configuration:
//
//	cfg, err := config.Load()
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	fmt.Printf("Server: %s:%s\n", cfg.Server.Host, cfg.Server.Port)
//	fmt.Printf("Stack set: %s\n", cfg.Deployment.StackSetName)
//	fmt.Printf("Log level: %s\n", cfg.Observability.LogLevel)
//
// # Related Packages
//
//   - pkg/catalog: Uses database configuration
//   - pkg/selfreg: Uses redis configuration
//   - pkg/observability: Uses observability configuration
package config
