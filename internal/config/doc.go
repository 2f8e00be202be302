// Package config handles configuration loading for courierd.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable expansion.
// The package provides validation and sensible defaults.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	auth:
//	  jwt_secret: "${COURIER_JWT_SECRET}"
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	messaging:
//	  retry_backoff: "50ms"
//	  profile_ttl: "15m"
//
// # Configuration Sections
//
// Server settings:
//
//	server:
//	  http_addr: "0.0.0.0:8080"
//
// Database:
//
//	database:
//	  path: "/var/lib/courier/courier.db"
//
// Authentication:
//
//	auth:
//	  jwt_secret: "${COURIER_JWT_SECRET}"
//
// Messaging:
//
//	messaging:
//	  max_message_length: 4000
//	  history_limit: 200
//	  retry_attempts: 3
//	  retry_backoff: "50ms"
//	  profile_ttl: "15m"
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
package config
