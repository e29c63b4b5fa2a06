// Package config handles configuration loading for pufferblow clients.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable
// expansion. The package provides validation and duration parsing.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	auth:
//	  auth_token: "${PUFFERBLOW_TOKEN}"
//
// Syntax: ${VAR_NAME}
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	reconnect:
//	  base_delay: "1s"
//	  max_delay: "30s"
//	federation:
//	  actor_cache_ttl: "10m"
//
// # Configuration Sections
//
// Server endpoints:
//
//	server:
//	  base_url: "http://localhost:7575"
//	  ws_url: "ws://localhost:7575/ws"   # derived from base_url if omitted
//
// Authentication (token, or username and password for sign-in):
//
//	auth:
//	  username: "alice"
//	  password: "${PUFFERBLOW_PASSWORD}"
//
// Reconnection:
//
//	reconnect:
//	  base_delay: "1s"
//	  max_delay: "30s"
//	  max_retries: 5
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
package config
