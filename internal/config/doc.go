// Package config handles configuration loading for the fold-storage subsystem.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable expansion.
// The package provides validation and sensible defaults; callers that only
// need a database path can use Default instead of a file.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	database:
//	  path: "${FOLD_DATA_DIR}/fold.db"
//
// Syntax: ${VAR_NAME}
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	database:
//	  busy_timeout: "5s"
//	cache:
//	  sweep_interval: "1m"
//	  default_ttl: "5m"
//
// Supported units: ns, us, ms, s, m, h
//
// # Configuration Sections
//
// Database settings (the primary file and its engine pragmas):
//
//	database:
//	  path: "/home/user/.local/share/fold/fold.db"
//	  create_if_missing: true
//	  busy_timeout: "5s"
//	  journal_mode: "WAL"
//	  synchronous: "NORMAL"
//	  foreign_keys: true
//
// Plugin storage:
//
//	plugins:
//	  data_dir: "/home/user/.local/share/fold/plugins"
//
// Cache tuning:
//
//	cache:
//	  sweep_interval: "1m"
//	  default_ttl: "5m"
//	  hot_entries: 1024
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text or json
package config
