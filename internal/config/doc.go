// Package config handles configuration loading for hsadmin.
//
// # Overview
//
// Configuration is loaded from a TOML file with environment variable
// expansion. Every key is optional; a missing file yields Default().
//
// # Configuration File
//
// Location (first match wins):
//
//  1. Path from HSADMIN_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/hsadmin/config.toml
//  3. ~/.config/hsadmin/config.toml
//
// `hsadmin init` writes a commented starter file to that location.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	[registry]
//	passphrase = "${HSADMIN_PASSPHRASE}"
//
// Unset variables expand to the empty string.
//
// # Configuration Sections
//
// Registry:
//
//	[registry]
//	path = "~/.local/share/hsadmin/servers.db"
//	passphrase = "${HSADMIN_PASSPHRASE}"   # optional; seals tokens at rest
//
// Client:
//
//	[client]
//	timeout = "30s"           # time.ParseDuration syntax
//	media_concurrency = 4     # 1-32
//	device_name = "hsadmin"
//
// Grants:
//
//	[grants]
//	allowed_hosts = ["example.org", "*.example.org"]
//	prompt = true
//
// Logging:
//
//	[logging]
//	level = "warn"   # debug, info, warn, error
//	format = "text"  # text, json
//
// # Validation
//
// Load() rejects unknown keys, unparseable durations, out-of-range
// concurrency, malformed host patterns and unknown log levels or formats.
package config
