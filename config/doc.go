// Package config loads the server configuration from defaults, an optional
// YAML file, HTTPSERVER_* environment variables and command-line flags, in
// increasing order of precedence, and validates the result. The loaded
// Config is treated as immutable.
package config
