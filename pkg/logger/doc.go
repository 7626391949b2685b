// Package logger builds the process-wide slog.Logger: human-readable text
// outside production, JSON in production, tagged with the environment.
package logger
