// Package healthcheck probes the proxy upstream on a fixed interval by
// opening and closing a TCP connection, and records the outcome on the
// upstream so readiness and metrics can follow it.
package healthcheck
