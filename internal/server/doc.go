// Package server owns the listening socket and the accept loop. Each
// accepted connection is wrapped so that it closes exactly once and is
// then handed to the configured strategy. The loop ends when the listener
// is closed.
package server
