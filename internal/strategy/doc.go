// Package strategy decides where an accepted connection is served:
//
//   - Serial: inline on the accepting goroutine, one connection at a time
//   - Process: in a child process that inherits only the connection
//   - Thread: on a fresh goroutine per connection, unbounded
//   - Pool: on one of N long-lived workers fed by a FIFO work queue
//
// Every strategy hands the connection to handler.Run, which closes it.
// A strategy never closes a connection it has handed off.
package strategy
