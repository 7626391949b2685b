// Package handler implements the per-connection request handlers.
//
// A Handler owns the connection it is given: it reads one HTTP request,
// writes one response and closes the connection before returning. Two
// implementations exist:
//
//   - Files serves regular files and directory listings below a root directory.
//   - Proxy opens a connection to a fixed upstream and relays bytes in both
//     directions until either side hangs up.
//
// Run wraps a handler invocation so that a panic is contained to the
// connection that caused it and the connection is closed on every path.
package handler
