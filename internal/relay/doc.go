// Package relay pumps bytes between a client connection and an upstream
// connection until either side stops.
//
// Two pumps run concurrently, one per direction. Each pump reports on a shared
// completion channel when its read side hits end-of-stream or an error. The
// coordinator closes both connections as soon as the first report arrives,
// which makes the other pump's blocking read fail, then waits for the second
// report. No pump outlives Run and each connection is closed exactly once.
package relay
