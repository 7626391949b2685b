// Package connection wraps accepted client connections so that ownership can
// be handed from the accept loop to a strategy and then to a handler without
// any layer having to know whether another one already closed it.
//
// A wrapped connection carries a uuid used to correlate log lines, closes the
// underlying socket at most once, and can export a duplicate file descriptor
// for handing the socket to a child process.
package connection
