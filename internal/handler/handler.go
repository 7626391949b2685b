package handler

import (
	"log/slog"
	"net"
	"runtime/debug"

	"github.com/angeloszaimis/conn-dispatcher/internal/metrics"
)

// Handler serves exactly one connection and closes it before returning.
type Handler interface {
	Handle(conn net.Conn)
}

// Func adapts an ordinary function to Handler.
type Func func(conn net.Conn)

func (f Func) Handle(conn net.Conn) {
	f(conn)
}

// Run invokes h on conn, recovering from a panic in h. conn is closed on
// return, so it must tolerate a second Close (the dispatcher wraps every
// accepted connection in a connection.Conn for that reason).
func Run(logger *slog.Logger, h Handler, conn net.Conn) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Handler panicked",
				append(connAttrs(conn),
					slog.Any("panic", r),
					slog.String("stack", string(debug.Stack())))...)
		}
		_ = conn.Close()
	}()

	h.Handle(conn)
}

func connAttrs(conn net.Conn) []any {
	attrs := make([]any, 0, 2)
	if c, ok := conn.(interface{ ID() string }); ok {
		attrs = append(attrs, slog.String("conn_id", c.ID()))
	}
	if addr := conn.RemoteAddr(); addr != nil {
		attrs = append(attrs, slog.String("remote", addr.String()))
	}
	return attrs
}

func emitResponse(collector *metrics.Collector, status int) {
	if collector == nil {
		return
	}

	collector.Emit(metrics.MetricEvent{
		Type:       metrics.EventResponseSent,
		StatusCode: status,
	})
}
