package strategy

import (
	"log/slog"
	"net"

	"github.com/angeloszaimis/conn-dispatcher/internal/handler"
	"github.com/angeloszaimis/conn-dispatcher/internal/metrics"
)

type serialStrategy struct {
	base
	handler handler.Handler
}

// NewSerialStrategy serves each connection to completion before Dispatch
// returns, so the accept loop handles one client at a time.
func NewSerialStrategy(h handler.Handler, logger *slog.Logger, collector *metrics.Collector) Strategy {
	return &serialStrategy{
		base:    base{name: NameSerial, logger: logger, collector: collector},
		handler: h,
	}
}

func (s *serialStrategy) Dispatch(conn net.Conn) {
	s.dispatched()
	handler.Run(s.logger, s.handler, conn)
}
