package strategy

import (
	"log/slog"
	"net"

	"github.com/angeloszaimis/conn-dispatcher/internal/handler"
	"github.com/angeloszaimis/conn-dispatcher/internal/metrics"
)

type threadStrategy struct {
	base
	handler handler.Handler
}

// NewThreadStrategy serves every connection on its own goroutine. The
// goroutine is never joined and there is no upper bound on how many run.
func NewThreadStrategy(h handler.Handler, logger *slog.Logger, collector *metrics.Collector) Strategy {
	return &threadStrategy{
		base:    base{name: NameThread, logger: logger, collector: collector},
		handler: h,
	}
}

func (t *threadStrategy) Dispatch(conn net.Conn) {
	t.dispatched()
	go handler.Run(t.logger, t.handler, conn)
}
