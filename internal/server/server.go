package server

import (
	"errors"
	"log/slog"
	"net"
	"sync/atomic"
	"time"

	"github.com/angeloszaimis/conn-dispatcher/internal/connection"
	"github.com/angeloszaimis/conn-dispatcher/internal/metrics"
	"github.com/angeloszaimis/conn-dispatcher/internal/strategy"
)

const maxAcceptDelay = time.Second

type Server struct {
	listener  net.Listener
	strategy  strategy.Strategy
	logger    *slog.Logger
	collector *metrics.Collector
	closing   atomic.Bool
}

// New serves connections from listener with strat. collector may be nil.
func New(listener net.Listener, strat strategy.Strategy, logger *slog.Logger, collector *metrics.Collector) *Server {
	return &Server{
		listener:  listener,
		strategy:  strat,
		logger:    logger,
		collector: collector,
	}
}

// Serve accepts until the listener is closed and then returns nil.
// Accept failures are logged and retried with a growing delay.
func (s *Server) Serve() error {
	s.logger.Info("Accepting connections",
		slog.String("addr", s.listener.Addr().String()),
		slog.String("strategy", s.strategy.Name()))

	var delay time.Duration
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.closing.Load() || errors.Is(err, net.ErrClosed) {
				s.logger.Info("Listener closed, accept loop done")
				return nil
			}

			s.emit(metrics.EventAcceptError)

			if delay == 0 {
				delay = 5 * time.Millisecond
			} else {
				delay *= 2
			}
			if delay > maxAcceptDelay {
				delay = maxAcceptDelay
			}

			s.logger.Warn("Accept failed, retrying",
				slog.Any("err", err),
				slog.Duration("delay", delay))
			time.Sleep(delay)
			continue
		}
		delay = 0

		s.emit(metrics.EventConnectionAccepted)
		s.strategy.Dispatch(connection.Wrap(conn, s.connClosed))
	}
}

func (s *Server) connClosed(*connection.Conn) {
	s.emit(metrics.EventConnectionClosed)
}

func (s *Server) emit(t metrics.EventType) {
	if s.collector == nil {
		return
	}
	s.collector.Emit(metrics.MetricEvent{Type: t})
}

// Close closes the listener. Serve returns once the dispatch in progress,
// if any, comes back. Connections already dispatched are not interrupted.
func (s *Server) Close() error {
	if !s.closing.CompareAndSwap(false, true) {
		return nil
	}
	return s.listener.Close()
}

func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}
