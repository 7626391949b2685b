package strategy

import (
	"fmt"
	"log/slog"
	"net"

	"github.com/angeloszaimis/conn-dispatcher/internal/handler"
	"github.com/angeloszaimis/conn-dispatcher/internal/metrics"
)

const (
	NameSerial  = "serial"
	NameProcess = "process"
	NameThread  = "thread"
	NamePool    = "pool"
)

// Names lists every strategy New understands.
var Names = []string{NameSerial, NameProcess, NameThread, NamePool}

// Strategy takes ownership of an accepted connection.
type Strategy interface {
	Dispatch(conn net.Conn)
	Name() string
}

// Settings selects and sizes a strategy.
type Settings struct {
	Name          string
	Workers       int
	QueueCapacity int
	// ChildArgs are the arguments a process-strategy child is started with.
	ChildArgs []string
}

// New builds the strategy named by s.Name.
func New(s Settings, h handler.Handler, logger *slog.Logger, collector *metrics.Collector) (Strategy, error) {
	switch s.Name {
	case NameSerial:
		return NewSerialStrategy(h, logger, collector), nil
	case NameThread:
		return NewThreadStrategy(h, logger, collector), nil
	case NamePool:
		pool, err := NewPoolStrategy(h, s.Workers, s.QueueCapacity, logger, collector)
		if err != nil {
			return nil, err
		}
		return pool, nil
	case NameProcess:
		proc, err := NewProcessStrategy(s.ChildArgs, logger, collector)
		if err != nil {
			return nil, err
		}
		return proc, nil
	default:
		return nil, fmt.Errorf("unknown strategy %q", s.Name)
	}
}

type base struct {
	name      string
	logger    *slog.Logger
	collector *metrics.Collector
}

func (b *base) Name() string {
	return b.name
}

func (b *base) dispatched() {
	if b.collector == nil {
		return
	}

	b.collector.Emit(metrics.MetricEvent{
		Type:     metrics.EventDispatched,
		Strategy: b.name,
	})
}
