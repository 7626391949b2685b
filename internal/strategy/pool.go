package strategy

import (
	"errors"
	"log/slog"
	"net"
	"sync"

	"github.com/angeloszaimis/conn-dispatcher/internal/handler"
	"github.com/angeloszaimis/conn-dispatcher/internal/metrics"
	"github.com/angeloszaimis/conn-dispatcher/internal/workqueue"
)

// ErrNoWorkers is returned when a pool is asked for fewer than one worker.
var ErrNoWorkers = errors.New("pool needs at least one worker")

// Pool serves connections on a fixed set of workers. Dispatch only
// enqueues; workers dequeue in arrival order.
type Pool struct {
	base
	queue   *workqueue.Queue[net.Conn]
	workers int
	wg      sync.WaitGroup
}

// NewPoolStrategy starts workers goroutines immediately. queueCapacity
// bounds the backlog of waiting connections; 0 leaves it unbounded.
func NewPoolStrategy(
	h handler.Handler,
	workers int,
	queueCapacity int,
	logger *slog.Logger,
	collector *metrics.Collector,
) (*Pool, error) {
	if workers < 1 {
		return nil, ErrNoWorkers
	}

	p := &Pool{
		base:    base{name: NamePool, logger: logger, collector: collector},
		queue:   workqueue.New[net.Conn](queueCapacity),
		workers: workers,
	}

	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go func(id int) {
			defer p.wg.Done()
			for {
				conn, err := p.queue.Pop()
				if err != nil {
					logger.Debug("Worker stopping", slog.Int("worker", id))
					return
				}
				handler.Run(logger, h, conn)
			}
		}(i)
	}

	logger.Info("Worker pool started",
		slog.Int("workers", workers),
		slog.Int("queue_capacity", queueCapacity))

	return p, nil
}

// Dispatch enqueues conn. With a bounded queue it blocks while the queue
// is full. After Close the connection is closed unserved.
func (p *Pool) Dispatch(conn net.Conn) {
	p.dispatched()

	if err := p.queue.Push(conn); err != nil {
		p.logger.Warn("Dropping connection, pool is closed",
			slog.String("remote", conn.RemoteAddr().String()))
		_ = conn.Close()
	}
}

func (p *Pool) Workers() int {
	return p.workers
}

// QueueDepth reports how many connections are waiting for a worker.
func (p *Pool) QueueDepth() int {
	return p.queue.Len()
}

// Stop closes the queue without waiting. A Dispatch blocked on a full
// queue returns and closes its connection.
func (p *Pool) Stop() {
	p.queue.Close()
}

// Close stops accepting work, lets the workers finish everything already
// queued and waits for them to exit.
func (p *Pool) Close() error {
	p.Stop()
	p.wg.Wait()
	return nil
}
