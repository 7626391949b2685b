package relay

import (
	"errors"
	"io"
	"net"
	"sync"
	"time"
)

const bufferSize = 32 * 1024

// Direction identifies one pump.
type Direction string

const (
	ClientToUpstream Direction = "client_to_upstream"
	UpstreamToClient Direction = "upstream_to_client"
)

// Stats describes a finished session.
type Stats struct {
	ClientToUpstream int64
	UpstreamToClient int64
	Duration         time.Duration
	// ClosedBy is the direction whose pump stopped first.
	ClosedBy Direction
	// Err is the first read or write failure other than end-of-stream or the
	// teardown itself. It is informational only; nothing is sent to the peer.
	Err error
}

type result struct {
	direction Direction
	written   int64
	err       error
}

var bufferPool = sync.Pool{
	New: func() any {
		buf := make([]byte, bufferSize)
		return &buf
	},
}

// Run relays client <-> upstream and returns when both pumps have stopped.
// It takes ownership of both connections and closes each one exactly once.
func Run(client, upstream net.Conn) Stats {
	start := time.Now()
	done := make(chan result, 2)

	go pump(ClientToUpstream, upstream, client, done)
	go pump(UpstreamToClient, client, upstream, done)

	first := <-done
	closeErr := closeBoth(client, upstream)
	second := <-done

	stats := Stats{
		Duration: time.Since(start),
		ClosedBy: first.direction,
	}

	for _, r := range []result{first, second} {
		switch r.direction {
		case ClientToUpstream:
			stats.ClientToUpstream = r.written
		case UpstreamToClient:
			stats.UpstreamToClient = r.written
		}
	}

	stats.Err = firstReal(first.err, second.err, closeErr)

	return stats
}

func pump(direction Direction, dst io.Writer, src io.Reader, done chan<- result) {
	bufp := bufferPool.Get().(*[]byte)
	defer bufferPool.Put(bufp)

	n, err := io.CopyBuffer(dst, src, *bufp)
	done <- result{direction: direction, written: n, err: err}
}

func closeBoth(client, upstream net.Conn) error {
	return errors.Join(upstream.Close(), client.Close())
}

func firstReal(errs ...error) error {
	for _, err := range errs {
		if err == nil || errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
			continue
		}
		return err
	}
	return nil
}
