package handler

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"

	"github.com/angeloszaimis/conn-dispatcher/internal/circuitbreaker"
	"github.com/angeloszaimis/conn-dispatcher/internal/metrics"
	"github.com/angeloszaimis/conn-dispatcher/internal/relay"
	"github.com/angeloszaimis/conn-dispatcher/internal/upstream"
)

// Resolver looks up the IPv4 addresses of a host. *net.Resolver satisfies it.
type Resolver interface {
	LookupIP(ctx context.Context, network, host string) ([]net.IP, error)
}

// Dialer opens upstream connections. *net.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Proxy relays each client connection to a fixed upstream.
type Proxy struct {
	upstream  *upstream.Upstream
	resolver  Resolver
	dialer    Dialer
	breaker   *circuitbreaker.CircuitBreaker
	logger    *slog.Logger
	collector *metrics.Collector
}

type ProxyOption func(*Proxy)

func WithResolver(r Resolver) ProxyOption {
	return func(p *Proxy) { p.resolver = r }
}

func WithDialer(d Dialer) ProxyOption {
	return func(p *Proxy) { p.dialer = d }
}

// WithBreaker guards upstream dials with cb.
func WithBreaker(cb *circuitbreaker.CircuitBreaker) ProxyOption {
	return func(p *Proxy) { p.breaker = cb }
}

func WithCollector(c *metrics.Collector) ProxyOption {
	return func(p *Proxy) { p.collector = c }
}

// NewProxyHandler relays to up using the system resolver and a plain dialer
// unless overridden by opts.
func NewProxyHandler(up *upstream.Upstream, logger *slog.Logger, opts ...ProxyOption) *Proxy {
	p := &Proxy{
		upstream: up,
		resolver: net.DefaultResolver,
		dialer:   &net.Dialer{},
		logger:   logger,
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// Handle connects to the upstream and relays until either side closes.
// Resolution and connect failures are answered with 502 Bad Gateway.
// Failures after the relay has started end the session silently.
func (p *Proxy) Handle(conn net.Conn) {
	attrs := connAttrs(conn)

	upstreamConn, err := p.connect(context.Background())
	if err != nil {
		p.logger.Warn("Upstream unavailable",
			append(attrs,
				slog.String("upstream", p.upstream.Address()),
				slog.Any("err", err))...)
		p.badGateway(conn)
		return
	}

	p.logger.Info("Relaying to upstream",
		append(attrs,
			slog.String("upstream", p.upstream.Address()),
			slog.String("upstream_addr", upstreamConn.RemoteAddr().String()))...)

	p.upstream.IncrementSessions()
	stats := relay.Run(conn, upstreamConn)
	p.upstream.DecrementSessions()
	p.upstream.RecordSession(stats.Duration)

	if p.collector != nil {
		p.collector.Emit(metrics.MetricEvent{
			Type:             metrics.EventRelayCompleted,
			ClientToUpstream: stats.ClientToUpstream,
			UpstreamToClient: stats.UpstreamToClient,
			Duration:         stats.Duration,
		})
	}

	p.logger.Debug("Relay finished",
		append(attrs,
			slog.Int64("client_to_upstream", stats.ClientToUpstream),
			slog.Int64("upstream_to_client", stats.UpstreamToClient),
			slog.Duration("duration", stats.Duration),
			slog.String("closed_by", string(stats.ClosedBy)),
			slog.Any("err", stats.Err))...)
}

func (p *Proxy) connect(ctx context.Context) (net.Conn, error) {
	if p.breaker != nil && !p.breaker.Allow() {
		return nil, circuitbreaker.ErrOpen
	}

	conn, err := p.dial(ctx)
	if p.breaker != nil {
		if err != nil {
			p.breaker.RecordFailure()
		} else {
			p.breaker.RecordSuccess()
		}
	}

	return conn, err
}

func (p *Proxy) dial(ctx context.Context) (net.Conn, error) {
	host := p.upstream.Host()

	ips, err := p.resolver.LookupIP(ctx, "ip4", host)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", host, err)
	}
	if len(ips) == 0 {
		return nil, fmt.Errorf("resolve %s: no IPv4 address", host)
	}

	addr := net.JoinHostPort(ips[0].String(), strconv.Itoa(p.upstream.Port()))
	conn, err := p.dialer.DialContext(ctx, "tcp4", addr)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", addr, err)
	}

	return conn, nil
}

// badGateway consumes the request head so the client reads the response
// instead of a reset, then answers 502 and closes conn.
func (p *Proxy) badGateway(conn net.Conn) {
	defer conn.Close()

	_, _ = readRequest(conn)

	if err := writeError(conn, http.StatusBadGateway); err != nil {
		p.logger.Debug("Failed to write error response", append(connAttrs(conn), slog.Any("err", err))...)
	}
	emitResponse(p.collector, http.StatusBadGateway)
}
