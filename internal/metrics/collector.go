package metrics

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "httpserver"

type EventType string

const (
	EventConnectionAccepted    EventType = "connection_accepted"
	EventConnectionClosed      EventType = "connection_closed"
	EventAcceptError           EventType = "accept_error"
	EventDispatched            EventType = "dispatched"
	EventResponseSent          EventType = "response_sent"
	EventRelayCompleted        EventType = "relay_completed"
	EventUpstreamHealthChanged EventType = "upstream_health_changed"
	EventBreakerStateChanged   EventType = "breaker_state_changed"
)

type MetricEvent struct {
	Type             EventType
	Timestamp        time.Time
	Strategy         string
	StatusCode       int
	ClientToUpstream int64
	UpstreamToClient int64
	Duration         time.Duration
	Healthy          bool
	BreakerState     int
}

type Collector struct {
	eventCh  chan MetricEvent
	registry *prometheus.Registry
	logger   *slog.Logger

	accepted      prometheus.Counter
	closed        prometheus.Counter
	acceptErrors  prometheus.Counter
	dropped       prometheus.Counter
	dispatched    *prometheus.CounterVec
	responses     *prometheus.CounterVec
	relayBytes    *prometheus.CounterVec
	relayDuration prometheus.Histogram
	upstreamUp    prometheus.Gauge
	breakerState  prometheus.Gauge
}

// NewCollector creates a collector with an event buffer of bufferSize. If
// registry is nil a fresh one is created.
func NewCollector(bufferSize int, logger *slog.Logger, registry *prometheus.Registry) *Collector {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	c := &Collector{
		eventCh:  make(chan MetricEvent, bufferSize),
		registry: registry,
		logger:   logger,

		accepted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_accepted_total",
			Help:      "Connections accepted by the listener.",
		}),
		closed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_closed_total",
			Help:      "Accepted connections that have been closed.",
		}),
		acceptErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "accept_errors_total",
			Help:      "Transient errors returned by accept.",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "metric_events_dropped_total",
			Help:      "Metric events discarded because the collector buffer was full.",
		}),
		dispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatched_total",
			Help:      "Connections handed to a concurrency strategy.",
		}, []string{"strategy"}),
		responses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "responses_total",
			Help:      "Responses written by the handlers, by status code.",
		}, []string{"code"}),
		relayBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "bytes_total",
			Help:      "Bytes forwarded by proxy relay sessions.",
		}, []string{"direction"}),
		relayDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "session_duration_seconds",
			Help:      "Lifetime of proxy relay sessions.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10), // 1ms to ~4.4m
		}),
		upstreamUp: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "up",
			Help:      "1 if the last upstream probe succeeded.",
		}),
		breakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "breaker_state",
			Help:      "Circuit breaker state: 0 closed, 1 open, 2 half-open.",
		}),
	}

	registry.MustRegister(
		c.accepted,
		c.closed,
		c.acceptErrors,
		c.dropped,
		c.dispatched,
		c.responses,
		c.relayBytes,
		c.relayDuration,
		c.upstreamUp,
		c.breakerState,
	)

	return c
}

// Emit queues event without blocking.
func (c *Collector) Emit(event MetricEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case c.eventCh <- event:
	default:
		c.dropped.Inc()
	}
}

// RegisterGaugeFunc exposes a gauge whose value is read from fn at scrape time.
func (c *Collector) RegisterGaugeFunc(name, help string, fn func() float64) error {
	return c.registry.Register(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	}, fn))
}

// Registry returns the registry all metrics are registered on.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		ErrorHandling: promhttp.ContinueOnError,
	})
}

func (c *Collector) Start(ctx context.Context) {
	go c.run(ctx)
}

func (c *Collector) run(ctx context.Context) {
	c.logger.Info("Metrics collector started")
	defer c.logger.Info("Metrics collector stopped")

	for {
		select {
		case event := <-c.eventCh:
			c.processEvent(event)
		case <-ctx.Done():
			// Drain remaining events before shutdown
			c.drain()
			return
		}
	}
}

func (c *Collector) processEvent(event MetricEvent) {
	switch event.Type {
	case EventConnectionAccepted:
		c.accepted.Inc()

	case EventConnectionClosed:
		c.closed.Inc()

	case EventAcceptError:
		c.acceptErrors.Inc()

	case EventDispatched:
		c.dispatched.WithLabelValues(event.Strategy).Inc()

	case EventResponseSent:
		c.responses.WithLabelValues(strconv.Itoa(event.StatusCode)).Inc()

	case EventRelayCompleted:
		c.relayBytes.WithLabelValues("client_to_upstream").Add(float64(event.ClientToUpstream))
		c.relayBytes.WithLabelValues("upstream_to_client").Add(float64(event.UpstreamToClient))
		c.relayDuration.Observe(event.Duration.Seconds())

	case EventUpstreamHealthChanged:
		if event.Healthy {
			c.upstreamUp.Set(1)
		} else {
			c.upstreamUp.Set(0)
		}

	case EventBreakerStateChanged:
		c.breakerState.Set(float64(event.BreakerState))

	default:
		c.logger.Debug("Unknown metric event", slog.String("type", string(event.Type)))
	}
}

func (c *Collector) drain() {
	for {
		select {
		case event := <-c.eventCh:
			c.processEvent(event)
		default:
			return
		}
	}
}
