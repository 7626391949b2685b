// Package metrics provides metrics collection for the connection dispatcher.
//
// It uses a channel-based event pipeline to asynchronously collect:
//   - Connections accepted and closed, and accept errors
//   - Dispatches per concurrency strategy
//   - HTTP status codes sent by the handlers
//   - Relay bytes per direction and relay session duration
//   - Upstream health and circuit breaker state
//
// Events are folded into Prometheus collectors registered on a private
// registry, exposed by Handler in the Prometheus text format. Emit never
// blocks the connection path: when the buffer is full the event is counted
// as dropped and discarded.
//
// Example usage:
//
//	collector := metrics.NewCollector(1000, logger, nil)
//	collector.Start(ctx)
//
//	collector.Emit(metrics.MetricEvent{
//		Type:       metrics.EventResponseSent,
//		StatusCode: 404,
//	})
//
//	mux.Handle("/metrics", collector.Handler())
//
// Gauges whose value lives elsewhere (queue depth, live child processes) are
// registered with RegisterGaugeFunc and read at scrape time.
package metrics
