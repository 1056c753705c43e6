// Package callmetrics counts gRPC client calls and their latency from the
// transport's eventbus events, and writes them in Prometheus text format.
package callmetrics

import (
	"context"
	"fmt"
	"io"

	"github.com/VictoriaMetrics/metrics"

	"github.com/bharat-rajani/grpc-products/internal/eventbus"
	"github.com/bharat-rajani/grpc-products/internal/events"
)

// Metric names.
const (
	CallsTotal     = "products_client_calls_total"
	CallDuration   = "products_client_call_duration_seconds"
	StreamsTotal   = "products_client_streams_total"
	StreamDuration = "products_client_stream_duration_seconds"
	InflightCalls  = "products_client_inflight_calls"
)

// Recorder keeps call metrics in its own metrics.Set, so several recorders
// never share series.
type Recorder struct {
	set      *metrics.Set
	inflight *metrics.Counter
}

func New() *Recorder {
	set := metrics.NewSet()
	return &Recorder{set: set, inflight: set.NewCounter(InflightCalls)}
}

// Register subscribes r to the global eventbus.
func (r *Recorder) Register() (unsubscribe func()) {
	start := eventbus.Subscribe(func(_ context.Context, e events.GRPCClientStart) { r.Start(e) })
	finish := eventbus.Subscribe(func(_ context.Context, e events.GRPCClientFinish) { r.Finish(e) })
	return func() {
		start()
		finish()
	}
}

// Start records a call being issued.
func (r *Recorder) Start(events.GRPCClientStart) { r.inflight.Inc() }

// Finish records the outcome and duration of a call.
func (r *Recorder) Finish(e events.GRPCClientFinish) {
	r.inflight.Dec()
	total, duration := CallsTotal, CallDuration
	if e.Streaming {
		total, duration = StreamsTotal, StreamDuration
	}
	r.set.GetOrCreateCounter(fmt.Sprintf(`%s{method=%q,code=%q}`, total, e.Method, e.Code.String())).Inc()
	r.set.GetOrCreateHistogram(fmt.Sprintf(`%s{method=%q}`, duration, e.Method)).Update(e.Duration.Seconds())
}

// WritePrometheus writes every recorded series to w.
func (r *Recorder) WritePrometheus(w io.Writer) { r.set.WritePrometheus(w) }
