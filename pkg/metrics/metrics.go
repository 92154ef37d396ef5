// Package metrics exposes driver instrumentation through Prometheus.
//
// The driver takes a Recorder; NewNop gives embedders that run without a
// metrics endpoint a zero-cost implementation, so the driver code never
// branches on whether metrics are enabled.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder receives driver events.
type Recorder interface {
	// ObserveOp records one protocol operation with its outcome label
	// and duration.
	ObserveOp(op, status string, seconds float64)

	// MountInc / MountDec track mounted volumes.
	MountInc()
	MountDec()

	// HandleInc / HandleDec track open file handles.
	HandleInc()
	HandleDec()
}

// PromRecorder implements Recorder on a Prometheus registry.
type PromRecorder struct {
	ops     *prometheus.HistogramVec
	mounts  prometheus.Gauge
	handles prometheus.Gauge
}

// NewProm registers the driver collectors with reg and returns the
// recorder.
func NewProm(reg prometheus.Registerer) *PromRecorder {
	factory := promauto.With(reg)
	return &PromRecorder{
		ops: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "ntfsbridge",
			Name:      "operation_duration_seconds",
			Help:      "Protocol operation latency by operation and status.",
			Buckets:   prometheus.ExponentialBuckets(0.00001, 4, 10),
		}, []string{"op", "status"}),
		mounts: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "ntfsbridge",
			Name:      "mounted_volumes",
			Help:      "Currently mounted volumes.",
		}),
		handles: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "ntfsbridge",
			Name:      "open_handles",
			Help:      "Currently open file handles.",
		}),
	}
}

func (r *PromRecorder) ObserveOp(op, status string, seconds float64) {
	r.ops.WithLabelValues(op, status).Observe(seconds)
}

func (r *PromRecorder) MountInc()  { r.mounts.Inc() }
func (r *PromRecorder) MountDec()  { r.mounts.Dec() }
func (r *PromRecorder) HandleInc() { r.handles.Inc() }
func (r *PromRecorder) HandleDec() { r.handles.Dec() }

type nopRecorder struct{}

// NewNop returns a Recorder that drops everything.
func NewNop() Recorder { return nopRecorder{} }

func (nopRecorder) ObserveOp(string, string, float64) {}
func (nopRecorder) MountInc()                         {}
func (nopRecorder) MountDec()                         {}
func (nopRecorder) HandleInc()                        {}
func (nopRecorder) HandleDec()                        {}
