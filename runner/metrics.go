package runner

import (
	"time"

	"github.com/caffeineduck/wasmudf/udf"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors runners report to. A nil
// *Metrics records nothing.
type Metrics struct {
	calls      *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	rows       *prometheus.CounterVec
	guestCalls *prometheus.CounterVec
	bytes      *prometheus.CounterVec
	active     prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg, if reg is
// not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		calls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wasmudf_runs_total",
				Help: "Total number of UDF runs by outcome",
			},
			[]string{"udf", "strategy", "status"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "wasmudf_run_duration_seconds",
				Help:    "Duration of UDF runs in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"udf", "strategy"},
		),
		rows: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wasmudf_rows_total",
				Help: "Total number of input rows evaluated",
			},
			[]string{"udf"},
		),
		guestCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wasmudf_guest_calls_total",
				Help: "Total number of calls into guest exports",
			},
			[]string{"udf"},
		),
		bytes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wasmudf_ipc_bytes_total",
				Help: "Total bytes of Arrow IPC data moved across the sandbox boundary",
			},
			[]string{"udf", "direction"},
		),
		active: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "wasmudf_active_runs",
				Help: "Number of runs currently executing",
			},
		),
	}

	if reg != nil {
		reg.MustRegister(m.calls, m.duration, m.rows, m.guestCalls, m.bytes, m.active)
	}
	return m
}

func (m *Metrics) start() time.Time {
	if m != nil {
		m.active.Inc()
	}
	return time.Now()
}

func (m *Metrics) finish(spec udf.Spec, start time.Time, rows, guestCalls int, err error) {
	if m == nil {
		return
	}
	m.active.Dec()

	name, strategy := spec.Name(), spec.Strategy()
	m.calls.WithLabelValues(name, strategy, status(err)).Inc()
	m.duration.WithLabelValues(name, strategy).Observe(time.Since(start).Seconds())
	if err == nil {
		m.rows.WithLabelValues(name).Add(float64(rows))
	}
	m.guestCalls.WithLabelValues(name).Add(float64(guestCalls))
}

func (m *Metrics) transferred(spec udf.Spec, direction string, n int) {
	if m == nil {
		return
	}
	m.bytes.WithLabelValues(spec.Name(), direction).Add(float64(n))
}

// status labels a run "ok" or with its error kind.
func status(err error) string {
	if err == nil {
		return "ok"
	}
	if kind := udf.KindOf(err); kind != "" {
		return string(kind)
	}
	return "error"
}
