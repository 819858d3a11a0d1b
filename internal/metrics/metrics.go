package metrics

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"sitewatch/internal/alert"
	"sitewatch/internal/pipeline"
	"sitewatch/internal/session"
)

// Metrics collects session and dispatcher measurements on a private registry
type Metrics struct {
	// Last verdict, exposed through gauge funcs
	Counter    atomic.Int64
	Alerting   atomic.Uint64 // 0 = no, 1 = yes
	Persons    atomic.Uint64
	Unequipped atomic.Uint64 // 0 = no, 1 = yes

	framesProcessed prometheus.Counter
	framesSkipped   prometheus.Counter
	alertFrames     prometheus.Counter
	routineScans    prometheus.Counter
	detectorErrors  *prometheus.CounterVec
	inference       prometheus.Histogram

	alertsDispatched *prometheus.CounterVec
	alertsSuppressed *prometheus.CounterVec
	deliveries       *prometheus.CounterVec
	deliveryLatency  *prometheus.HistogramVec

	registry *prometheus.Registry
}

// New creates a Metrics instance with all collectors registered
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		framesProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sitewatch_frames_processed_total",
			Help: "Frames run through detection and the decision engine",
		}),
		framesSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sitewatch_frames_skipped_total",
			Help: "Ticks with no new frame available",
		}),
		alertFrames: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sitewatch_alert_frames_total",
			Help: "Frames whose verdict requested a violation alert",
		}),
		routineScans: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sitewatch_routine_scans_total",
			Help: "Routine hazard scans requested",
		}),
		detectorErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sitewatch_detector_errors_total",
			Help: "Detector failures, treated as empty frames",
		}, []string{"role"}),
		inference: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "sitewatch_inference_seconds",
			Help:    "Detector latency per frame",
			Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5},
		}),

		alertsDispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sitewatch_alerts_dispatched_total",
			Help: "Alerts handed to a channel",
		}, []string{"channel", "kind"}),
		alertsSuppressed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sitewatch_alerts_suppressed_total",
			Help: "Alerts skipped by a busy channel or its throttle",
		}, []string{"channel", "reason"}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sitewatch_alert_deliveries_total",
			Help: "Completed channel deliveries by result",
		}, []string{"channel", "result"}),
		deliveryLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sitewatch_alert_delivery_seconds",
			Help:    "Channel delivery duration",
			Buckets: prometheus.DefBuckets,
		}, []string{"channel"}),
	}

	m.registry.MustRegister(
		m.framesProcessed,
		m.framesSkipped,
		m.alertFrames,
		m.routineScans,
		m.detectorErrors,
		m.inference,
		m.alertsDispatched,
		m.alertsSuppressed,
		m.deliveries,
		m.deliveryLatency,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "sitewatch_violation_counter",
			Help: "Violation counter after the last processed frame",
		},
		func() float64 { return float64(m.Counter.Load()) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "sitewatch_alerting",
			Help: "Last verdict requested an alert (0=no, 1=yes)",
		},
		func() float64 { return float64(m.Alerting.Load()) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "sitewatch_persons",
			Help: "Persons in the last processed frame",
		},
		func() float64 { return float64(m.Persons.Load()) },
	))

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "sitewatch_unequipped",
			Help: "Last frame had a person without protective equipment (0=no, 1=yes)",
		},
		func() float64 { return float64(m.Unequipped.Load()) },
	))

	return m
}

// FrameProcessed implements session.Observer
func (m *Metrics) FrameProcessed(event *pipeline.VerdictEvent, inference time.Duration) {
	m.framesProcessed.Inc()
	m.inference.Observe(inference.Seconds())
	if event.Alert {
		m.alertFrames.Inc()
	}
	if event.Routine {
		m.routineScans.Inc()
	}

	m.Counter.Store(int64(event.Counter))
	m.Alerting.Store(boolGauge(event.Alert))
	m.Persons.Store(uint64(event.PersonCount))
	m.Unequipped.Store(boolGauge(event.Unequipped))
}

// FrameSkipped implements session.Observer
func (m *Metrics) FrameSkipped() {
	m.framesSkipped.Inc()
}

// DetectorFailed implements session.Observer
func (m *Metrics) DetectorFailed(role string) {
	m.detectorErrors.WithLabelValues(role).Inc()
}

// AlertDispatched implements alert.Observer
func (m *Metrics) AlertDispatched(channel string, kind alert.Kind) {
	m.alertsDispatched.WithLabelValues(channel, kind.String()).Inc()
}

// AlertSuppressed implements alert.Observer
func (m *Metrics) AlertSuppressed(channel string, reason string) {
	m.alertsSuppressed.WithLabelValues(channel, reason).Inc()
}

// ChannelCompleted implements alert.Observer
func (m *Metrics) ChannelCompleted(channel string, elapsed time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.deliveries.WithLabelValues(channel, result).Inc()
	m.deliveryLatency.WithLabelValues(channel).Observe(elapsed.Seconds())
}

// Handler returns the Prometheus HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func boolGauge(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

// Ensure Metrics implements both observers
var (
	_ alert.Observer   = (*Metrics)(nil)
	_ session.Observer = (*Metrics)(nil)
)
