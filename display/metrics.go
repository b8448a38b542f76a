package display

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "posecam"

// Metrics are the Prometheus collectors of one display loop. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	ticks             prometheus.Counter
	inferenceTotal    *prometheus.CounterVec
	inferenceDuration prometheus.Histogram
	renderErrors      prometheus.Counter
	peopleDetected    prometheus.Gauge
	cacheAgeFrames    prometheus.Gauge
}

// NewMetrics creates the collectors and registers them on reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ticks_total",
			Help:      "Total number of frames displayed",
		}),
		inferenceTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "inference_total",
				Help:      "Total number of pose inference calls",
			},
			[]string{"status"}, // status: success, error
		),
		inferenceDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "inference_duration_seconds",
			Help:      "Duration of pose inference calls in seconds",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}),
		renderErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "render_errors_total",
			Help:      "Total number of keypoints skipped because they could not be drawn",
		}),
		peopleDetected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "people_detected",
			Help:      "Number of people in the detections drawn on the last frame",
		}),
		cacheAgeFrames: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cache_age_frames",
			Help:      "Frames since the drawn detections were produced",
		}),
	}
	reg.MustRegister(m.ticks, m.inferenceTotal, m.inferenceDuration, m.renderErrors, m.peopleDetected, m.cacheAgeFrames)
	return m
}

// ObserveInference records one inference call
func (m *Metrics) ObserveInference(d time.Duration, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.inferenceTotal.WithLabelValues(status).Inc()
	m.inferenceDuration.Observe(d.Seconds())
}

// ObserveRenderErrors adds n skipped keypoints
func (m *Metrics) ObserveRenderErrors(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.renderErrors.Add(float64(n))
}

// ObserveTick records a presented frame
func (m *Metrics) ObserveTick(people int, cacheAge int64) {
	if m == nil {
		return
	}
	m.ticks.Inc()
	m.peopleDetected.Set(float64(people))
	m.cacheAgeFrames.Set(float64(cacheAge))
}
