package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder holds the soarkit counters. A nil *Recorder records nothing, so
// components can take one optionally.
type Recorder struct {
	registry *prometheus.Registry

	eventsCreated      *prometheus.CounterVec
	playbooksStarted   *prometheus.CounterVec
	stateExecutions    *prometheus.CounterVec
	stateDuration      *prometheus.HistogramVec
	templatesDegraded  prometheus.Counter
	responseDeliveries *prometheus.CounterVec
	scheduledRuns      *prometheus.CounterVec
}

// New creates a Recorder with its own registry. Go runtime and process
// collectors are registered alongside.
func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		eventsCreated: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "soarkit_events_created_total",
				Help: "Total number of events created.",
			},
			[]string{"event_type", "duplicate"},
		),
		playbooksStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "soarkit_playbook_starts_total",
				Help: "Total number of playbook start attempts.",
			},
			[]string{"status"},
		),
		stateExecutions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "soarkit_state_executions_total",
				Help: "Total number of state invocations by mode and outcome.",
			},
			[]string{"mode", "outcome"},
		),
		stateDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "soarkit_state_duration_seconds",
				Help:    "Duration of state invocations.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"mode"},
		),
		templatesDegraded: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "soarkit_templates_degraded_total",
				Help: "Templates returned unrendered because of a syntax error.",
			},
		),
		responseDeliveries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "soarkit_response_deliveries_total",
				Help: "Human interaction responses delivered, by result code.",
			},
			[]string{"code"},
		),
		scheduledRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "soarkit_scheduled_batch_runs_total",
				Help: "Scheduled event batch runs by status.",
			},
			[]string{"status"},
		),
	}
	r.registry.MustRegister(
		r.eventsCreated,
		r.playbooksStarted,
		r.stateExecutions,
		r.stateDuration,
		r.templatesDegraded,
		r.responseDeliveries,
		r.scheduledRuns,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// Registry exposes the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

func (r *Recorder) EventCreated(eventType string, duplicate bool) {
	if r == nil {
		return
	}
	dup := "false"
	if duplicate {
		dup = "true"
	}
	r.eventsCreated.WithLabelValues(eventType, dup).Inc()
}

func (r *Recorder) PlaybookStarted(ok bool) {
	if r == nil {
		return
	}
	r.playbooksStarted.WithLabelValues(status(ok)).Inc()
}

// StateExecuted records one state invocation. mode is "live" or "testing".
func (r *Recorder) StateExecuted(mode string, err error, elapsed time.Duration) {
	if r == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	r.stateExecutions.WithLabelValues(mode, outcome).Inc()
	r.stateDuration.WithLabelValues(mode).Observe(elapsed.Seconds())
}

func (r *Recorder) TemplateDegraded() {
	if r == nil {
		return
	}
	r.templatesDegraded.Inc()
}

// ResponseDelivered records a human interaction completion. code is "" on success.
func (r *Recorder) ResponseDelivered(code string) {
	if r == nil {
		return
	}
	if code == "" {
		code = "OK"
	}
	r.responseDeliveries.WithLabelValues(code).Inc()
}

func (r *Recorder) ScheduledBatchRun(ok bool) {
	if r == nil {
		return
	}
	r.scheduledRuns.WithLabelValues(status(ok)).Inc()
}

func status(ok bool) string {
	if ok {
		return "success"
	}
	return "failed"
}
