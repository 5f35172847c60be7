package jobs

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for the jobs subsystem.
type Metrics struct {
	RunsTotal        *prometheus.CounterVec
	RunDuration      *prometheus.HistogramVec
	SubmitsTotal     *prometheus.CounterVec
	AlertsTotal      *prometheus.CounterVec
	TargetsTotal     *prometheus.CounterVec
	CacheWritesTotal *prometheus.CounterVec
	NotifyErrors     prometheus.Counter
}

// NewMetrics registers and returns job metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sdtom_job_runs_total",
			Help: "Total job runs by job and final status.",
		}, []string{"job", "status"}),
		RunDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sdtom_job_run_duration_seconds",
			Help:    "Duration of job runs in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12), // 0.5s .. ~17min
		}, []string{"job", "status"}),
		SubmitsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sdtom_job_submits_total",
			Help: "Total job run requests by result.",
		}, []string{"job", "result"}),
		AlertsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sdtom_alerts_processed_total",
			Help: "Broker alerts ingested by query.",
		}, []string{"query"}),
		TargetsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sdtom_targets_total",
			Help: "Targets touched by ingestion, by action.",
		}, []string{"action"}),
		CacheWritesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sdtom_cache_writes_total",
			Help: "Latest magnitude cache writes by outcome.",
		}, []string{"outcome"}),
		NotifyErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sdtom_notify_errors_total",
			Help: "Failed new target notifications.",
		}),
	}

	reg.MustRegister(
		m.RunsTotal,
		m.RunDuration,
		m.SubmitsTotal,
		m.AlertsTotal,
		m.TargetsTotal,
		m.CacheWritesTotal,
		m.NotifyErrors,
	)

	return m
}

// Hooks returns service hooks that update the corresponding metrics.
func (m *Metrics) Hooks() Hooks {
	return Hooks{
		OnAlert: func(query string) {
			m.AlertsTotal.WithLabelValues(query).Inc()
		},
		OnTarget: func(created bool) {
			action := "updated"
			if created {
				action = "created"
			}
			m.TargetsTotal.WithLabelValues(action).Inc()
		},
		OnCacheWrite: func(ok bool) {
			outcome := "ok"
			if !ok {
				outcome = "error"
			}
			m.CacheWritesTotal.WithLabelValues(outcome).Inc()
		},
		OnNotifyErr: m.NotifyErrors.Inc,
	}
}

// RunnerHooks returns runner hooks that update the corresponding metrics.
func (m *Metrics) RunnerHooks() RunnerHooks {
	return RunnerHooks{
		OnSubmit: func(job, result string) {
			m.SubmitsTotal.WithLabelValues(job, result).Inc()
		},
		OnComplete: func(job string, status Status, duration float64) {
			m.RunsTotal.WithLabelValues(job, string(status)).Inc()
			m.RunDuration.WithLabelValues(job, string(status)).Observe(duration)
		},
	}
}
