package metrics_prom

import (
	"github.com/davarch/rollout/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
)

// Recorder turns finished runs into Prometheus series. The CLI is short
// lived, so series are flushed to a node_exporter textfile rather than
// served.
type Recorder struct {
	reg *prometheus.Registry

	runs       *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	probe      *prometheus.HistogramVec
	lastGood   *prometheus.GaugeVec
	rolledBack *prometheus.CounterVec
}

func New() *Recorder {
	r := &Recorder{
		reg: prometheus.NewRegistry(),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rollout_runs_total",
			Help: "Pipeline runs by terminal state.",
		}, []string{"job", "env", "state"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "rollout_run_duration_seconds",
			Help:    "Wall time of pipeline runs.",
			Buckets: []float64{10, 30, 60, 120, 300, 600, 1800},
		}, []string{"job", "env"}),
		probe: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "rollout_health_probe_seconds",
			Help:    "Accumulated wait until a health probe finished.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 9),
		}, []string{"job", "env", "outcome"}),
		lastGood: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "rollout_last_success_build",
			Help: "Build number of the last successful deployment.",
		}, []string{"job", "env"}),
		rolledBack: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rollout_rollbacks_total",
			Help: "Rollback attempts by result.",
		}, []string{"job", "env", "result"}),
	}
	r.reg.MustRegister(r.runs, r.duration, r.probe, r.lastGood, r.rolledBack)
	return r
}

func (r *Recorder) Observe(rep domain.RunReport) {
	env := rep.Profile.Environment
	r.runs.WithLabelValues(rep.Job, env, string(rep.State)).Inc()

	if rep.State == domain.StateRefused {
		return
	}
	r.duration.WithLabelValues(rep.Job, env).Observe(rep.Finished.Sub(rep.Started).Seconds())

	if rep.Health != nil {
		r.probe.WithLabelValues(rep.Job, env, string(rep.Health.Outcome)).Observe(rep.Health.Elapsed.Seconds())
	}

	switch rep.State {
	case domain.StateSucceeded:
		r.lastGood.WithLabelValues(rep.Job, env).Set(float64(rep.Record.BuildNumber))
	case domain.StateRolledBack:
		r.rolledBack.WithLabelValues(rep.Job, env, "ok").Inc()
	case domain.StateRollbackFailed:
		r.rolledBack.WithLabelValues(rep.Job, env, "failed").Inc()
	}
}

func (r *Recorder) Gatherer() prometheus.Gatherer { return r.reg }

// WriteTextfile atomically replaces path with the current series.
func (r *Recorder) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, r.reg)
}
