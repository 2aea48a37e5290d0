// Package metrics exposes Prometheus counters for the session lifecycle.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "storefront_session"

// Refresh outcomes.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

// Recorder counts session lifecycle events.
type Recorder struct {
	refreshes     *prometheus.CounterVec
	queued        prometheus.Counter
	retries       prometheus.Counter
	sessionsEnded *prometheus.CounterVec
}

// NewRecorder creates a Recorder and registers its collectors with reg.
func NewRecorder(reg prometheus.Registerer) (*Recorder, error) {
	r := &Recorder{
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refresh_total",
			Help:      "Token refresh calls by result.",
		}, []string{"result"}),
		queued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queued_requests_total",
			Help:      "Requests that waited for an in-flight refresh.",
		}),
		retries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retried_requests_total",
			Help:      "Requests re-issued after a refresh.",
		}),
		sessionsEnded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_ended_total",
			Help:      "Ended sessions by reason.",
		}, []string{"reason"}),
	}

	for _, c := range []prometheus.Collector{r.refreshes, r.queued, r.retries, r.sessionsEnded} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}

	return r, nil
}

// RefreshCompleted counts a finished refresh call.
func (r *Recorder) RefreshCompleted(err error) {
	result := ResultSuccess
	if err != nil {
		result = ResultFailure
	}
	r.refreshes.WithLabelValues(result).Inc()
}

// RequestQueued counts a request that joined an in-flight refresh.
func (r *Recorder) RequestQueued() {
	r.queued.Inc()
}

// RequestRetried counts a request re-issued with a fresh credential.
func (r *Recorder) RequestRetried() {
	r.retries.Inc()
}

// SessionEnded counts an ended session.
func (r *Recorder) SessionEnded(reason string) {
	r.sessionsEnded.WithLabelValues(reason).Inc()
}
