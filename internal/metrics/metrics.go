package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry owns the service's collectors. Each instance has its own
// prometheus.Registry so tests can build as many as they like.
type Registry struct {
	reg *prometheus.Registry

	Merges          *prometheus.CounterVec // result: created|appended|nothing_to_add|error
	MergeLatencySec prometheus.Histogram
	ItemRemovals    *prometheus.CounterVec // result: removed|not_permitted|not_found|error
	StatusChanges   *prometheus.CounterVec // to
	Confirmations   *prometheus.CounterVec // result: submitted|not_ready|error
	Polls           *prometheus.CounterVec // result: ok|error|skipped
	PollLatencySec  prometheus.Histogram
	ActiveSurfaces  prometheus.Gauge
	EventsPublished *prometheus.CounterVec // sink, result
}

func NewRegistry() *Registry {
	r := prometheus.NewRegistry()

	merges := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "tableorder_merges_total"}, []string{"result"})
	mergeLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "tableorder_merge_latency_seconds",
		Buckets: prometheus.DefBuckets,
	})
	removals := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "tableorder_item_removals_total"}, []string{"result"})
	statusChanges := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "tableorder_status_changes_total"}, []string{"to"})
	confirmations := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "tableorder_group_confirmations_total"}, []string{"result"})
	polls := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "tableorder_polls_total"}, []string{"result"})
	pollLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "tableorder_poll_latency_seconds",
		Buckets: prometheus.DefBuckets,
	})
	surfaces := prometheus.NewGauge(prometheus.GaugeOpts{Name: "tableorder_active_surfaces"})
	published := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "tableorder_events_published_total"}, []string{"sink", "result"})

	r.MustRegister(merges, mergeLatency, removals, statusChanges, confirmations, polls, pollLatency, surfaces, published)
	return &Registry{
		reg:             r,
		Merges:          merges,
		MergeLatencySec: mergeLatency,
		ItemRemovals:    removals,
		StatusChanges:   statusChanges,
		Confirmations:   confirmations,
		Polls:           polls,
		PollLatencySec:  pollLatency,
		ActiveSurfaces:  surfaces,
		EventsPublished: published,
	}
}

func (r *Registry) Handler() http.Handler { return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{}) }
