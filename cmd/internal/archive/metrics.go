package archive

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the archive counters. A nil *Metrics is valid and records nothing.
type Metrics struct {
	archived  *prometheus.CounterVec
	skipped   *prometheus.CounterVec
	dropped   *prometheus.CounterVec
	failures  *prometheus.CounterVec
	queries   *prometheus.CounterVec
	emitted   *prometheus.CounterVec
	purged    *prometheus.CounterVec
	queryTime *prometheus.HistogramVec
	mailbox   *prometheus.GaugeVec
}

// NewMetrics constructs and registers the archive collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		archived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mam",
			Name:      "messages_archived_total",
			Help:      "Messages written to the archive.",
		}, []string{"domain", "direction"}),
		skipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mam",
			Name:      "messages_skipped_total",
			Help:      "Routed stanzas not archived, by reason.",
		}, []string{"domain", "reason"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mam",
			Name:      "mailbox_dropped_total",
			Help:      "Intake events dropped because the domain mailbox was full.",
		}, []string{"domain"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mam",
			Name:      "store_failures_total",
			Help:      "Store operations that failed.",
		}, []string{"domain", "op"}),
		queries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mam",
			Name:      "queries_total",
			Help:      "Archive queries by outcome.",
		}, []string{"domain", "outcome"}),
		emitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mam",
			Name:      "results_emitted_total",
			Help:      "Result items delivered to requesters.",
		}, []string{"domain"}),
		purged: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mam",
			Name:      "messages_purged_total",
			Help:      "Messages removed by retention sweeps.",
		}, []string{"domain"}),
		queryTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "mam",
			Name:      "query_store_seconds",
			Help:      "Store latency of archive queries.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"domain"}),
		mailbox: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "mam",
			Name:      "mailbox_depth",
			Help:      "Requests waiting in a domain mailbox.",
		}, []string{"domain"}),
	}

	if reg != nil {
		reg.MustRegister(m.archived, m.skipped, m.dropped, m.failures, m.queries, m.emitted, m.purged, m.queryTime, m.mailbox)
	}
	return m
}

func (m *Metrics) incArchived(domain string, d Direction) {
	if m != nil {
		m.archived.WithLabelValues(domain, d.String()).Inc()
	}
}

func (m *Metrics) incSkipped(domain, reason string) {
	if m != nil {
		m.skipped.WithLabelValues(domain, reason).Inc()
	}
}

func (m *Metrics) incDropped(domain string) {
	if m != nil {
		m.dropped.WithLabelValues(domain).Inc()
	}
}

func (m *Metrics) incFailure(domain, op string) {
	if m != nil {
		m.failures.WithLabelValues(domain, op).Inc()
	}
}

func (m *Metrics) incQuery(domain, outcome string) {
	if m != nil {
		m.queries.WithLabelValues(domain, outcome).Inc()
	}
}

func (m *Metrics) addEmitted(domain string, n int) {
	if m != nil && n > 0 {
		m.emitted.WithLabelValues(domain).Add(float64(n))
	}
}

func (m *Metrics) addPurged(domain string, n int64) {
	if m != nil && n > 0 {
		m.purged.WithLabelValues(domain).Add(float64(n))
	}
}

func (m *Metrics) observeQuery(domain string, seconds float64) {
	if m != nil {
		m.queryTime.WithLabelValues(domain).Observe(seconds)
	}
}

func (m *Metrics) setMailboxDepth(domain string, n int) {
	if m != nil {
		m.mailbox.WithLabelValues(domain).Set(float64(n))
	}
}
