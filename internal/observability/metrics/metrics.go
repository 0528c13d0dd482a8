package metrics

import "github.com/prometheus/client_golang/prometheus"

// IngestMetrics exposes counters/histograms for webhook ingestion.
type IngestMetrics struct {
	webhooksTotal *prometheus.CounterVec
	latency       *prometheus.HistogramVec
}

func NewIngestMetrics(reg prometheus.Registerer) *IngestMetrics {
	m := &IngestMetrics{
		webhooksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "coaching",
			Subsystem: "ingest",
			Name:      "webhooks_total",
			Help:      "Inbound webhooks by source and pipeline outcome",
		}, []string{"source", "outcome"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "coaching",
			Subsystem: "ingest",
			Name:      "latency_seconds",
			Help:      "Latency of webhook pipeline runs",
			Buckets:   prometheus.DefBuckets,
		}, []string{"source"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.webhooksTotal, m.latency)
	return m
}

func (m *IngestMetrics) ObserveWebhook(source, outcome string) {
	if m == nil {
		return
	}
	m.webhooksTotal.WithLabelValues(source, outcome).Inc()
}

func (m *IngestMetrics) ObserveLatency(source string, seconds float64) {
	if m == nil {
		return
	}
	m.latency.WithLabelValues(source).Observe(seconds)
}

// SMSMetrics counts outbound SMS attempts.
type SMSMetrics struct {
	sendsTotal *prometheus.CounterVec
}

func NewSMSMetrics(reg prometheus.Registerer) *SMSMetrics {
	m := &SMSMetrics{
		sendsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "coaching",
			Subsystem: "sms",
			Name:      "sends_total",
			Help:      "Outbound SMS by recipient class and result",
		}, []string{"recipient", "status"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.sendsTotal)
	return m
}

func (m *SMSMetrics) ObserveSend(recipient, status string) {
	if m == nil {
		return
	}
	m.sendsTotal.WithLabelValues(recipient, status).Inc()
}

// CronMetrics counts scheduled job runs.
type CronMetrics struct {
	runsTotal *prometheus.CounterVec
}

func NewCronMetrics(reg prometheus.Registerer) *CronMetrics {
	m := &CronMetrics{
		runsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "coaching",
			Subsystem: "cron",
			Name:      "runs_total",
			Help:      "Cron endpoint runs by job and result",
		}, []string{"job", "status"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.runsTotal)
	return m
}

func (m *CronMetrics) ObserveRun(job, status string) {
	if m == nil {
		return
	}
	m.runsTotal.WithLabelValues(job, status).Inc()
}
