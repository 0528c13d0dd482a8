package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func counterValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	var total float64
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		for _, m := range f.GetMetric() {
			total += m.GetCounter().GetValue()
		}
	}
	return total
}

func TestIngestMetricsObserve(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewIngestMetrics(reg)
	m.ObserveWebhook("google_sheet", "completed")
	m.ObserveWebhook("google_sheet", "completed")
	m.ObserveLatency("google_sheet", 0.5)

	if got := counterValue(t, reg, "coaching_ingest_webhooks_total"); got != 2 {
		t.Fatalf("expected 2 webhooks, got %v", got)
	}
}

func TestSMSMetricsCustomRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewSMSMetrics(reg)
	m.ObserveSend("STUDENT", "SENT")
	if got := counterValue(t, reg, "coaching_sms_sends_total"); got != 1 {
		t.Fatalf("expected 1 send, got %v", got)
	}
}

func TestCronMetricsObserve(t *testing.T) {
	m := NewCronMetrics(prometheus.NewRegistry())
	m.ObserveRun("reminders", "success")
}

func TestMetricsNilSafe(t *testing.T) {
	var im *IngestMetrics
	im.ObserveWebhook("s", "o")
	im.ObserveLatency("s", 0.1)
	var sm *SMSMetrics
	sm.ObserveSend("ADMIN", "FAILED")
	var cm *CronMetrics
	cm.ObserveRun("job", "error")
}
