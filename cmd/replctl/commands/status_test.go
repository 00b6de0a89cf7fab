package commands

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"

	"github.com/dantte-lp/repld/internal/replmetrics"
)

func TestScrapeMetricsParsesCollectorOutput(t *testing.T) {
	reg := prometheus.NewRegistry()
	mc := replmetrics.NewCollector(reg)
	mc.ObserveSessionCounts(3, 1)
	mc.ObservePush(5)
	mc.ObserveIngestSuccess(2)
	mc.ObserveIngestSuccess(3)
	mc.ObserveIngestError(2)

	srv := httptest.NewServer(promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	defer srv.Close()

	addr := strings.TrimPrefix(srv.URL, "http://")

	families, err := scrapeMetrics(addr)
	if err != nil {
		t.Fatalf("scrapeMetrics: %v", err)
	}

	if got := gaugeValue(families, metricSessions); got != "3" {
		t.Errorf("sessions gauge = %q, want %q", got, "3")
	}
	if got := gaugeValue(families, metricPendingOutbound); got != "1" {
		t.Errorf("pending outbound gauge = %q, want %q", got, "1")
	}
	if got := counterValue(families, metricRecordsPushed); got != "5" {
		t.Errorf("records pushed = %q, want %q", got, "5")
	}
	if got := counterVecTotal(families, metricIngestsOK); got != "2" {
		t.Errorf("ingests succeeded total = %q, want %q", got, "2")
	}
	if got := counterVecTotal(families, metricIngestErrors); got != "1" {
		t.Errorf("ingest errors total = %q, want %q", got, "1")
	}
}

func TestGaugeValueMissingFamily(t *testing.T) {
	families := map[string]*dto.MetricFamily{}
	if got := gaugeValue(families, metricSessions); got != "n/a" {
		t.Errorf("gaugeValue for missing family = %q, want %q", got, "n/a")
	}
}
