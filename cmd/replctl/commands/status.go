package commands

import (
	"fmt"
	"net/http"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"github.com/spf13/cobra"
)

// replication metric family names, matching internal/replmetrics.Collector's
// namespace/subsystem/name triples.
const (
	metricSessions        = "repld_replication_sessions"
	metricPendingOutbound = "repld_replication_pending_outbound"
	metricRecordsPushed   = "repld_replication_records_pushed_total"
	metricIngestsOK       = "repld_replication_ingests_succeeded_total"
	metricIngestErrors    = "repld_replication_ingest_errors_total"
	metricDropped         = "repld_replication_reconcile_records_dropped_total"
)

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Scrape a repld daemon's metrics endpoint and print a summary",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			families, err := scrapeMetrics(metricsAddr)
			if err != nil {
				return fmt.Errorf("scrape %s: %w", metricsAddr, err)
			}

			printSummary(families)
			return nil
		},
	}
}

// scrapeMetrics fetches and parses the Prometheus text exposition format
// from addr's /metrics endpoint.
func scrapeMetrics(addr string) (map[string]*dto.MetricFamily, error) {
	resp, err := httpClient.Get("http://" + addr + "/metrics")
	if err != nil {
		return nil, fmt.Errorf("GET /metrics: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}

	var parser expfmt.TextParser
	families, err := parser.TextToMetricFamilies(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse metrics: %w", err)
	}
	return families, nil
}

func printSummary(families map[string]*dto.MetricFamily) {
	fmt.Printf("repld status (%s)\n", metricsAddr)
	fmt.Printf("  live sessions:      %s\n", gaugeValue(families, metricSessions))
	fmt.Printf("  pending outbound:   %s\n", gaugeValue(families, metricPendingOutbound))
	fmt.Printf("  records pushed:     %s\n", counterValue(families, metricRecordsPushed))
	fmt.Printf("  records dropped:    %s\n", counterValue(families, metricDropped))
	fmt.Printf("  ingests succeeded:  %s\n", counterVecTotal(families, metricIngestsOK))
	fmt.Printf("  ingest errors:      %s\n", counterVecTotal(families, metricIngestErrors))
}

func gaugeValue(families map[string]*dto.MetricFamily, name string) string {
	mf, ok := families[name]
	if !ok || len(mf.Metric) == 0 {
		return "n/a"
	}
	return fmt.Sprintf("%g", mf.Metric[0].GetGauge().GetValue())
}

func counterValue(families map[string]*dto.MetricFamily, name string) string {
	mf, ok := families[name]
	if !ok || len(mf.Metric) == 0 {
		return "n/a"
	}
	return fmt.Sprintf("%g", mf.Metric[0].GetCounter().GetValue())
}

func counterVecTotal(families map[string]*dto.MetricFamily, name string) string {
	mf, ok := families[name]
	if !ok {
		return "n/a"
	}
	var total float64
	for _, m := range mf.Metric {
		total += m.GetCounter().GetValue()
	}
	return fmt.Sprintf("%g", total)
}
