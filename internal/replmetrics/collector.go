// Package replmetrics exposes Prometheus instrumentation for the
// replication daemon: session counts, push/ingest volumes, and
// deduplication/skew outcomes.
package replmetrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

func peerIDLabel(peerID uint32) string {
	return strconv.FormatUint(uint64(peerID), 10)
}

const (
	namespace = "repld"
	subsystem = "replication"
)

const labelPeer = "peer_id"

// Collector holds every Prometheus metric the daemon reports.
type Collector struct {
	// Sessions tracks the number of currently live sessions (inbound and
	// outbound combined), updated from QueueManager.Snapshot.
	Sessions prometheus.Gauge

	// PendingOutbound tracks payloads queued for peers and not yet handed
	// to an outbound session.
	PendingOutbound prometheus.Gauge

	// RecordsPushed counts sighting records marshaled and broadcast by
	// marshalAndBroadcastNewPlots, labeled by nothing (aggregate).
	RecordsPushed prometheus.Counter

	// IngestsSucceeded counts successfully validated and applied inbound
	// payloads, per originating peer.
	IngestsSucceeded *prometheus.CounterVec

	// IngestErrors counts payloads rejected by ingestReplicatedPayload's
	// validation gate (malformed length, bad count).
	IngestErrors *prometheus.CounterVec

	// ReconcileRecordsDropped counts records removed by a reconciliation
	// pass as duplicates.
	ReconcileRecordsDropped prometheus.Counter
}

// NewCollector creates a Collector and registers its metrics against reg.
// If reg is nil, prometheus.DefaultRegisterer is used.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := newMetrics()

	reg.MustRegister(
		c.Sessions,
		c.PendingOutbound,
		c.RecordsPushed,
		c.IngestsSucceeded,
		c.IngestErrors,
		c.ReconcileRecordsDropped,
	)

	return c
}

func newMetrics() *Collector {
	peerLabels := []string{labelPeer}

	return &Collector{
		Sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "sessions",
			Help:      "Number of currently live replication sessions.",
		}),

		PendingOutbound: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "pending_outbound",
			Help:      "Number of payloads queued for peers and not yet handed to an outbound session.",
		}),

		RecordsPushed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "records_pushed_total",
			Help:      "Total sighting records marshaled and broadcast to peers.",
		}),

		IngestsSucceeded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "ingests_succeeded_total",
			Help:      "Total inbound payloads successfully validated and applied, by peer.",
		}, peerLabels),

		IngestErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "ingest_errors_total",
			Help:      "Total inbound payloads rejected by the marshal/size validation gate, by peer.",
		}, peerLabels),

		ReconcileRecordsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "reconcile_records_dropped_total",
			Help:      "Total records removed by reconciliation as duplicates.",
		}),
	}
}

// ObservePush records a successful marshal-and-broadcast of n records.
func (c *Collector) ObservePush(n int) {
	if n <= 0 {
		return
	}
	c.RecordsPushed.Add(float64(n))
}

// ObserveIngestSuccess records one successfully applied inbound payload
// from peerID.
func (c *Collector) ObserveIngestSuccess(peerID uint32) {
	c.IngestsSucceeded.WithLabelValues(peerIDLabel(peerID)).Inc()
}

// ObserveIngestError records one rejected inbound payload from peerID.
func (c *Collector) ObserveIngestError(peerID uint32) {
	c.IngestErrors.WithLabelValues(peerIDLabel(peerID)).Inc()
}

// ObserveReconcile records the number of records a reconciliation pass
// removed as duplicates.
func (c *Collector) ObserveReconcile(before, after int) {
	dropped := before - after
	if dropped <= 0 {
		return
	}
	c.ReconcileRecordsDropped.Add(float64(dropped))
}

// ObserveSessionCounts updates the session and pending-outbound gauges
// from a queue.Stats-shaped snapshot.
func (c *Collector) ObserveSessionCounts(live, pendingOutbound int) {
	c.Sessions.Set(float64(live))
	c.PendingOutbound.Set(float64(pendingOutbound))
}
