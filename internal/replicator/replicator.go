// Package replicator implements the top-level driver loop: pump the
// QueueManager, periodically push new sighting records, ingest whatever
// arrives, and reconcile the PlotStore after every ingest.
package replicator

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/dantte-lp/repld/internal/plotstore"
	"github.com/dantte-lp/repld/internal/queue"
	"github.com/dantte-lp/repld/internal/replmetrics"
)

// ReplInterval is the adjusted-time interval between periodic pushes of
// newly-witnessed records.
const ReplInterval = 20 * time.Second

// tickSleep caps the loop's CPU usage between pumps; sessions and the
// listener are all non-blocking, so without this the loop would spin.
const tickSleep = time.Millisecond

// Replicator is the single-threaded cooperative driver tying the
// PlotStore, QueueManager, and an adjustable clock together.
type Replicator struct {
	store *plotstore.Store
	queue *queue.Manager

	startTime time.Time
	offset    time.Duration
	timeMult  float64
	lastRepl  time.Duration

	metrics *replmetrics.Collector
	logger  *slog.Logger

	shutdown atomic.Bool
}

// Option configures a Replicator at construction time.
type Option func(*Replicator)

// WithMetrics attaches a replmetrics.Collector the loop reports through.
func WithMetrics(c *replmetrics.Collector) Option {
	return func(r *Replicator) { r.metrics = c }
}

// WithTimeMult overrides the default 1.0x adjusted-clock multiplier,
// letting tests and simulations accelerate the replication interval.
func WithTimeMult(mult float64) Option {
	return func(r *Replicator) { r.timeMult = mult }
}

// WithOffset shifts the adjusted clock by offset seconds, mirroring the
// original's _start_time = time(NULL) + offset: a positive offset makes
// the adjusted clock run ahead, a negative offset makes it run behind.
func WithOffset(offsetSeconds int64) Option {
	return func(r *Replicator) { r.offset = time.Duration(offsetSeconds) * time.Second }
}

// New returns a Replicator driving store through qm.
func New(store *plotstore.Store, qm *queue.Manager, logger *slog.Logger, opts ...Option) *Replicator {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Replicator{
		store:     store,
		queue:     qm,
		startTime: time.Now(),
		timeMult:  1.0,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// AdjustedNow returns the elapsed adjusted time since the Replicator was
// constructed: (wall_now - start_time + offset) * time_mult.
func (r *Replicator) AdjustedNow() time.Duration {
	elapsed := time.Since(r.startTime) + r.offset
	return time.Duration(float64(elapsed) * r.timeMult)
}

// Shutdown requests the loop exit at the top of its next iteration.
func (r *Replicator) Shutdown() {
	r.shutdown.Store(true)
}

// Run drives the loop until Shutdown is called or ctx is canceled.
func (r *Replicator) Run(ctx context.Context) error {
	for {
		if r.shutdown.Load() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		r.queue.Pump()

		now := r.AdjustedNow()
		if now-r.lastRepl >= ReplInterval {
			n := marshalAndBroadcastNewPlots(r.store, r.queue)
			r.lastRepl = now
			if n > 0 {
				r.logger.Debug("replication push", "records", n)
			}
			if r.metrics != nil {
				r.metrics.ObservePush(n)
			}
		}

		r.drainInbound()

		if r.metrics != nil {
			stats := r.queue.Snapshot()
			r.metrics.ObserveSessionCounts(stats.Live, stats.PendingOutbound)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(tickSleep):
		}
	}
}

func (r *Replicator) drainInbound() {
	for {
		peerID, payload, ok := r.queue.Pop()
		if !ok {
			return
		}

		before := r.store.Len()
		n, err := ingestReplicatedPayload(payload, r.store)
		if err != nil {
			r.logger.Warn("ingest rejected", "peer", peerID, "err", err)
			if r.metrics != nil {
				r.metrics.ObserveIngestError(peerID)
			}
			continue
		}
		afterAppend := before + n
		afterReconcile := r.store.Len()

		r.logger.Debug("ingested replicated payload", "peer", peerID, "store_len", afterReconcile)
		if r.metrics != nil {
			r.metrics.ObserveIngestSuccess(peerID)
			r.metrics.ObserveReconcile(afterAppend, afterReconcile)
		}
	}
}
