package replicator

import (
	"github.com/dantte-lp/repld/internal/plotstore"
	"github.com/dantte-lp/repld/internal/queue"
	"github.com/dantte-lp/repld/internal/sighting"
)

// marshalAndBroadcastNewPlots scans store for every record with FlagNew
// set, marshals them into one batch, clears the flag on each, and hands
// the batch to qm.Broadcast. It returns the number of records pushed.
func marshalAndBroadcastNewPlots(store *plotstore.Store, qm *queue.Manager) int {
	var fresh []sighting.Record

	store.Iterate(func(rec *sighting.Record) {
		if !rec.Flags.Set(sighting.FlagNew) {
			return
		}
		fresh = append(fresh, *rec)
		rec.Flags &^= sighting.FlagNew
	})

	if len(fresh) == 0 {
		return 0
	}

	qm.Broadcast(sighting.MarshalBatch(fresh))
	return len(fresh)
}

// ingestReplicatedPayload validates and applies one inbound replication
// payload. Validation (via sighting.UnmarshalBatch) happens in full before
// any record is inserted, so a malformed payload is rejected wholesale —
// never partially applied. It returns the number of records inserted and
// triggers a reconciliation pass over store.
func ingestReplicatedPayload(data []byte, store *plotstore.Store) (int, error) {
	records, err := sighting.UnmarshalBatch(data)
	if err != nil {
		return 0, err
	}

	for _, rec := range records {
		rec.Flags &^= sighting.FlagNew
		store.Append(rec)
	}

	plotstore.Reconcile(store)
	return len(records), nil
}
