package replicator

import (
	"testing"

	"github.com/dantte-lp/repld/internal/plotstore"
	"github.com/dantte-lp/repld/internal/queue"
	"github.com/dantte-lp/repld/internal/sighting"
)

func TestMarshalAndBroadcastNewPlotsOnlyTakesNewFlagged(t *testing.T) {
	t.Parallel()

	store := plotstore.New()
	store.Append(sighting.Record{DroneID: 1, NodeID: 1, Timestamp: 1, Flags: sighting.FlagNew})
	store.Append(sighting.Record{DroneID: 2, NodeID: 1, Timestamp: 2}) // not new
	store.Append(sighting.Record{DroneID: 3, NodeID: 1, Timestamp: 3, Flags: sighting.FlagNew})

	qm := queue.NewManager(1, []byte("0123456789abcdef"), []queue.Peer{{ID: 2, Addr: "127.0.0.1:1"}}, nil)
	defer qm.Close()

	n := marshalAndBroadcastNewPlots(store, qm)
	if n != 2 {
		t.Fatalf("pushed %d records, want 2", n)
	}

	if qm.Snapshot().PendingOutbound != 1 {
		t.Fatalf("expected exactly one broadcast payload queued, got %+v", qm.Snapshot())
	}

	flagsStillSet := 0
	store.Iterate(func(rec *sighting.Record) {
		if rec.Flags.Set(sighting.FlagNew) {
			flagsStillSet++
		}
	})
	if flagsStillSet != 0 {
		t.Errorf("%d records still flagged NEW after push, want 0", flagsStillSet)
	}
}

func TestMarshalAndBroadcastNewPlotsNoneNew(t *testing.T) {
	t.Parallel()

	store := plotstore.New()
	store.Append(sighting.Record{DroneID: 1, NodeID: 1, Timestamp: 1})

	qm := queue.NewManager(1, []byte("0123456789abcdef"), nil, nil)
	defer qm.Close()

	if n := marshalAndBroadcastNewPlots(store, qm); n != 0 {
		t.Errorf("pushed %d records, want 0", n)
	}
}

func TestIngestReplicatedPayloadAppliesAndReconciles(t *testing.T) {
	t.Parallel()

	store := plotstore.New()
	batch := sighting.MarshalBatch([]sighting.Record{
		{DroneID: 1, NodeID: 5, Timestamp: 10, Flags: sighting.FlagNew},
		{DroneID: 2, NodeID: 5, Timestamp: 20, Flags: sighting.FlagNew},
	})

	n, err := ingestReplicatedPayload(batch, store)
	if err != nil {
		t.Fatalf("ingestReplicatedPayload: %v", err)
	}
	if n != 2 {
		t.Fatalf("ingested %d records, want 2", n)
	}

	got := store.Snapshot()
	if len(got) != 2 {
		t.Fatalf("store has %d records, want 2", len(got))
	}
	for _, rec := range got {
		if rec.Flags.Set(sighting.FlagNew) {
			t.Error("ingested record retains FlagNew, want cleared")
		}
	}
}

// S6: a malformed payload must not mutate the store at all.
func TestIngestReplicatedPayloadRejectsMalformedWithoutMutating(t *testing.T) {
	t.Parallel()

	store := plotstore.New()
	store.Append(sighting.Record{DroneID: 1, NodeID: 1, Timestamp: 1})

	_, err := ingestReplicatedPayload([]byte{9, 9}, store)
	if err == nil {
		t.Fatal("want error for malformed payload")
	}
	if store.Len() != 1 {
		t.Errorf("store has %d records after rejected ingest, want 1 (unchanged)", store.Len())
	}
}
