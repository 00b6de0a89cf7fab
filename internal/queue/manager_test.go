package queue_test

import (
	"testing"
	"time"

	"github.com/dantte-lp/repld/internal/queue"
)

func testKey() []byte { return []byte("0123456789abcdef") }

func pumpUntil(t *testing.T, managers []*queue.Manager, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		for _, m := range managers {
			m.Pump()
		}
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition never satisfied before deadline")
}

// A broadcast from node A reaches node B's completed-inbound queue with its
// payload intact, end to end through real TCP sockets.
func TestPumpDeliversBroadcastPayload(t *testing.T) {
	t.Parallel()

	key := testKey()

	b := queue.NewManager(2, key, nil, nil)
	if err := b.Bind("127.0.0.1:0"); err != nil {
		t.Fatalf("bind B: %v", err)
	}
	defer b.Close()

	a := queue.NewManager(1, key, []queue.Peer{{ID: 2, Addr: b.Addr().String()}}, nil)
	defer a.Close()

	payload := []byte("sighting batch")
	a.Broadcast(payload)

	pumpUntil(t, []*queue.Manager{a, b}, func() bool {
		return b.Snapshot().PendingInbound > 0
	})

	peerID, got, ok := b.Pop()
	if !ok {
		t.Fatal("Pop: want a completed payload")
	}
	if peerID != 1 {
		t.Errorf("peer id = %d, want 1", peerID)
	}
	if string(got) != string(payload) {
		t.Errorf("payload = %q, want %q", got, payload)
	}

	if _, _, ok := b.Pop(); ok {
		t.Error("Pop: want no further payloads")
	}
}

// Broadcast order to the same peer is preserved: two payloads queued
// before any connection exists arrive and complete in the order enqueued.
func TestBroadcastOrderingPerPeer(t *testing.T) {
	t.Parallel()

	key := testKey()

	b := queue.NewManager(2, key, nil, nil)
	if err := b.Bind("127.0.0.1:0"); err != nil {
		t.Fatalf("bind B: %v", err)
	}
	defer b.Close()

	a := queue.NewManager(1, key, []queue.Peer{{ID: 2, Addr: b.Addr().String()}}, nil)
	defer a.Close()

	a.Broadcast([]byte("first"))
	a.Broadcast([]byte("second"))

	var got []string
	pumpUntil(t, []*queue.Manager{a, b}, func() bool {
		for {
			_, payload, ok := b.Pop()
			if !ok {
				break
			}
			got = append(got, string(payload))
		}
		return len(got) >= 2
	})

	if len(got) != 2 || got[0] != "first" || got[1] != "second" {
		t.Errorf("got %v, want [first second]", got)
	}
}

func TestSnapshotReflectsPendingOutbound(t *testing.T) {
	t.Parallel()

	a := queue.NewManager(1, testKey(), []queue.Peer{{ID: 2, Addr: "127.0.0.1:1"}}, nil)
	defer a.Close()

	a.Broadcast([]byte("x"))

	snap := a.Snapshot()
	if snap.PendingOutbound != 1 {
		t.Errorf("PendingOutbound = %d, want 1", snap.PendingOutbound)
	}
}
