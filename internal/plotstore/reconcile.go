package plotstore

import (
	"math"
	"sort"

	"github.com/dantte-lp/repld/internal/sighting"
)

// SkewWindow is the timestamp tolerance, after per-node skew adjustment,
// within which two spatially-close sightings of the same drone are
// considered the same physical event.
const SkewWindow = 5

// proximityDegrees bounds the latitude/longitude envelope within which two
// sightings of the same drone are considered possibly-the-same event.
const proximityDegrees = 5.0

// Reconcile runs deduplication and clock-skew adjustment over every record
// currently in store. It is safe to call after every ingest and is
// idempotent: a second call immediately after the first leaves the store
// bitwise unchanged.
//
// The algorithm, in order:
//  1. sort records by timestamp (using any timestamps already adjusted by a
//     prior Reconcile call);
//  2. elect the priority node: the node of the record with the lowest
//     timestamp, ties broken by lowest node id;
//  3. estimate each other node's clock skew as the median offset over
//     spatially-matching pairs against the priority node's records, and
//     subtract it from that node's timestamps;
//  4. collapse duplicate sightings (same drone, spatially close, within
//     SkewWindow of each other after adjustment) down to the copy witnessed
//     by the priority node.
func Reconcile(store *Store) {
	records := store.Snapshot()
	if len(records) == 0 {
		return
	}

	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Timestamp < records[j].Timestamp
	})

	priorityNode := electPriorityNode(records)

	skews := estimateSkew(records, priorityNode)
	applySkew(records, priorityNode, skews)

	// Re-sort on the adjusted timestamps so the stored order is the one the
	// next call's step 1 would produce.
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Timestamp < records[j].Timestamp
	})

	records = dedup(records, priorityNode)

	store.Replace(records)
}

// electPriorityNode returns the node id of the record with the lowest
// timestamp, ties broken by lowest node id.
func electPriorityNode(records []sighting.Record) uint32 {
	best := records[0]
	for _, rec := range records[1:] {
		if rec.Timestamp < best.Timestamp ||
			(rec.Timestamp == best.Timestamp && rec.NodeID < best.NodeID) {
			best = rec
		}
	}
	return best.NodeID
}

// estimateSkew returns, for every node other than priorityNode that has at
// least one drone/location match against a priorityNode record, the median
// (n_timestamp - priority_timestamp) over all such matches. Nodes with no
// match are absent from the result: their skew is unknown and their
// timestamps are left alone.
func estimateSkew(records []sighting.Record, priorityNode uint32) map[uint32]int64 {
	var priorityRecs []sighting.Record
	byOtherNode := make(map[uint32][]sighting.Record)

	for _, rec := range records {
		if rec.NodeID == priorityNode {
			priorityRecs = append(priorityRecs, rec)
		} else {
			byOtherNode[rec.NodeID] = append(byOtherNode[rec.NodeID], rec)
		}
	}

	skews := make(map[uint32]int64, len(byOtherNode))
	for node, nodeRecs := range byOtherNode {
		var diffs []int64
		for _, p := range priorityRecs {
			for _, n := range nodeRecs {
				if sameDroneNearby(p, n) {
					diffs = append(diffs, int64(n.Timestamp)-int64(p.Timestamp))
				}
			}
		}
		if len(diffs) == 0 {
			continue
		}
		skews[node] = median(diffs)
	}
	return skews
}

// applySkew subtracts each node's estimated skew from every one of its
// records' timestamps. Each record is adjusted exactly once per call.
func applySkew(records []sighting.Record, priorityNode uint32, skews map[uint32]int64) {
	for i := range records {
		rec := &records[i]
		if rec.NodeID == priorityNode {
			continue
		}
		skew, ok := skews[rec.NodeID]
		if !ok || skew == 0 {
			continue
		}
		adjusted := int64(rec.Timestamp) - skew
		if adjusted < 0 {
			adjusted = 0
		}
		rec.Timestamp = uint64(adjusted)
	}
}

// dedup collapses groups of mutually-duplicate records (same drone,
// spatially close, within SkewWindow seconds of each other) down to the
// members witnessed by priorityNode. A group with no priorityNode member
// falls back to the member(s) with the lowest node id, so a duplicate
// cluster the priority node never witnessed still collapses deterministically.
func dedup(records []sighting.Record, priorityNode uint32) []sighting.Record {
	uf := newUnionFind(len(records))
	for i := range records {
		for j := i + 1; j < len(records); j++ {
			if isDuplicate(records[i], records[j]) {
				uf.union(i, j)
			}
		}
	}

	groups := make(map[int][]int)
	for i := range records {
		root := uf.find(i)
		groups[root] = append(groups[root], i)
	}

	keep := make([]bool, len(records))
	for _, members := range groups {
		winner := winningNode(records, members, priorityNode)
		for _, idx := range members {
			keep[idx] = records[idx].NodeID == winner
		}
	}

	out := make([]sighting.Record, 0, len(records))
	for i, rec := range records {
		if keep[i] {
			out = append(out, rec)
		}
	}
	return out
}

// winningNode returns priorityNode if any member of the group was
// witnessed by it, otherwise the lowest node id among the group's members.
func winningNode(records []sighting.Record, members []int, priorityNode uint32) uint32 {
	best := records[members[0]].NodeID
	sawPriority := false

	for _, idx := range members {
		node := records[idx].NodeID
		if node == priorityNode {
			sawPriority = true
		}
		if node < best {
			best = node
		}
	}

	if sawPriority {
		return priorityNode
	}
	return best
}

// isDuplicate applies the full dedup predicate: same drone, spatially
// close, and within SkewWindow seconds of each other (timestamps assumed
// already skew-adjusted).
func isDuplicate(a, b sighting.Record) bool {
	if a.DroneID != b.DroneID {
		return false
	}
	if !sameDroneNearby(a, b) {
		return false
	}
	diff := int64(a.Timestamp) - int64(b.Timestamp)
	if diff < 0 {
		diff = -diff
	}
	return diff < SkewWindow
}

// sameDroneNearby applies the spatial half of the dedup predicate only,
// used both by isDuplicate and by skew estimation (which cannot use the
// timestamp half: that's what it's trying to discover).
func sameDroneNearby(a, b sighting.Record) bool {
	return a.DroneID == b.DroneID &&
		math.Abs(a.Latitude-b.Latitude) < proximityDegrees &&
		math.Abs(a.Longitude-b.Longitude) < proximityDegrees
}

// median returns the median of diffs, sorted in place. For an even-length
// input it averages the two middle elements (integer division).
func median(diffs []int64) int64 {
	sort.Slice(diffs, func(i, j int) bool { return diffs[i] < diffs[j] })

	n := len(diffs)
	if n%2 == 1 {
		return diffs[n/2]
	}
	return (diffs[n/2-1] + diffs[n/2]) / 2
}

// unionFind is a simple union-find over record indices used to compute the
// transitive closure of the pairwise duplicate relation.
type unionFind struct {
	parent []int
}

func newUnionFind(n int) *unionFind {
	parent := make([]int, n)
	for i := range parent {
		parent[i] = i
	}
	return &unionFind{parent: parent}
}

func (u *unionFind) find(i int) int {
	for u.parent[i] != i {
		u.parent[i] = u.parent[u.parent[i]]
		i = u.parent[i]
	}
	return i
}

func (u *unionFind) union(i, j int) {
	ri, rj := u.find(i), u.find(j)
	if ri != rj {
		u.parent[ri] = rj
	}
}
