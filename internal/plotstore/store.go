// Package plotstore holds the ordered in-memory log of sighting records
// and the reconciliation pass that deduplicates and clock-skew-adjusts
// records witnessed by different, unsynchronized nodes.
package plotstore

import (
	"container/list"
	"sort"

	"github.com/dantte-lp/repld/internal/sighting"
)

// Store is an ordered in-memory log of sighting.Record. Append is O(1) at
// the back via container/list; there is no insertion at the front.
// Iteration preserves insertion order unless SortByTimestamp has been
// called since.
type Store struct {
	records *list.List
}

// New returns an empty Store.
func New() *Store {
	return &Store{records: list.New()}
}

// Append adds rec to the end of the log.
func (s *Store) Append(rec sighting.Record) {
	s.records.PushBack(rec)
}

// Len returns the number of records currently held.
func (s *Store) Len() int {
	return s.records.Len()
}

// Iterate calls fn for every record in the log's current order. fn may
// mutate the record in place via the returned pointer; it must not call
// back into Store.
func (s *Store) Iterate(fn func(*sighting.Record)) {
	for e := s.records.Front(); e != nil; e = e.Next() {
		rec := e.Value.(sighting.Record)
		fn(&rec)
		e.Value = rec
	}
}

// Snapshot returns a copy of every record currently in the log, in
// iteration order.
func (s *Store) Snapshot() []sighting.Record {
	out := make([]sighting.Record, 0, s.records.Len())
	for e := s.records.Front(); e != nil; e = e.Next() {
		out = append(out, e.Value.(sighting.Record))
	}
	return out
}

// Replace discards the current log and replaces it, in order, with records.
func (s *Store) Replace(records []sighting.Record) {
	s.records.Init()
	for _, rec := range records {
		s.records.PushBack(rec)
	}
}

// SortByTimestamp reorders the log by ascending timestamp. It is not
// assumed to leave the log permanently sorted: later Append calls add to
// the end regardless of timestamp.
func (s *Store) SortByTimestamp() {
	snap := s.Snapshot()
	sort.SliceStable(snap, func(i, j int) bool {
		return snap[i].Timestamp < snap[j].Timestamp
	})
	s.Replace(snap)
}
