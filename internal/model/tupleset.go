package model

import "sort"

// TupleSet accumulates connection records, collapsing equivalent tuples
// and summing their observed counts. It is not safe for concurrent use;
// callers own the locking.
type TupleSet struct {
	records map[string]*ConnectionRecord
}

func NewTupleSet() *TupleSet {
	return &TupleSet{records: make(map[string]*ConnectionRecord)}
}

// Add merges one record into the set. ObservedCounts of equivalent
// tuples are summed and the newest LastSeen wins.
func (s *TupleSet) Add(rec ConnectionRecord) {
	if rec.ObservedCount <= 0 {
		rec.ObservedCount = 1
	}
	key := rec.TupleKey()
	cur, ok := s.records[key]
	if !ok {
		cp := rec
		s.records[key] = &cp
		return
	}
	cur.ObservedCount += rec.ObservedCount
	if rec.LastSeen.After(cur.LastSeen) {
		cur.LastSeen = rec.LastSeen
	}
}

func (s *TupleSet) Len() int {
	return len(s.records)
}

// Records returns the merged records in a stable order.
func (s *TupleSet) Records() []ConnectionRecord {
	out := make([]ConnectionRecord, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.LocalHost != b.LocalHost {
			return a.LocalHost < b.LocalHost
		}
		if a.RemoteIP != b.RemoteIP {
			return a.RemoteIP < b.RemoteIP
		}
		if a.Port != b.Port {
			return a.Port < b.Port
		}
		if a.Direction != b.Direction {
			return a.Direction < b.Direction
		}
		return a.LocalIP < b.LocalIP
	})
	return out
}
