package ingest

import (
	"sort"
	"sync"
	"time"

	"NetBlueprint/internal/collector"
)

// Store keeps the most recent pushed report per host. Topology refreshes
// merge these into the polled history, so an agent that pushes over NATS
// shows up without waiting for the next poll cycle.
type Store struct {
	mu      sync.RWMutex
	reports map[string]collector.Report
}

func NewStore() *Store {
	return &Store{reports: make(map[string]collector.Report)}
}

// Put records a report, keeping the newest capture per host. Messages
// can arrive out of order; an older capture never replaces a newer one.
func (s *Store) Put(rep collector.Report) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.reports[rep.Host]; ok && cur.CapturedAt.After(rep.CapturedAt) {
		return
	}
	s.reports[rep.Host] = rep
}

// Reports returns the stored reports captured after since, ordered by
// host name.
func (s *Store) Reports(since time.Time) []collector.Report {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]collector.Report, 0, len(s.reports))
	for _, rep := range s.reports {
		if rep.CapturedAt.After(since) {
			out = append(out, rep)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Host < out[j].Host })
	return out
}
