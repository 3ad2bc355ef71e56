// Package problems tracks the hosts Zabbix currently reports a problem
// for, fed by the event webhook. The dashboard highlights these nodes.
package problems

import (
	"sort"
	"sync"
)

// Store is the active-problem set. An event names a host; "problem" adds
// it, "resolve" removes it. Re-adding or re-resolving is harmless.
type Store struct {
	mu     sync.RWMutex
	active map[string]struct{}
}

func NewStore() *Store {
	return &Store{active: make(map[string]struct{})}
}

func (s *Store) Add(host string) {
	if host == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active[host] = struct{}{}
}

func (s *Store) Remove(host string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.active, host)
}

// List returns the active problem hosts in name order.
func (s *Store) List() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.active))
	for host := range s.active {
		out = append(out, host)
	}
	sort.Strings(out)
	return out
}
