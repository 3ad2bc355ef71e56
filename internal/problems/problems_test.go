package problems

import (
	"reflect"
	"testing"
)

func TestAddRemoveList(t *testing.T) {
	s := NewStore()

	s.Add("db1")
	s.Add("web1")
	s.Add("db1") // duplicate adds collapse
	s.Add("")    // nameless events are ignored

	if got := s.List(); !reflect.DeepEqual(got, []string{"db1", "web1"}) {
		t.Fatalf("List() = %v, want [db1 web1]", got)
	}

	s.Remove("db1")
	s.Remove("never-added") // resolving an unknown host is a no-op

	if got := s.List(); !reflect.DeepEqual(got, []string{"web1"}) {
		t.Fatalf("List() after resolve = %v, want [web1]", got)
	}
}
