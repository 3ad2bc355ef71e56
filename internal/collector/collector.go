package collector

import (
	"fmt"
	"sort"
	"time"

	"NetBlueprint/internal/model"
)

// Report is the canonical decoded form of one collector capture: the
// listening ports and connection tuples a host reported at one instant.
type Report struct {
	Host        string
	Source      string
	CapturedAt  time.Time
	OpenPorts   []int
	Connections []model.ConnectionRecord
}

// Adapter normalises one collector source format into a Report.
// Adding support for a new operating system means adding an adapter.
type Adapter interface {
	// Source names the collector family, e.g. "linux".
	Source() string
	// ItemName is the monitored item that carries this source's payload.
	ItemName() string
	// Parse decodes one raw payload captured at the given time.
	Parse(host string, capturedAt time.Time, raw []byte) (Report, error)
}

// registry holds the mapping of item names to their adapters.
var registry = make(map[string]Adapter)

// Register registers a new collector adapter.
func Register(a Adapter) {
	if _, exists := registry[a.ItemName()]; exists {
		panic(fmt.Sprintf("collector adapter for item '%s' already registered", a.ItemName()))
	}
	registry[a.ItemName()] = a
}

// ByItemName returns the adapter bound to a monitored item name.
func ByItemName(name string) (Adapter, bool) {
	a, ok := registry[name]
	return a, ok
}

// BySource returns the adapter for a collector family.
func BySource(source string) (Adapter, bool) {
	for _, a := range registry {
		if a.Source() == source {
			return a, true
		}
	}
	return nil, false
}

// ItemNames lists the monitored item names of all registered adapters,
// sorted for stable request parameters.
func ItemNames() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
