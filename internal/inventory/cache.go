package inventory

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"NetBlueprint/internal/metrics"
	"NetBlueprint/internal/model"
	"NetBlueprint/internal/netbox"
)

// Source is the slice of the NetBox API the cache consumes.
type Source interface {
	VirtualMachines(ctx context.Context) ([]netbox.VM, error)
	Services(ctx context.Context) ([]netbox.Service, error)
	IPAddresses(ctx context.Context) ([]netbox.IPAddress, error)
}

// Snapshot is one wholesale view of the inventory. It is immutable
// after publication; readers share it without copying.
type Snapshot struct {
	Records   map[string]model.InventoryRecord
	Aliases   map[string]string
	IPToName  map[string]string
	FetchedAt time.Time
}

// Cache holds the current inventory snapshot and swaps it wholesale on
// refresh. Readers are never blocked by an in-flight refresh.
type Cache struct {
	mu   sync.RWMutex
	snap *Snapshot
	src  Source
}

func NewCache(src Source) *Cache {
	return &Cache{src: src}
}

// Refresh fetches machines, services and addresses, then swaps the
// snapshot. If any fetch fails the previous snapshot stays in place.
func (c *Cache) Refresh(ctx context.Context) error {
	vms, err := c.src.VirtualMachines(ctx)
	if err != nil {
		metrics.InventoryRefreshTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("failed to fetch virtual machines: %w", err)
	}
	svcs, err := c.src.Services(ctx)
	if err != nil {
		metrics.InventoryRefreshTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("failed to fetch services: %w", err)
	}
	addrs, err := c.src.IPAddresses(ctx)
	if err != nil {
		metrics.InventoryRefreshTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("failed to fetch ip addresses: %w", err)
	}

	snap := buildSnapshot(vms, svcs, addrs)

	c.mu.Lock()
	c.snap = snap
	c.mu.Unlock()

	metrics.InventoryRefreshTotal.WithLabelValues("ok").Inc()
	metrics.InventoryHosts.Set(float64(len(snap.Records)))
	log.Printf("inventory refreshed: %d hosts, %d addresses", len(snap.Records), len(snap.IPToName))
	return nil
}

func buildSnapshot(vms []netbox.VM, svcs []netbox.Service, addrs []netbox.IPAddress) *Snapshot {
	snap := &Snapshot{
		Records:   make(map[string]model.InventoryRecord, len(vms)),
		Aliases:   make(map[string]string),
		IPToName:  make(map[string]string),
		FetchedAt: time.Now(),
	}

	servicesByHost := make(map[string][]model.ServiceDef)
	for _, s := range svcs {
		if s.Host == "" {
			continue
		}
		servicesByHost[s.Host] = append(servicesByHost[s.Host], model.ServiceDef{
			Name:     s.Name,
			Protocol: s.Protocol,
			Ports:    s.Ports,
		})
	}

	for _, vm := range vms {
		rec := model.InventoryRecord{
			Host:        vm.Name,
			Display:     vm.Display,
			VCPUs:       vm.VCPUs,
			MemoryMB:    vm.MemoryMB,
			DiskGB:      vm.DiskGB,
			OS:          vm.OS,
			OSEndOfLife: vm.OSEndOfLife,
			PatchWindow: vm.PatchWindow,
			Role:        vm.Role,
			HAPeers:     vm.HAPeers,
			Tags:        vm.Tags,
			PrimaryIP:   vm.PrimaryIP,
			Services:    servicesByHost[vm.Name],
		}
		snap.Records[vm.Name] = rec
		if vm.Display != "" && vm.Display != vm.Name {
			snap.Aliases[vm.Display] = vm.Name
		}
		if vm.PrimaryIP != "" {
			snap.IPToName[vm.PrimaryIP] = vm.Name
		}
	}

	// Address assignments refine the primary-IP mapping and cover
	// hosts Zabbix does not monitor. First write wins above, so a
	// VM's primary IP keeps its VM name.
	for _, a := range addrs {
		if a.Address == "" {
			continue
		}
		name := a.Host
		if name == "" {
			name = a.DNSName
		}
		if name == "" {
			continue
		}
		if _, exists := snap.IPToName[a.Address]; !exists {
			snap.IPToName[a.Address] = name
		}
	}
	return snap
}

// Current returns the live snapshot, or nil before the first refresh.
func (c *Cache) Current() *Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snap
}

func (c *Cache) Ready() bool {
	return c.Current() != nil
}

// Lookup finds a record by VM name or display name.
func (c *Cache) Lookup(host string) (model.InventoryRecord, bool) {
	snap := c.Current()
	if snap == nil {
		return model.InventoryRecord{}, false
	}
	if rec, ok := snap.Records[host]; ok {
		return rec, true
	}
	if name, ok := snap.Aliases[host]; ok {
		rec, ok := snap.Records[name]
		return rec, ok
	}
	return model.InventoryRecord{}, false
}

// ResolveIP maps an address to a host name, or "" when unknown.
func (c *Cache) ResolveIP(ip string) string {
	snap := c.Current()
	if snap == nil {
		return ""
	}
	return snap.IPToName[ip]
}

func (c *Cache) LastRefresh() time.Time {
	snap := c.Current()
	if snap == nil {
		return time.Time{}
	}
	return snap.FetchedAt
}
