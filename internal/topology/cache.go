package topology

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"NetBlueprint/internal/collector"
	"NetBlueprint/internal/metrics"
	"NetBlueprint/internal/model"
	"NetBlueprint/internal/zabbix"
	"NetBlueprint/pkg/ipnet"
)

// Source is the slice of the Zabbix API the cache consumes.
type Source interface {
	Hosts(ctx context.Context) ([]zabbix.Host, error)
	ConnectionItems(ctx context.Context, names []string) ([]zabbix.Item, error)
	History(ctx context.Context, itemID string, from, till time.Time) ([]model.HistorySample, error)
}

// InventorySource enriches records with names and environments. All
// methods must tolerate an empty inventory.
type InventorySource interface {
	ResolveIP(ip string) string
	Lookup(host string) (model.InventoryRecord, bool)
}

// LiveFeed supplies collector reports received over the push transport,
// supplementing the polled history.
type LiveFeed interface {
	Reports(since time.Time) []collector.Report
}

// Snapshot is one immutable build of the rolling connection map.
type Snapshot struct {
	Records  []model.ConnectionRecord
	HostIPs  map[string]string
	IPHosts  map[string]string
	BuiltAt  time.Time
	Items    int
	Failures int
}

// Options wires a Cache to its collaborators.
type Options struct {
	Source    Source
	Inventory InventorySource
	Live      LiveFeed
	Lookback  time.Duration
	Private   ipnet.List
	Colors    map[string]string
}

// Cache holds the current topology snapshot. Refresh rebuilds it
// wholesale from upstream and swaps it in one step, so readers always
// see a complete, consistent map.
type Cache struct {
	mu   sync.RWMutex
	snap *Snapshot

	src      Source
	inv      InventorySource
	live     LiveFeed
	lookback time.Duration
	privnets ipnet.List
	colors   map[string]string
}

func NewCache(opts Options) *Cache {
	return &Cache{
		src:      opts.Source,
		inv:      opts.Inventory,
		live:     opts.Live,
		lookback: opts.Lookback,
		privnets: opts.Private,
		colors:   opts.Colors,
	}
}

// Refresh rebuilds the snapshot from the lookback window. A host whose
// history cannot be fetched or decoded is skipped and counted; only a
// failure to reach upstream at all aborts the cycle, leaving the
// previous snapshot in place.
func (c *Cache) Refresh(ctx context.Context) error {
	start := time.Now()
	from := start.Add(-c.lookback)

	hosts, err := c.src.Hosts(ctx)
	if err != nil {
		metrics.TopologyRefreshTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("failed to list hosts: %w", err)
	}
	items, err := c.src.ConnectionItems(ctx, collector.ItemNames())
	if err != nil {
		metrics.TopologyRefreshTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("failed to list connection items: %w", err)
	}

	ipHosts := make(map[string]string)
	hostIPs := make(map[string]string)
	for _, h := range hosts {
		for _, ip := range h.IPs {
			if _, ok := ipHosts[ip]; !ok {
				ipHosts[ip] = h.Name
			}
			if _, ok := hostIPs[h.Name]; !ok {
				hostIPs[h.Name] = ip
			}
		}
	}

	set := model.NewTupleSet()
	failures := 0
	for _, item := range items {
		if ctx.Err() != nil {
			metrics.TopologyRefreshTotal.WithLabelValues("error").Inc()
			return ctx.Err()
		}
		adapter, ok := collector.ByItemName(item.Name)
		if !ok {
			log.Printf("topology: no adapter for item %q on host %s", item.Name, item.Host)
			failures++
			metrics.TopologyItemFailures.Inc()
			continue
		}
		samples, err := c.src.History(ctx, item.ItemID, from, start)
		if err != nil {
			log.Printf("topology: history fetch failed for host %s: %v", item.Host, err)
			failures++
			metrics.TopologyItemFailures.Inc()
			continue
		}
		for _, s := range samples {
			rep, err := adapter.Parse(item.Host, time.Unix(s.Clock, 0), []byte(s.Value))
			if err != nil {
				log.Printf("topology: %v", err)
				continue
			}
			for _, rec := range rep.Connections {
				set.Add(rec)
			}
		}
	}

	if c.live != nil {
		for _, rep := range c.live.Reports(from) {
			for _, rec := range rep.Connections {
				set.Add(rec)
			}
		}
	}

	records := set.Records()
	for i := range records {
		records[i].RemoteHost = c.resolveRemote(ipHosts, records[i].RemoteIP)
		records[i].IsPublicRemote = c.privnets.IsPublic(records[i].RemoteIP)
	}

	snap := &Snapshot{
		Records:  records,
		HostIPs:  hostIPs,
		IPHosts:  ipHosts,
		BuiltAt:  start,
		Items:    len(items),
		Failures: failures,
	}
	c.mu.Lock()
	c.snap = snap
	c.mu.Unlock()

	metrics.TopologyRefreshTotal.WithLabelValues("ok").Inc()
	metrics.TopologyRecords.Set(float64(len(records)))
	log.Printf("topology refreshed: %d records from %d items (%d failures) in %v",
		len(records), len(items), failures, time.Since(start).Round(time.Millisecond))
	return nil
}

func (c *Cache) resolveRemote(ipHosts map[string]string, ip string) string {
	if name, ok := ipHosts[ip]; ok {
		return name
	}
	if c.inv != nil {
		if name := c.inv.ResolveIP(ip); name != "" {
			return name
		}
	}
	return ip
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
