package report

import (
	"context"
	"fmt"
	"log"
	"os"
	"sort"
	"time"

	"NetBlueprint/internal/collector"
	"NetBlueprint/internal/metrics"
	"NetBlueprint/internal/model"
	"NetBlueprint/internal/zabbix"
	"NetBlueprint/pkg/ipnet"

	"golang.org/x/sync/errgroup"
)

// Source lists the hosts and collector items a report run covers.
type Source interface {
	Hosts(ctx context.Context) ([]zabbix.Host, error)
	ConnectionItems(ctx context.Context, names []string) ([]zabbix.Item, error)
}

// HistoryStore is the day-bucket cache the generator reads through.
type HistoryStore interface {
	EnsureRange(ctx context.Context, itemID string, from, till time.Time) error
	ReadRange(itemID string, from, till time.Time) ([]model.HistorySample, []string)
}

// Resolver maps remote addresses to inventory names when the monitoring
// interfaces do not know them. An empty name means unknown.
type Resolver interface {
	ResolveIP(ip string) string
}

// Archiver receives the full aggregate of a finished run.
type Archiver interface {
	Archive(ctx context.Context, generatedAt time.Time, rows []model.ConnectionRecord) error
}

// Options wires a Generator to its collaborators. Resolver and Archiver
// are optional.
type Options struct {
	Source        Source
	History       HistoryStore
	Resolver      Resolver
	Archiver      Archiver
	Private       ipnet.List
	OutputDir     string
	WindowDays    int
	Parallelism   int
	ExcludedHosts []string
}

// Generator builds the full artifact set from cached history. Each run
// overwrites the previous artifacts in place, so the output directory
// always holds the latest report.
type Generator struct {
	src      Source
	history  HistoryStore
	resolver Resolver
	archiver Archiver
	privnets ipnet.List
	outDir   string
	window   int
	parallel int
	excluded map[string]struct{}
}

func NewGenerator(opts Options) *Generator {
	excluded := make(map[string]struct{}, len(opts.ExcludedHosts))
	for _, h := range opts.ExcludedHosts {
		excluded[h] = struct{}{}
	}
	window := opts.WindowDays
	if window <= 0 {
		window = 30
	}
	parallel := opts.Parallelism
	if parallel <= 0 {
		parallel = 4
	}
	return &Generator{
		src:      opts.Source,
		history:  opts.History,
		resolver: opts.Resolver,
		archiver: opts.Archiver,
		privnets: opts.Private,
		outDir:   opts.OutputDir,
		window:   window,
		parallel: parallel,
		excluded: excluded,
	}
}

// GenerateAll aggregates the report window and writes every artifact.
// Individual artifact failures are logged and collected; the remaining
// artifacts are still attempted.
func (g *Generator) GenerateAll(ctx context.Context) error {
	if err := g.run(ctx); err != nil {
		metrics.ReportRunsTotal.WithLabelValues("error").Inc()
		return err
	}
	metrics.ReportRunsTotal.WithLabelValues("success").Inc()
	return nil
}

func (g *Generator) run(ctx context.Context) error {
	started := time.Now()
	now := started.UTC()
	from := now.Add(-time.Duration(g.window) * 24 * time.Hour)

	items, err := g.src.ConnectionItems(ctx, collector.ItemNames())
	if err != nil {
		return fmt.Errorf("failed to list connection items: %w", err)
	}
	hosts, err := g.src.Hosts(ctx)
	if err != nil {
		return fmt.Errorf("failed to list hosts: %w", err)
	}
	ipToHost := make(map[string]string)
	for _, h := range hosts {
		for _, ip := range h.IPs {
			if _, ok := ipToHost[ip]; !ok {
				ipToHost[ip] = h.Name
			}
		}
	}

	// Warm the day buckets for every item, a few fetches at a time.
	// Fetch failures surface later as missing days and never abort the
	// run; only cancellation stops the warm-up.
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(g.parallel)
	for _, item := range items {
		eg.Go(func() error {
			return g.history.EnsureRange(egCtx, item.ItemID, from, now)
		})
	}
	if err := eg.Wait(); err != nil {
		return fmt.Errorf("history warm-up aborted: %w", err)
	}

	set := model.NewTupleSet()
	openPorts := make(map[string]map[int]bool)
	missingByHost := make(map[string][]string)
	var gaps []ItemGap
	for _, item := range items {
		adapter, ok := collector.ByItemName(item.Name)
		if !ok {
			log.Printf("No collector adapter for item %q on host %s, skipping", item.Name, item.Host)
			continue
		}
		samples, missing := g.history.ReadRange(item.ItemID, from, now)
		if len(missing) > 0 {
			gaps = append(gaps, ItemGap{ItemID: item.ItemID, Host: item.Host, Days: missing})
			missingByHost[item.Host] = mergeDays(missingByHost[item.Host], missing)
		}
		for _, s := range samples {
			rep, err := adapter.Parse(item.Host, time.Unix(s.Clock, 0).UTC(), []byte(s.Value))
			if err != nil {
				log.Printf("Failed to decode sample for host %s (item %s): %v", item.Host, item.ItemID, err)
				continue
			}
			for _, c := range rep.Connections {
				set.Add(c)
			}
			for _, p := range rep.OpenPorts {
				if openPorts[item.Host] == nil {
					openPorts[item.Host] = make(map[int]bool)
				}
				openPorts[item.Host][p] = true
			}
		}
	}
	sort.Slice(gaps, func(i, j int) bool { return gaps[i].ItemID < gaps[j].ItemID })

	rows := set.Records()
	for i := range rows {
		rows[i].RemoteHost = g.resolveRemote(ipToHost, rows[i].RemoteIP)
		rows[i].IsPublicRemote = g.privnets.IsPublic(rows[i].RemoteIP)
	}
	// Resolution can change remote names, so the artifact order is fixed
	// only after it.
	sortRows(rows)

	status := make(map[string]HostStatus)
	for host, days := range missingByHost {
		st := status[host]
		st.Incomplete = true
		st.MissingDays = days
		status[host] = st
	}
	for host, ports := range openPorts {
		st := status[host]
		st.OpenPorts = sortedPorts(ports)
		status[host] = st
	}

	var internal, public []model.ConnectionRecord
	for _, r := range rows {
		if r.IsPublicRemote {
			public = append(public, r)
		} else {
			internal = append(internal, r)
		}
	}

	if err := os.MkdirAll(g.outDir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	manifest := Manifest{
		GeneratedAt:     now.Format(time.RFC3339),
		WindowStart:     from.Format("2006-01-02"),
		WindowEnd:       now.Format("2006-01-02"),
		Items:           len(items),
		Incomplete:      len(gaps) > 0,
		IncompleteItems: len(gaps),
		MissingDays:     gaps,
	}

	failed := 0
	var lastErr error
	record := func(info ArtifactInfo, err error) {
		if err != nil {
			failed++
			lastErr = err
			log.Printf("Report artifact failed: %v", err)
			return
		}
		manifest.Artifacts = append(manifest.Artifacts, info)
	}
	scopes := []struct {
		suffix string
		rows   []model.ConnectionRecord
	}{
		{ScopeAll, rows},
		{ScopeInternal, internal},
		{ScopePublic, public},
	}
	for _, sc := range scopes {
		info, err := writeSummaryCSV(g.outDir, sc.rows, sc.suffix)
		record(info, err)
		info, err = writePerHostJSON(g.outDir, sc.rows, status, sc.suffix)
		record(info, err)
		info, err = writeGephiCSV(g.outDir, sc.rows, sc.suffix)
		record(info, err)
		info, err = writeDrawio(g.outDir, sc.rows, g.excluded, sc.suffix)
		record(info, err)
	}
	if err := writeManifest(g.outDir, manifest); err != nil {
		failed++
		lastErr = err
		log.Printf("Report manifest failed: %v", err)
	}

	if g.archiver != nil {
		if err := g.archiver.Archive(ctx, now, rows); err != nil {
			failed++
			lastErr = err
			log.Printf("Failed to archive report rows: %v", err)
		}
	}

	metrics.ReportIncompleteItems.Set(float64(len(gaps)))
	if failed > 0 {
		return fmt.Errorf("%d report outputs failed, last error: %w", failed, lastErr)
	}
	log.Printf("Report run complete: %d rows (%d internal, %d public) from %d items in %v",
		len(rows), len(internal), len(public), len(items), time.Since(started).Round(time.Millisecond))
	return nil
}

// resolveRemote names a remote peer: monitored interface IPs first, then
// the inventory, then the bare address.
func (g *Generator) resolveRemote(ipToHost map[string]string, ip string) string {
	if name, ok := ipToHost[ip]; ok {
		return name
	}
	if g.resolver != nil {
		if name := g.resolver.ResolveIP(ip); name != "" {
			return name
		}
	}
	return ip
}

func sortRows(rows []model.ConnectionRecord) {
	sort.Slice(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if a.LocalHost != b.LocalHost {
			return a.LocalHost < b.LocalHost
		}
		if a.RemoteHost != b.RemoteHost {
			return a.RemoteHost < b.RemoteHost
		}
		if a.Port != b.Port {
			return a.Port < b.Port
		}
		if a.Direction != b.Direction {
			return a.Direction < b.Direction
		}
		return a.RemoteIP < b.RemoteIP
	})
}

func mergeDays(existing, more []string) []string {
	seen := make(map[string]bool, len(existing)+len(more))
	for _, d := range existing {
		seen[d] = true
	}
	for _, d := range more {
		seen[d] = true
	}
	out := make([]string, 0, len(seen))
	for d := range seen {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

func sortedPorts(ports map[int]bool) []int {
	out := make([]int, 0, len(ports))
	for p := range ports {
		out = append(out, p)
	}
	sort.Ints(out)
	return out
}
