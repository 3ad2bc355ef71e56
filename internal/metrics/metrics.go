package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Counters and gauges for the refresh pipelines. Registered on the
// default registry and served by the /metrics handler.
var (
	TopologyRefreshTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "netblueprint",
		Subsystem: "topology",
		Name:      "refresh_total",
		Help:      "Topology refresh cycles by result.",
	}, []string{"result"})

	TopologyItemFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "netblueprint",
		Subsystem: "topology",
		Name:      "item_failures_total",
		Help:      "Items whose history fetch or decode failed during refresh.",
	})

	TopologyRecords = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "netblueprint",
		Subsystem: "topology",
		Name:      "records",
		Help:      "Connection records in the current snapshot.",
	})

	InventoryRefreshTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "netblueprint",
		Subsystem: "inventory",
		Name:      "refresh_total",
		Help:      "Inventory refresh cycles by result.",
	}, []string{"result"})

	InventoryHosts = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "netblueprint",
		Subsystem: "inventory",
		Name:      "hosts",
		Help:      "Hosts in the current inventory snapshot.",
	})

	HistoryFetchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "netblueprint",
		Subsystem: "history",
		Name:      "fetch_total",
		Help:      "Upstream day fetches by result.",
	}, []string{"result"})

	HistoryCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "netblueprint",
		Subsystem: "history",
		Name:      "cache_hits_total",
		Help:      "Day buckets served from disk without an upstream fetch.",
	})

	HistoryEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "netblueprint",
		Subsystem: "history",
		Name:      "evictions_total",
		Help:      "Day buckets removed by retention eviction.",
	})

	ReportRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "netblueprint",
		Subsystem: "report",
		Name:      "runs_total",
		Help:      "Report generation runs by result.",
	}, []string{"result"})

	ReportIncompleteItems = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "netblueprint",
		Subsystem: "report",
		Name:      "incomplete_items",
		Help:      "Items with missing history days in the last report run.",
	})

	SchedulerRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "netblueprint",
		Subsystem: "scheduler",
		Name:      "runs_total",
		Help:      "Background task runs by task and result.",
	}, []string{"task", "result"})

	IngestReports = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "netblueprint",
		Subsystem: "ingest",
		Name:      "reports_total",
		Help:      "Collector reports received over the push transport.",
	}, []string{"source"})
)
