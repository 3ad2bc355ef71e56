package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"NetBlueprint/internal/config"
	"NetBlueprint/internal/history"
	"NetBlueprint/internal/ingest"
	"NetBlueprint/internal/inventory"
	"NetBlueprint/internal/netbox"
	"NetBlueprint/internal/problems"
	"NetBlueprint/internal/report"
	"NetBlueprint/internal/scheduler"
	"NetBlueprint/internal/topology"
	"NetBlueprint/internal/zabbix"
	"NetBlueprint/pkg/ipnet"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to the configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	zbx, err := zabbix.NewClient(cfg.Zabbix)
	if err != nil {
		log.Fatalf("Failed to create Zabbix client: %v", err)
	}
	nbx, err := netbox.NewClient(cfg.NetBox)
	if err != nil {
		log.Fatalf("Failed to create NetBox client: %v", err)
	}
	private, err := ipnet.ParseNetworks(cfg.Network.PrivateNetworks)
	if err != nil {
		log.Fatalf("Invalid private network list: %v", err)
	}

	inv := inventory.NewCache(nbx)

	// The push transport is optional; most estates rely on polling alone.
	var live *ingest.Store
	if cfg.Ingest.Enabled {
		live = ingest.NewStore()
		sub, err := ingest.NewSubscriber(cfg.Ingest, live)
		if err != nil {
			log.Fatalf("Failed to connect to the ingest transport: %v", err)
		}
		if err := sub.Start(); err != nil {
			log.Fatalf("Failed to subscribe for pushed reports: %v", err)
		}
		defer sub.Close()
	}

	topoOpts := topology.Options{
		Source:    zbx,
		Inventory: inv,
		Lookback:  duration(cfg.Topology.Lookback),
		Private:   private,
		Colors:    cfg.Network.EnvColors,
	}
	if live != nil {
		topoOpts.Live = live
	}
	topo := topology.NewCache(topoOpts)

	hist, err := history.NewDiskCache(cfg.History.CacheDir, cfg.History.RetentionDays, zbx)
	if err != nil {
		log.Fatalf("Failed to open the history cache: %v", err)
	}

	genOpts := report.Options{
		Source:        zbx,
		History:       hist,
		Resolver:      inv,
		Private:       private,
		OutputDir:     cfg.Report.OutputDir,
		WindowDays:    cfg.Report.WindowDays,
		Parallelism:   cfg.Report.Parallelism,
		ExcludedHosts: cfg.Report.ExcludedHosts,
	}
	if cfg.Archive.Enabled {
		arch, err := report.NewClickHouseArchive(cfg.Archive.ClickHouse)
		if err != nil {
			log.Fatalf("Failed to connect to the ClickHouse archive: %v", err)
		}
		defer arch.Close()
		genOpts.Archiver = arch
	}
	gen := report.NewGenerator(genOpts)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sched := scheduler.New(
		scheduler.Task{Name: "inventory-refresh", Interval: duration(cfg.Inventory.RefreshInterval), Run: inv.Refresh},
		scheduler.Task{Name: "topology-refresh", Interval: duration(cfg.Topology.RefreshInterval), Run: topo.Refresh},
		scheduler.Task{Name: "report-generate", Interval: duration(cfg.Report.Interval), Run: gen.GenerateAll},
	)
	sched.Start(ctx)

	api := &APIHandler{
		topo:      topo,
		inv:       inv,
		probs:     problems.NewStore(),
		reportDir: cfg.Report.OutputDir,
		startedAt: time.Now(),
	}

	r := mux.NewRouter()
	r.HandleFunc("/api/network_map", api.networkMapHandler).Methods("GET")
	r.HandleFunc("/api/status", api.statusHandler).Methods("GET")
	r.HandleFunc("/api/problems", api.problemsHandler).Methods("GET")
	r.HandleFunc("/api/webhook/zabbix_event", api.zabbixEventHandler).Methods("POST")
	r.HandleFunc("/api/netbox/vm", api.vmHandler).Methods("GET")
	r.HandleFunc("/api/netbox/services-by-vm", api.servicesByVMHandler).Methods("GET")
	r.HandleFunc("/api/reports", api.reportsHandler).Methods("GET")
	r.HandleFunc("/api/reports/download_zip", api.downloadZipHandler).Methods("GET")
	r.PathPrefix("/reports/").Handler(http.StripPrefix("/reports/", http.FileServer(http.Dir(cfg.Report.OutputDir))))
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	server := &http.Server{
		Addr:    cfg.API.ListenAddr,
		Handler: r,
	}

	go func() {
		log.Printf("API server starting on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Could not listen on %s: %v", server.Addr, err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("API server shutting down...")

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}
	sched.Wait()
	log.Println("API server exited.")
}

// duration parses a config duration already validated at load time.
func duration(s string) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		log.Fatalf("Invalid duration %q: %v", s, err)
	}
	return d
}
