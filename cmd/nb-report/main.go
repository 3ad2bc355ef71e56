// nb-report runs one report generation pass and exits. It is meant for
// cron-driven setups and for rebuilding artifacts by hand; the long-running
// nb-server schedules the same pass internally.
package main

import (
	"context"
	"flag"
	"log"

	"NetBlueprint/internal/config"
	"NetBlueprint/internal/history"
	"NetBlueprint/internal/inventory"
	"NetBlueprint/internal/netbox"
	"NetBlueprint/internal/report"
	"NetBlueprint/internal/zabbix"
	"NetBlueprint/pkg/ipnet"
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

	ctx := context.Background()

	// A failed inventory refresh only costs remote-name resolution, so
	// the run proceeds with bare IPs rather than aborting.
	inv := inventory.NewCache(nbx)
	if err := inv.Refresh(ctx); err != nil {
		log.Printf("Inventory refresh failed, remote names will fall back to IPs: %v", err)
	}

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

	if err := report.NewGenerator(genOpts).GenerateAll(ctx); err != nil {
		log.Fatalf("Report generation failed: %v", err)
	}
}
