package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// APIConfig holds the HTTP listener settings.
type APIConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

// ZabbixConfig holds the connection settings for the Zabbix JSON-RPC API.
type ZabbixConfig struct {
	URL     string `yaml:"url"`
	Token   string `yaml:"token"`
	Timeout string `yaml:"timeout"`
}

// NetBoxConfig holds the connection settings for the NetBox REST API.
type NetBoxConfig struct {
	URL      string `yaml:"url"`
	Token    string `yaml:"token"`
	Timeout  string `yaml:"timeout"`
	PageSize int    `yaml:"page_size"`
}

// TopologyConfig controls the rolling connection map.
type TopologyConfig struct {
	Lookback        string `yaml:"lookback"`
	RefreshInterval string `yaml:"refresh_interval"`
}

// InventoryConfig controls the enrichment cache.
type InventoryConfig struct {
	RefreshInterval string `yaml:"refresh_interval"`
}

// HistoryConfig controls the on-disk day-bucket cache.
type HistoryConfig struct {
	CacheDir      string `yaml:"cache_dir"`
	RetentionDays int    `yaml:"retention_days"`
}

// ReportConfig controls report generation.
type ReportConfig struct {
	OutputDir     string   `yaml:"output_dir"`
	Interval      string   `yaml:"interval"`
	WindowDays    int      `yaml:"window_days"`
	Parallelism   int      `yaml:"parallelism"`
	ExcludedHosts []string `yaml:"excluded_hosts"`
}

// NetworkConfig defines the estate's private address space and the
// color assigned to each environment in graph output.
type NetworkConfig struct {
	PrivateNetworks []string          `yaml:"private_networks"`
	EnvColors       map[string]string `yaml:"env_colors"`
}

// IngestConfig controls the optional NATS push transport through which
// collectors can deliver reports directly.
type IngestConfig struct {
	Enabled bool   `yaml:"enabled"`
	NATSURL string `yaml:"nats_url"`
	Subject string `yaml:"subject"`
}

// ClickHouseConfig holds the connection settings for the archive store.
type ClickHouseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// ArchiveConfig controls the optional long-term edge archive.
type ArchiveConfig struct {
	Enabled    bool             `yaml:"enabled"`
	ClickHouse ClickHouseConfig `yaml:"clickhouse"`
}

// Config is the top-level configuration struct for the entire application.
type Config struct {
	API       APIConfig       `yaml:"api"`
	Zabbix    ZabbixConfig    `yaml:"zabbix"`
	NetBox    NetBoxConfig    `yaml:"netbox"`
	Topology  TopologyConfig  `yaml:"topology"`
	Inventory InventoryConfig `yaml:"inventory"`
	History   HistoryConfig   `yaml:"history"`
	Report    ReportConfig    `yaml:"report"`
	Network   NetworkConfig   `yaml:"network"`
	Ingest    IngestConfig    `yaml:"ingest"`
	Archive   ArchiveConfig   `yaml:"archive"`
}

// LoadConfig reads the configuration from a YAML file and returns a Config struct.
func LoadConfig(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	err = yaml.Unmarshal(data, &cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal config YAML: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.API.ListenAddr == "" {
		c.API.ListenAddr = ":8000"
	}
	if c.Zabbix.Timeout == "" {
		c.Zabbix.Timeout = "30s"
	}
	if c.NetBox.Timeout == "" {
		c.NetBox.Timeout = "30s"
	}
	if c.NetBox.PageSize <= 0 {
		c.NetBox.PageSize = 1000
	}
	if c.Topology.Lookback == "" {
		c.Topology.Lookback = "24h"
	}
	if c.Topology.RefreshInterval == "" {
		c.Topology.RefreshInterval = "30m"
	}
	if c.Inventory.RefreshInterval == "" {
		c.Inventory.RefreshInterval = "24h"
	}
	if c.History.CacheDir == "" {
		c.History.CacheDir = "data/history_cache"
	}
	if c.History.RetentionDays <= 0 {
		c.History.RetentionDays = 30
	}
	if c.Report.OutputDir == "" {
		c.Report.OutputDir = "data/reports"
	}
	if c.Report.Interval == "" {
		c.Report.Interval = "24h"
	}
	if c.Report.WindowDays <= 0 {
		c.Report.WindowDays = 30
	}
	if c.Report.Parallelism <= 0 {
		c.Report.Parallelism = 4
	}
	if c.Report.ExcludedHosts == nil {
		c.Report.ExcludedHosts = []string{"Zabbix server"}
	}
	if len(c.Network.PrivateNetworks) == 0 {
		c.Network.PrivateNetworks = []string{
			"10.0.0.0/8",
			"172.16.0.0/12",
			"192.168.0.0/16",
			"127.0.0.0/8",
			"169.254.0.0/16",
		}
	}
	if c.Network.EnvColors == nil {
		c.Network.EnvColors = map[string]string{}
	}
	for env, color := range defaultEnvColors {
		if _, ok := c.Network.EnvColors[env]; !ok {
			c.Network.EnvColors[env] = color
		}
	}
	if c.Ingest.NATSURL == "" {
		c.Ingest.NATSURL = "nats://127.0.0.1:4222"
	}
	if c.Ingest.Subject == "" {
		c.Ingest.Subject = "netblueprint.reports"
	}
	if c.Archive.ClickHouse.Port == 0 {
		c.Archive.ClickHouse.Port = 9000
	}
	if c.Archive.ClickHouse.Database == "" {
		c.Archive.ClickHouse.Database = "default"
	}
}

var defaultEnvColors = map[string]string{
	"prod":             "#007bff",
	"dev":              "#28a745",
	"test":             "#ffc107",
	"qa":               "#6f42c1",
	"external":         "#fd7e14",
	"unknown":          "#6c757d",
	"internal-unknown": "#999999",
}

func (c *Config) validate() error {
	for name, val := range map[string]string{
		"zabbix.timeout":             c.Zabbix.Timeout,
		"netbox.timeout":             c.NetBox.Timeout,
		"topology.lookback":          c.Topology.Lookback,
		"topology.refresh_interval":  c.Topology.RefreshInterval,
		"inventory.refresh_interval": c.Inventory.RefreshInterval,
		"report.interval":            c.Report.Interval,
	} {
		if _, err := time.ParseDuration(val); err != nil {
			return fmt.Errorf("invalid duration for %s: %w", name, err)
		}
	}
	if c.Zabbix.URL == "" {
		return fmt.Errorf("zabbix.url is required")
	}
	return nil
}
