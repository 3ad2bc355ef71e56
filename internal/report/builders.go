package report

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"NetBlueprint/internal/model"
)

// Scope suffixes appended to the fixed artifact names. Every run writes
// one artifact set per scope and overwrites the previous run.
const (
	ScopeAll      = ""
	ScopeInternal = "_internal_ip"
	ScopePublic   = "_public_ip"
)

// HostStatus carries per-host completeness and listening-port data into
// the per-host artifact.
type HostStatus struct {
	Incomplete  bool
	MissingDays []string
	OpenPorts   []int
}

// Manifest describes one report run: the window it covered, how complete
// the underlying history was, and the artifacts it produced.
type Manifest struct {
	GeneratedAt     string         `json:"generated_at"`
	WindowStart     string         `json:"window_start"`
	WindowEnd       string         `json:"window_end"`
	Items           int            `json:"items"`
	Incomplete      bool           `json:"incomplete"`
	IncompleteItems int            `json:"incomplete_items"`
	MissingDays     []ItemGap      `json:"missing_days,omitempty"`
	Artifacts       []ArtifactInfo `json:"artifacts"`
}

// ItemGap names one history item whose cached window has holes and the
// days that could not be fetched.
type ItemGap struct {
	ItemID string   `json:"item_id"`
	Host   string   `json:"host"`
	Days   []string `json:"days"`
}

// ArtifactInfo records one written artifact and its row count. For the
// per-host artifacts the count is hosts, for the diagram it is pages.
type ArtifactInfo struct {
	Name string `json:"name"`
	Rows int    `json:"rows"`
}

func writeSummaryCSV(dir string, rows []model.ConnectionRecord, suffix string) (ArtifactInfo, error) {
	name := fmt.Sprintf("network_blueprint_summary%s.csv", suffix)
	records := make([][]string, 0, len(rows)+1)
	records = append(records, []string{
		"ZabbixHost",
		"ConnectionType",
		"LocalIP",
		"LocalPort",
		"RemoteIP",
		"RemotePort",
		"Count",
		"RemoteHostName",
		"LatestTimestamp",
	})
	for _, r := range rows {
		// The service port sits on whichever side was listening, so the
		// same value fills both port columns.
		port := portString(r.Port)
		records = append(records, []string{
			r.LocalHost,
			string(r.Direction),
			r.LocalIP,
			port,
			r.RemoteIP,
			port,
			strconv.Itoa(r.ObservedCount),
			r.RemoteHost,
			timeString(r.LastSeen),
		})
	}
	if err := writeCSVAtomic(filepath.Join(dir, name), records); err != nil {
		return ArtifactInfo{}, err
	}
	return ArtifactInfo{Name: name, Rows: len(rows)}, nil
}

// hostRow mirrors the per-host sheet columns of the summary artifact.
type hostRow struct {
	ZabbixHost      string `json:"ZabbixHost"`
	Type            string `json:"Type"`
	LocalIP         string `json:"LocalIP"`
	Port            string `json:"Port"`
	RemoteIP        string `json:"RemoteIP"`
	RemoteHost      string `json:"RemoteHost"`
	Count           int    `json:"Count"`
	LatestTimestamp string `json:"LatestTimestamp"`
}

type hostSection struct {
	Incomplete  bool      `json:"incomplete"`
	MissingDays []string  `json:"missing_days,omitempty"`
	OpenPorts   []int     `json:"open_ports,omitempty"`
	Connections []hostRow `json:"connections"`
}

func writePerHostJSON(dir string, rows []model.ConnectionRecord, status map[string]HostStatus, suffix string) (ArtifactInfo, error) {
	name := fmt.Sprintf("network_blueprint_per_host%s.json", suffix)
	doc := make(map[string]hostSection)
	for _, r := range rows {
		section := doc[r.LocalHost]
		section.Connections = append(section.Connections, hostRow{
			ZabbixHost:      r.LocalHost,
			Type:            string(r.Direction),
			LocalIP:         r.LocalIP,
			Port:            portString(r.Port),
			RemoteIP:        r.RemoteIP,
			RemoteHost:      r.RemoteHost,
			Count:           r.ObservedCount,
			LatestTimestamp: timeString(r.LastSeen),
		})
		doc[r.LocalHost] = section
	}
	// Hosts with incomplete history appear even when the partition holds
	// none of their rows, so the gap stays visible in every scope.
	for host, st := range status {
		section, ok := doc[host]
		if !ok && !st.Incomplete {
			continue
		}
		section.Incomplete = st.Incomplete
		section.MissingDays = st.MissingDays
		section.OpenPorts = st.OpenPorts
		if section.Connections == nil {
			section.Connections = []hostRow{}
		}
		doc[host] = section
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return ArtifactInfo{}, fmt.Errorf("failed to marshal per-host document: %w", err)
	}
	if err := writeFileAtomic(filepath.Join(dir, name), append(data, '\n')); err != nil {
		return ArtifactInfo{}, err
	}
	return ArtifactInfo{Name: name, Rows: len(doc)}, nil
}

func writeGephiCSV(dir string, rows []model.ConnectionRecord, suffix string) (ArtifactInfo, error) {
	name := fmt.Sprintf("network_blueprint_gephi%s.csv", suffix)
	records := make([][]string, 0, len(rows)+1)
	records = append(records, []string{"Source", "SourceIP", "Target", "TargetIP", "Port", "Count"})
	count := 0
	for _, r := range rows {
		if r.LocalHost == "" || r.RemoteHost == "" {
			continue
		}
		src, sip := r.LocalHost, r.LocalIP
		dst, dip := r.RemoteHost, r.RemoteIP
		if r.Direction != model.DirectionOutgoing {
			src, sip = r.RemoteHost, r.RemoteIP
			dst, dip = r.LocalHost, r.LocalIP
		}
		records = append(records, []string{src, sip, dst, dip, portString(r.Port), strconv.Itoa(r.ObservedCount)})
		count++
	}
	if err := writeCSVAtomic(filepath.Join(dir, name), records); err != nil {
		return ArtifactInfo{}, err
	}
	return ArtifactInfo{Name: name, Rows: count}, nil
}

func writeManifest(dir string, m Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}
	return writeFileAtomic(filepath.Join(dir, "report_manifest.json"), append(data, '\n'))
}

func writeCSVAtomic(path string, records [][]string) error {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.WriteAll(records); err != nil {
		return fmt.Errorf("failed to encode csv: %w", err)
	}
	return writeFileAtomic(path, buf.Bytes())
}

// writeFileAtomic writes through a temp file in the target directory so a
// crash mid-write never leaves a truncated artifact behind.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-artifact-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}
	return nil
}

func portString(port int) string {
	if port <= 0 {
		return ""
	}
	return strconv.Itoa(port)
}

func timeString(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
