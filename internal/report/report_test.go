package report

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"encoding/xml"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"NetBlueprint/internal/model"
	"NetBlueprint/internal/zabbix"
	"NetBlueprint/pkg/ipnet"
)

const sampleClock = int64(1755684000)

// webPayload reports one inbound connection from db1 and one outbound
// to a public resolver.
const webPayload = `{
	"timestamp": "2025-08-20 10:00:00",
	"openports": [443, 22],
	"incomingconnections": [
		{"localip": "10.0.0.10", "localport": "443", "remoteip": "10.0.0.20", "remoteport": 52000, "count": 5}
	],
	"outgoingconnections": [
		{"localip": "10.0.0.10", "localport": 40000, "remoteip": "8.8.8.8", "remoteport": 53, "count": 2}
	]
}`

// dbPayload collapses the one-element outgoing list into a bare object,
// the way the Windows agent serialises singletons.
const dbPayload = `{
	"timestamp": "2025-08-20 10:00:00",
	"openports": [5432],
	"outgoingconnections": {"localip": "10.0.0.20", "localport": 41000, "remoteip": "10.0.0.10", "remoteport": 443, "count": 3}
}`

type fakeSource struct {
	hosts []zabbix.Host
	items []zabbix.Item
}

func (f *fakeSource) Hosts(ctx context.Context) ([]zabbix.Host, error) { return f.hosts, nil }

func (f *fakeSource) ConnectionItems(ctx context.Context, names []string) ([]zabbix.Item, error) {
	return f.items, nil
}

type fakeHistory struct {
	mu      sync.Mutex
	samples map[string][]model.HistorySample
	missing map[string][]string
	ensured []string
}

func (f *fakeHistory) EnsureRange(ctx context.Context, itemID string, from, till time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ensured = append(f.ensured, itemID)
	return ctx.Err()
}

func (f *fakeHistory) ReadRange(itemID string, from, till time.Time) ([]model.HistorySample, []string) {
	return f.samples[itemID], f.missing[itemID]
}

type fakeResolver struct {
	names map[string]string
}

func (f *fakeResolver) ResolveIP(ip string) string {
	return f.names[ip]
}

type fakeArchiver struct {
	generatedAt time.Time
	rows        []model.ConnectionRecord
	err         error
	calls       int
}

func (f *fakeArchiver) Archive(ctx context.Context, generatedAt time.Time, rows []model.ConnectionRecord) error {
	f.calls++
	f.generatedAt = generatedAt
	f.rows = rows
	return f.err
}

func privateNets(t *testing.T) ipnet.List {
	t.Helper()
	nets, err := ipnet.ParseNetworks([]string{"10.0.0.0/8", "172.16.0.0/12", "192.168.0.0/16"})
	if err != nil {
		t.Fatalf("ParseNetworks: %v", err)
	}
	return nets
}

func fixtureOptions(t *testing.T, dir string) (Options, *fakeHistory) {
	t.Helper()
	src := &fakeSource{
		hosts: []zabbix.Host{
			{Name: "web1", IPs: []string{"10.0.0.10"}},
			{Name: "db1", IPs: []string{"10.0.0.20"}},
		},
		items: []zabbix.Item{
			{ItemID: "101", Name: "linux-network-connections", Host: "web1"},
			{ItemID: "102", Name: "windows-network-connections", Host: "db1"},
		},
	}
	hist := &fakeHistory{
		samples: map[string][]model.HistorySample{
			"101": {{ItemID: "101", Clock: sampleClock, Value: webPayload}},
			"102": {{ItemID: "102", Clock: sampleClock, Value: dbPayload}},
		},
		missing: map[string][]string{},
	}
	return Options{
		Source:        src,
		History:       hist,
		Private:       privateNets(t),
		OutputDir:     dir,
		WindowDays:    30,
		Parallelism:   2,
		ExcludedHosts: []string{"Zabbix server"},
	}, hist
}

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return records
}

func TestGenerateAllWritesEveryArtifact(t *testing.T) {
	dir := t.TempDir()
	opts, _ := fixtureOptions(t, dir)
	g := NewGenerator(opts)

	if err := g.GenerateAll(context.Background()); err != nil {
		t.Fatalf("GenerateAll: %v", err)
	}

	for _, suffix := range []string{ScopeAll, ScopeInternal, ScopePublic} {
		for _, name := range []string{
			"network_blueprint_summary" + suffix + ".csv",
			"network_blueprint_per_host" + suffix + ".json",
			"network_blueprint_gephi" + suffix + ".csv",
			"network_blueprint_per_host" + suffix + ".drawio",
		} {
			if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
				t.Errorf("missing artifact %s: %v", name, err)
			}
		}
	}
	if _, err := os.Stat(filepath.Join(dir, "report_manifest.json")); err != nil {
		t.Fatalf("missing manifest: %v", err)
	}
}

func TestSummaryRowsResolvedAndOrdered(t *testing.T) {
	dir := t.TempDir()
	opts, _ := fixtureOptions(t, dir)
	g := NewGenerator(opts)
	if err := g.GenerateAll(context.Background()); err != nil {
		t.Fatalf("GenerateAll: %v", err)
	}

	records := readCSV(t, filepath.Join(dir, "network_blueprint_summary.csv"))
	if len(records) != 4 {
		t.Fatalf("expected header and 3 rows, got %d records", len(records))
	}
	wantHeader := []string{"ZabbixHost", "ConnectionType", "LocalIP", "LocalPort", "RemoteIP", "RemotePort", "Count", "RemoteHostName", "LatestTimestamp"}
	if !reflect.DeepEqual(records[0], wantHeader) {
		t.Fatalf("header = %v, want %v", records[0], wantHeader)
	}

	ts := time.Unix(sampleClock, 0).UTC().Format(time.RFC3339)
	want := [][]string{
		{"db1", "outgoing", "10.0.0.20", "443", "10.0.0.10", "443", "3", "web1", ts},
		{"web1", "outgoing", "10.0.0.10", "53", "8.8.8.8", "53", "2", "8.8.8.8", ts},
		{"web1", "incoming", "10.0.0.10", "443", "10.0.0.20", "443", "5", "db1", ts},
	}
	for i, w := range want {
		if !reflect.DeepEqual(records[i+1], w) {
			t.Errorf("row %d = %v, want %v", i+1, records[i+1], w)
		}
	}
}

func TestScopePartitioning(t *testing.T) {
	dir := t.TempDir()
	opts, _ := fixtureOptions(t, dir)
	g := NewGenerator(opts)
	if err := g.GenerateAll(context.Background()); err != nil {
		t.Fatalf("GenerateAll: %v", err)
	}

	internal := readCSV(t, filepath.Join(dir, "network_blueprint_summary_internal_ip.csv"))
	if len(internal) != 3 {
		t.Fatalf("internal scope has %d records, want header and 2 rows", len(internal))
	}
	for _, rec := range internal[1:] {
		if rec[4] == "8.8.8.8" {
			t.Errorf("public remote leaked into internal scope: %v", rec)
		}
	}

	public := readCSV(t, filepath.Join(dir, "network_blueprint_summary_public_ip.csv"))
	if len(public) != 2 {
		t.Fatalf("public scope has %d records, want header and 1 row", len(public))
	}
	if public[1][4] != "8.8.8.8" {
		t.Errorf("public scope row = %v, want the 8.8.8.8 edge", public[1])
	}
}

func TestPerHostSectionsCarryOpenPorts(t *testing.T) {
	dir := t.TempDir()
	opts, _ := fixtureOptions(t, dir)
	g := NewGenerator(opts)
	if err := g.GenerateAll(context.Background()); err != nil {
		t.Fatalf("GenerateAll: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "network_blueprint_per_host.json"))
	if err != nil {
		t.Fatalf("read per-host artifact: %v", err)
	}
	var doc map[string]hostSection
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("unmarshal per-host artifact: %v", err)
	}

	web, ok := doc["web1"]
	if !ok {
		t.Fatalf("web1 section missing, have %v", keysOf(doc))
	}
	if !reflect.DeepEqual(web.OpenPorts, []int{22, 443}) {
		t.Errorf("web1 open ports = %v, want [22 443]", web.OpenPorts)
	}
	if web.Incomplete {
		t.Errorf("web1 marked incomplete with no missing days")
	}
	if len(web.Connections) != 2 {
		t.Fatalf("web1 has %d connections, want 2", len(web.Connections))
	}
	if web.Connections[0].RemoteHost != "8.8.8.8" || web.Connections[1].RemoteHost != "db1" {
		t.Errorf("web1 connections out of order: %+v", web.Connections)
	}
	if db := doc["db1"]; !reflect.DeepEqual(db.OpenPorts, []int{5432}) {
		t.Errorf("db1 open ports = %v, want [5432]", db.OpenPorts)
	}
}

func TestIncompleteHostsSurfaceEverywhere(t *testing.T) {
	dir := t.TempDir()
	opts, hist := fixtureOptions(t, dir)
	// db1's history has gaps and, this run, no samples at all. The gap
	// must still be visible in the per-host artifact and the manifest.
	hist.samples["102"] = nil
	hist.missing["102"] = []string{"2026-08-01", "2026-08-02"}
	g := NewGenerator(opts)
	if err := g.GenerateAll(context.Background()); err != nil {
		t.Fatalf("GenerateAll: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "network_blueprint_per_host.json"))
	if err != nil {
		t.Fatalf("read per-host artifact: %v", err)
	}
	var doc map[string]hostSection
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("unmarshal per-host artifact: %v", err)
	}
	db, ok := doc["db1"]
	if !ok {
		t.Fatalf("db1 section missing despite incomplete history")
	}
	if !db.Incomplete {
		t.Errorf("db1 not marked incomplete")
	}
	if !reflect.DeepEqual(db.MissingDays, []string{"2026-08-01", "2026-08-02"}) {
		t.Errorf("db1 missing days = %v", db.MissingDays)
	}
	if len(db.Connections) != 0 {
		t.Errorf("db1 has %d connections, want none", len(db.Connections))
	}

	var m Manifest
	manifestData, err := os.ReadFile(filepath.Join(dir, "report_manifest.json"))
	if err != nil {
		t.Fatalf("read manifest: %v", err)
	}
	if err := json.Unmarshal(manifestData, &m); err != nil {
		t.Fatalf("unmarshal manifest: %v", err)
	}
	if !m.Incomplete || m.IncompleteItems != 1 {
		t.Errorf("manifest incomplete = %v/%d, want true/1", m.Incomplete, m.IncompleteItems)
	}
	if len(m.MissingDays) != 1 || m.MissingDays[0].ItemID != "102" || m.MissingDays[0].Host != "db1" {
		t.Errorf("manifest missing days = %+v", m.MissingDays)
	}
}

func TestRerunIsByteIdentical(t *testing.T) {
	dir := t.TempDir()
	opts, _ := fixtureOptions(t, dir)
	g := NewGenerator(opts)

	if err := g.GenerateAll(context.Background()); err != nil {
		t.Fatalf("first run: %v", err)
	}
	first := readAllFiles(t, dir)
	if err := g.GenerateAll(context.Background()); err != nil {
		t.Fatalf("second run: %v", err)
	}
	second := readAllFiles(t, dir)

	if len(first) != len(second) {
		t.Fatalf("file count changed between runs: %d then %d", len(first), len(second))
	}
	for name, before := range first {
		after := second[name]
		if name == "report_manifest.json" {
			var m1, m2 Manifest
			if err := json.Unmarshal(before, &m1); err != nil {
				t.Fatalf("unmarshal first manifest: %v", err)
			}
			if err := json.Unmarshal(after, &m2); err != nil {
				t.Fatalf("unmarshal second manifest: %v", err)
			}
			m1.GeneratedAt, m2.GeneratedAt = "", ""
			if !reflect.DeepEqual(m1, m2) {
				t.Errorf("manifest differs beyond generated_at:\n%+v\n%+v", m1, m2)
			}
			continue
		}
		if string(before) != string(after) {
			t.Errorf("artifact %s changed between identical runs", name)
		}
	}
}

func TestGephiResolvesDirection(t *testing.T) {
	dir := t.TempDir()
	rows := []model.ConnectionRecord{
		{LocalHost: "web1", LocalIP: "10.0.0.10", RemoteHost: "db1", RemoteIP: "10.0.0.20", Port: 443, Direction: model.DirectionIncoming, ObservedCount: 5},
		{LocalHost: "web1", LocalIP: "10.0.0.10", RemoteHost: "dns1", RemoteIP: "8.8.8.8", Port: 53, Direction: model.DirectionOutgoing, ObservedCount: 2},
		{LocalHost: "web1", LocalIP: "10.0.0.10", RemoteHost: "", RemoteIP: "10.9.9.9", Port: 80, Direction: model.DirectionOutgoing, ObservedCount: 1},
	}
	info, err := writeGephiCSV(dir, rows, ScopeAll)
	if err != nil {
		t.Fatalf("writeGephiCSV: %v", err)
	}
	if info.Rows != 2 {
		t.Errorf("rows = %d, want 2 (nameless endpoint skipped)", info.Rows)
	}

	records := readCSV(t, filepath.Join(dir, "network_blueprint_gephi.csv"))
	want := [][]string{
		{"Source", "SourceIP", "Target", "TargetIP", "Port", "Count"},
		{"db1", "10.0.0.20", "web1", "10.0.0.10", "443", "5"},
		{"web1", "10.0.0.10", "dns1", "8.8.8.8", "53", "2"},
	}
	if !reflect.DeepEqual(records, want) {
		t.Errorf("gephi rows = %v, want %v", records, want)
	}
}

func TestDrawioPagesSkipExcludedHosts(t *testing.T) {
	dir := t.TempDir()
	rows := []model.ConnectionRecord{
		{LocalHost: "Zabbix server", LocalIP: "10.0.0.2", RemoteHost: "web1", RemoteIP: "10.0.0.10", Port: 10050, Direction: model.DirectionOutgoing, ObservedCount: 1},
		{LocalHost: "web1", LocalIP: "10.0.0.10", RemoteHost: "Zabbix server", RemoteIP: "10.0.0.2", Port: 10051, Direction: model.DirectionOutgoing, ObservedCount: 1},
		{LocalHost: "web1", LocalIP: "10.0.0.10", RemoteHost: "db1", RemoteIP: "10.0.0.20", Port: 443, Direction: model.DirectionIncoming, ObservedCount: 5},
	}
	excluded := map[string]struct{}{"Zabbix server": {}}

	info, err := writeDrawio(dir, rows, excluded, ScopeAll)
	if err != nil {
		t.Fatalf("writeDrawio: %v", err)
	}
	if info.Rows != 1 {
		t.Fatalf("pages = %d, want 1 (excluded host page dropped)", info.Rows)
	}

	data, err := os.ReadFile(filepath.Join(dir, "network_blueprint_per_host.drawio"))
	if err != nil {
		t.Fatalf("read drawio artifact: %v", err)
	}
	var file mxFile
	if err := xml.Unmarshal(data, &file); err != nil {
		t.Fatalf("unmarshal drawio xml: %v", err)
	}
	if len(file.Diagrams) != 1 {
		t.Fatalf("diagrams = %d, want 1", len(file.Diagrams))
	}
	page := file.Diagrams[0]
	if page.Name != "web1" {
		t.Errorf("page name = %q, want web1", page.Name)
	}
	if len(page.ID) != 8 {
		t.Errorf("page id = %q, want 8 characters", page.ID)
	}
	if page.ID != pageID("web1") {
		t.Errorf("page id not derived from host name")
	}

	cells := page.Model.Root.Cells
	if cells[0].ID != "0" || cells[1].ID != "1" || cells[1].Parent != "0" {
		t.Fatalf("missing layer cells, got %+v", cells[:2])
	}
	var nodeLabels, edgeLabels []string
	for _, c := range cells {
		if c.Vertex == "1" {
			nodeLabels = append(nodeLabels, c.Value)
		}
		if c.Edge == "1" {
			edgeLabels = append(edgeLabels, c.Value)
		}
	}
	wantNodes := []string{"db1 (10.0.0.20)", "web1 (10.0.0.10)"}
	if !reflect.DeepEqual(nodeLabels, wantNodes) {
		t.Errorf("node labels = %v, want %v", nodeLabels, wantNodes)
	}
	if !reflect.DeepEqual(edgeLabels, []string{"incoming (port=443)"}) {
		t.Errorf("edge labels = %v, want the one db1 edge", edgeLabels)
	}
}

func TestArtifactFailureDoesNotStopOthers(t *testing.T) {
	dir := t.TempDir()
	// A directory squatting on the summary artifact name makes its
	// rename fail while every other artifact still writes.
	if err := os.Mkdir(filepath.Join(dir, "network_blueprint_summary.csv"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	opts, _ := fixtureOptions(t, dir)
	g := NewGenerator(opts)

	err := g.GenerateAll(context.Background())
	if err == nil {
		t.Fatalf("expected an error for the blocked artifact")
	}
	if !strings.Contains(err.Error(), "report outputs failed") {
		t.Errorf("error = %v, want aggregated artifact failure", err)
	}
	for _, name := range []string{
		"network_blueprint_per_host.json",
		"network_blueprint_gephi.csv",
		"network_blueprint_summary_internal_ip.csv",
		"report_manifest.json",
	} {
		if _, statErr := os.Stat(filepath.Join(dir, name)); statErr != nil {
			t.Errorf("artifact %s missing after partial failure: %v", name, statErr)
		}
	}

	var m Manifest
	data, readErr := os.ReadFile(filepath.Join(dir, "report_manifest.json"))
	if readErr != nil {
		t.Fatalf("read manifest: %v", readErr)
	}
	if unmarshalErr := json.Unmarshal(data, &m); unmarshalErr != nil {
		t.Fatalf("unmarshal manifest: %v", unmarshalErr)
	}
	if len(m.Artifacts) != 11 {
		t.Errorf("manifest lists %d artifacts, want the 11 that succeeded", len(m.Artifacts))
	}
}

func TestArchiverGetsFullAggregate(t *testing.T) {
	dir := t.TempDir()
	opts, _ := fixtureOptions(t, dir)
	arch := &fakeArchiver{}
	opts.Archiver = arch
	opts.Resolver = &fakeResolver{names: map[string]string{"8.8.8.8": "google-dns"}}
	g := NewGenerator(opts)

	if err := g.GenerateAll(context.Background()); err != nil {
		t.Fatalf("GenerateAll: %v", err)
	}
	if arch.calls != 1 {
		t.Fatalf("archiver called %d times, want 1", arch.calls)
	}
	if len(arch.rows) != 3 {
		t.Errorf("archived %d rows, want the full aggregate of 3", len(arch.rows))
	}
	if arch.generatedAt.IsZero() {
		t.Errorf("archive timestamp not set")
	}
	// The inventory resolver names peers the monitoring interfaces
	// cannot.
	found := false
	for _, r := range arch.rows {
		if r.RemoteIP == "8.8.8.8" && r.RemoteHost == "google-dns" {
			found = true
		}
	}
	if !found {
		t.Errorf("resolver name not applied to public remote: %+v", arch.rows)
	}
}

func readAllFiles(t *testing.T, dir string) map[string][]byte {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	out := make(map[string][]byte, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			t.Fatalf("read %s: %v", e.Name(), err)
		}
		out[e.Name()] = data
	}
	return out
}

func keysOf(doc map[string]hostSection) []string {
	keys := make([]string, 0, len(doc))
	for k := range doc {
		keys = append(keys, k)
	}
	return keys
}
