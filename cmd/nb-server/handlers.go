package main

import (
	"archive/zip"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"NetBlueprint/internal/inventory"
	"NetBlueprint/internal/model"
	"NetBlueprint/internal/problems"
	"NetBlueprint/internal/topology"
)

// graphQuerier is the slice of the topology cache the handlers consume.
type graphQuerier interface {
	Query(opts topology.QueryOptions) (model.GraphDoc, error)
	Current() *topology.Snapshot
}

// inventoryReader is the slice of the inventory cache the handlers consume.
type inventoryReader interface {
	Lookup(host string) (model.InventoryRecord, bool)
	Current() *inventory.Snapshot
	LastRefresh() time.Time
}

// APIHandler holds the dependencies for API handlers.
type APIHandler struct {
	topo      graphQuerier
	inv       inventoryReader
	probs     *problems.Store
	reportDir string
	startedAt time.Time
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	jsonBytes, err := json.Marshal(v)
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to marshal response: %v", err), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(jsonBytes)
}

func errorJSON(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// networkMapHandler serves the filtered connection graph.
func (h *APIHandler) networkMapHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := topology.QueryOptions{
		Host:          q.Get("host"),
		Src:           q.Get("src"),
		Dst:           q.Get("dst"),
		Ports:         q.Get("ports"),
		ExcludeIPs:    q.Get("exclude_ips"),
		ExcludePublic: isTruthy(q.Get("exclude_public")),
	}
	doc, err := h.topo.Query(opts)
	if err != nil {
		if errors.Is(err, topology.ErrNotReady) {
			errorJSON(w, http.StatusServiceUnavailable, "topology not built yet, try again shortly")
			return
		}
		errorJSON(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

type statusResponse struct {
	TopologyReady      bool   `json:"topology_ready"`
	TopologyBuiltAt    string `json:"topology_built_at,omitempty"`
	TopologyRecords    int    `json:"topology_records"`
	TopologyItems      int    `json:"topology_items"`
	TopologyFailures   int    `json:"topology_item_failures"`
	InventoryReady     bool   `json:"inventory_ready"`
	InventoryRefreshed string `json:"inventory_refreshed_at,omitempty"`
	InventoryHosts     int    `json:"inventory_hosts"`
	ActiveProblems     int    `json:"active_problems"`
	UptimeSeconds      int64  `json:"uptime_seconds"`
}

func (h *APIHandler) statusHandler(w http.ResponseWriter, r *http.Request) {
	st := statusResponse{
		UptimeSeconds: int64(time.Since(h.startedAt).Seconds()),
	}
	if snap := h.topo.Current(); snap != nil {
		st.TopologyReady = true
		st.TopologyBuiltAt = snap.BuiltAt.UTC().Format(time.RFC3339)
		st.TopologyRecords = len(snap.Records)
		st.TopologyItems = snap.Items
		st.TopologyFailures = snap.Failures
	}
	if snap := h.inv.Current(); snap != nil {
		st.InventoryReady = true
		st.InventoryRefreshed = h.inv.LastRefresh().UTC().Format(time.RFC3339)
		st.InventoryHosts = len(snap.Records)
	}
	st.ActiveProblems = len(h.probs.List())
	writeJSON(w, http.StatusOK, st)
}

func (h *APIHandler) problemsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"problems": h.probs.List()})
}

// zabbixEventHandler maintains the active-problem set from the Zabbix
// action webhook. Events without both fields are acknowledged and
// ignored, so a misconfigured action does not retry forever.
func (h *APIHandler) zabbixEventHandler(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Event  string `json:"event"`
		Server string `json:"server"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		errorJSON(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if payload.Event == "" || payload.Server == "" {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}
	switch strings.ToLower(payload.Event) {
	case "problem":
		h.probs.Add(payload.Server)
	case "resolve":
		h.probs.Remove(payload.Server)
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *APIHandler) vmHandler(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	if name == "" {
		errorJSON(w, http.StatusBadRequest, "name parameter is required")
		return
	}
	rec, ok := h.inv.Lookup(name)
	if !ok {
		errorJSON(w, http.StatusNotFound, fmt.Sprintf("vm %q not found", name))
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *APIHandler) servicesByVMHandler(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	if name == "" {
		errorJSON(w, http.StatusBadRequest, "name parameter is required")
		return
	}
	rec, ok := h.inv.Lookup(name)
	if !ok {
		errorJSON(w, http.StatusNotFound, fmt.Sprintf("vm %q not found", name))
		return
	}
	services := rec.Services
	if services == nil {
		services = []model.ServiceDef{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"vm": rec.Host, "services": services})
}

type reportFile struct {
	Name       string `json:"name"`
	SizeBytes  int64  `json:"size_bytes"`
	ModifiedAt string `json:"modified_at"`
}

func (h *APIHandler) reportsHandler(w http.ResponseWriter, r *http.Request) {
	files, err := h.listArtifacts()
	if err != nil {
		errorJSON(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string][]reportFile{"reports": files})
}

// downloadZipHandler streams the latest artifact set as one zip.
func (h *APIHandler) downloadZipHandler(w http.ResponseWriter, r *http.Request) {
	files, err := h.listArtifacts()
	if err != nil {
		errorJSON(w, http.StatusInternalServerError, err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", `attachment; filename="network_blueprint_reports.zip"`)
	zw := zip.NewWriter(w)
	for _, file := range files {
		if err := addToZip(zw, filepath.Join(h.reportDir, file.Name), file.Name); err != nil {
			log.Printf("Failed to add %s to report zip: %v", file.Name, err)
			zw.Close()
			return
		}
	}
	if err := zw.Close(); err != nil {
		log.Printf("Failed to finish report zip: %v", err)
	}
}

func addToZip(zw *zip.Writer, path, name string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	entry, err := zw.Create(name)
	if err != nil {
		return err
	}
	_, err = io.Copy(entry, f)
	return err
}

// listArtifacts names the files of the latest report run. An output
// directory that does not exist yet is just an empty listing.
func (h *APIHandler) listArtifacts() ([]reportFile, error) {
	entries, err := os.ReadDir(h.reportDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []reportFile{}, nil
		}
		return nil, fmt.Errorf("failed to read report directory: %w", err)
	}
	files := make([]reportFile, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, reportFile{
			Name:       e.Name(),
			SizeBytes:  info.Size(),
			ModifiedAt: info.ModTime().UTC().Format(time.RFC3339),
		})
	}
	return files, nil
}

func isTruthy(s string) bool {
	switch strings.ToLower(s) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}
