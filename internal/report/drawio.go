package report

import (
	"encoding/xml"
	"fmt"
	"math"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"NetBlueprint/internal/model"

	"github.com/google/uuid"
)

// mxfile document model, shaped for the diagrams.net editor. One diagram
// page per reporting host.
type mxFile struct {
	XMLName  xml.Name    `xml:"mxfile"`
	Host     string      `xml:"host,attr"`
	Agent    string      `xml:"agent,attr"`
	Version  string      `xml:"version,attr"`
	Type     string      `xml:"type,attr"`
	Diagrams []mxDiagram `xml:"diagram"`
}

type mxDiagram struct {
	ID    string       `xml:"id,attr"`
	Name  string       `xml:"name,attr"`
	Model mxGraphModel `xml:"mxGraphModel"`
}

type mxGraphModel struct {
	Dx         string `xml:"dx,attr"`
	Dy         string `xml:"dy,attr"`
	Grid       string `xml:"grid,attr"`
	GridSize   string `xml:"gridSize,attr"`
	Guides     string `xml:"guides,attr"`
	Tooltips   string `xml:"tooltips,attr"`
	Connect    string `xml:"connect,attr"`
	Arrows     string `xml:"arrows,attr"`
	Fold       string `xml:"fold,attr"`
	Page       string `xml:"page,attr"`
	PageScale  string `xml:"pageScale,attr"`
	PageWidth  string `xml:"pageWidth,attr"`
	PageHeight string `xml:"pageHeight,attr"`
	Math       string `xml:"math,attr"`
	Shadow     string `xml:"shadow,attr"`
	Root       mxRoot `xml:"root"`
}

type mxRoot struct {
	Cells []mxCell `xml:"mxCell"`
}

type mxCell struct {
	ID       string      `xml:"id,attr"`
	Value    string      `xml:"value,attr,omitempty"`
	Style    string      `xml:"style,attr,omitempty"`
	Vertex   string      `xml:"vertex,attr,omitempty"`
	Edge     string      `xml:"edge,attr,omitempty"`
	Parent   string      `xml:"parent,attr,omitempty"`
	Source   string      `xml:"source,attr,omitempty"`
	Target   string      `xml:"target,attr,omitempty"`
	Geometry *mxGeometry `xml:"mxGeometry,omitempty"`
}

type mxGeometry struct {
	X        string `xml:"x,attr,omitempty"`
	Y        string `xml:"y,attr,omitempty"`
	Width    string `xml:"width,attr,omitempty"`
	Height   string `xml:"height,attr,omitempty"`
	Relative string `xml:"relative,attr,omitempty"`
	As       string `xml:"as,attr"`
}

const (
	nodeStyle = "shape=rectangle;whiteSpace=wrap;html=1;strokeWidth=2;align=center;"
	edgeStyle = "endArrow=classic;html=1;"
)

func writeDrawio(dir string, rows []model.ConnectionRecord, excluded map[string]struct{}, suffix string) (ArtifactInfo, error) {
	name := fmt.Sprintf("network_blueprint_per_host%s.drawio", suffix)
	file := mxFile{
		Host:    "app.diagrams.net",
		Agent:   "netblueprint",
		Version: "15.8.7",
		Type:    "device",
	}

	perHost := make(map[string][]model.ConnectionRecord)
	for _, r := range rows {
		perHost[r.LocalHost] = append(perHost[r.LocalHost], r)
	}
	hosts := make([]string, 0, len(perHost))
	for host := range perHost {
		hosts = append(hosts, host)
	}
	sort.Strings(hosts)

	hostIPs := buildHostIPMap(rows)
	for _, host := range hosts {
		if _, skip := excluded[host]; skip {
			continue
		}
		if page, ok := buildDiagramPage(host, perHost[host], hostIPs, excluded); ok {
			file.Diagrams = append(file.Diagrams, page)
		}
	}

	data, err := xml.MarshalIndent(file, "", "  ")
	if err != nil {
		return ArtifactInfo{}, fmt.Errorf("failed to marshal drawio document: %w", err)
	}
	out := append([]byte(xml.Header), data...)
	out = append(out, '\n')
	if err := writeFileAtomic(filepath.Join(dir, name), out); err != nil {
		return ArtifactInfo{}, err
	}
	return ArtifactInfo{Name: name, Rows: len(file.Diagrams)}, nil
}

// buildDiagramPage lays out one host's neighborhood. Duplicate edges
// between the same pair of nodes collapse, keeping the last label.
func buildDiagramPage(host string, rows []model.ConnectionRecord, hostIPs map[string][]string, excluded map[string]struct{}) (mxDiagram, bool) {
	var nodes []string
	nodeSeen := make(map[string]bool)
	addNode := func(n string) {
		if !nodeSeen[n] {
			nodeSeen[n] = true
			nodes = append(nodes, n)
		}
	}

	type pair struct{ src, dst string }
	var edgeOrder []pair
	edgeLabels := make(map[pair]string)
	for _, r := range rows {
		if _, skip := excluded[r.RemoteHost]; skip {
			continue
		}
		src, dst := r.LocalHost, r.RemoteHost
		if r.Direction != model.DirectionOutgoing {
			src, dst = r.RemoteHost, r.LocalHost
		}
		addNode(src)
		addNode(dst)
		label := string(r.Direction)
		if r.Port > 0 {
			label = fmt.Sprintf("%s (port=%d)", r.Direction, r.Port)
		}
		p := pair{src, dst}
		if _, ok := edgeLabels[p]; !ok {
			edgeOrder = append(edgeOrder, p)
		}
		edgeLabels[p] = label
	}
	if len(nodes) == 0 {
		return mxDiagram{}, false
	}

	cells := []mxCell{
		{ID: "0"},
		{ID: "1", Parent: "0"},
	}
	positions := ringPositions(len(nodes))
	ids := make(map[string]string, len(nodes))
	for i, n := range nodes {
		id := fmt.Sprintf("node%d", i+1)
		ids[n] = id
		label := n
		if ips := hostIPs[n]; len(ips) > 0 {
			label = fmt.Sprintf("%s (%s)", n, strings.Join(ips, ", "))
		}
		cells = append(cells, mxCell{
			ID:     id,
			Value:  label,
			Style:  nodeStyle,
			Vertex: "1",
			Parent: "1",
			Geometry: &mxGeometry{
				X:      strconv.Itoa(positions[i][0]),
				Y:      strconv.Itoa(positions[i][1]),
				Width:  "160",
				Height: "80",
				As:     "geometry",
			},
		})
	}
	for i, p := range edgeOrder {
		cells = append(cells, mxCell{
			ID:       fmt.Sprintf("edge%d", i+1),
			Value:    edgeLabels[p],
			Style:    edgeStyle,
			Edge:     "1",
			Parent:   "1",
			Source:   ids[p.src],
			Target:   ids[p.dst],
			Geometry: &mxGeometry{Relative: "1", As: "geometry"},
		})
	}

	return mxDiagram{
		ID:   pageID(host),
		Name: pageName(host),
		Model: mxGraphModel{
			Dx: "1600", Dy: "1200",
			Grid: "1", GridSize: "10",
			Guides: "1", Tooltips: "1", Connect: "1", Arrows: "1", Fold: "1",
			Page: "1", PageScale: "1",
			PageWidth: "4000", PageHeight: "4000",
			Math: "0", Shadow: "0",
			Root: mxRoot{Cells: cells},
		},
	}, true
}

// buildHostIPMap collects every address seen beside a host name, from
// either side of the rows, for the node labels.
func buildHostIPMap(rows []model.ConnectionRecord) map[string][]string {
	seen := make(map[string]map[string]bool)
	add := func(host, ip string) {
		if host == "" || ip == "" || ip == host {
			return
		}
		if seen[host] == nil {
			seen[host] = make(map[string]bool)
		}
		seen[host][ip] = true
	}
	for _, r := range rows {
		add(r.LocalHost, r.LocalIP)
		add(r.RemoteHost, r.RemoteIP)
	}
	out := make(map[string][]string, len(seen))
	for host, ips := range seen {
		list := make([]string, 0, len(ips))
		for ip := range ips {
			list = append(list, ip)
		}
		sort.Strings(list)
		out[host] = list
	}
	return out
}

// ringPositions places n boxes evenly on a circle whose radius grows with
// n, keeping the 160x80 cells from overlapping. Positions depend only on
// n, so reruns lay out identically.
func ringPositions(n int) [][2]int {
	positions := make([][2]int, n)
	if n == 1 {
		positions[0] = [2]int{50, 50}
		return positions
	}
	radius := 320.0
	if need := float64(n) * 200 / (2 * math.Pi); need > radius {
		radius = need
	}
	for i := 0; i < n; i++ {
		angle := 2 * math.Pi * float64(i) / float64(n)
		positions[i] = [2]int{
			int(math.Round(50 + radius + radius*math.Cos(angle))),
			int(math.Round(50 + radius + radius*math.Sin(angle))),
		}
	}
	return positions
}

// pageID derives a stable 8-character diagram id from the host name.
func pageID(host string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte("netblueprint/"+host)).String()[:8]
}

// pageName truncates to the 31-character sheet name limit.
func pageName(host string) string {
	if len(host) > 31 {
		return host[:31]
	}
	return host
}
