package topology

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"NetBlueprint/internal/inventory"
	"NetBlueprint/internal/model"
	"NetBlueprint/pkg/ipnet"
)

// ErrNotReady is returned for queries before the first refresh.
var ErrNotReady = errors.New("topology snapshot not built yet")

// QueryOptions are the filters of one graph query. All set filters
// combine with AND.
type QueryOptions struct {
	// Host restricts the result to edges touching this node.
	Host string
	// Src and Dst match case-insensitively against the endpoint's
	// host name or IP as a substring.
	Src string
	Dst string
	// Ports is a comma-separated list of ports and dash ranges.
	Ports string
	// ExcludeIPs is a comma-separated list of addresses, CIDRs and
	// dash ranges; edges touching any of them are dropped.
	ExcludeIPs string
	// ExcludePublic drops edges whose remote side is a public address.
	ExcludePublic bool
}

// Query derives a filtered node/edge document from the current
// snapshot. Filters that fail to parse are reported as errors; a query
// that matches nothing returns an empty document.
func (c *Cache) Query(opts QueryOptions) (model.GraphDoc, error) {
	snap := c.Current()
	if snap == nil {
		return model.GraphDoc{}, ErrNotReady
	}

	portSet, err := parsePortFilter(opts.Ports)
	if err != nil {
		return model.GraphDoc{}, err
	}
	excludes, err := ipnet.ParseMatchers(opts.ExcludeIPs)
	if err != nil {
		return model.GraphDoc{}, err
	}

	edges := collectEdges(snap)

	doc := model.GraphDoc{Nodes: []model.Node{}, Edges: []model.Edge{}}
	degree := make(map[string]int)
	nodeIP := make(map[string]string)

	for _, e := range edges {
		if opts.ExcludePublic && e.data.IsPublic {
			continue
		}
		if portSet != nil && !portSet[e.port] {
			continue
		}
		if opts.Src != "" && !matchEndpoint(opts.Src, e.data.Source, e.data.SrcIP) {
			continue
		}
		if opts.Dst != "" && !matchEndpoint(opts.Dst, e.data.Target, e.data.DstIP) {
			continue
		}
		if ipnet.MatchAny(excludes, e.data.SrcIP) || ipnet.MatchAny(excludes, e.data.DstIP) {
			continue
		}
		if opts.Host != "" && e.data.Source != opts.Host && e.data.Target != opts.Host {
			continue
		}

		doc.Edges = append(doc.Edges, model.Edge{Data: e.data})
		degree[e.data.Source]++
		degree[e.data.Target]++
		if nodeIP[e.data.Source] == "" {
			nodeIP[e.data.Source] = e.data.SrcIP
		}
		if nodeIP[e.data.Target] == "" {
			nodeIP[e.data.Target] = e.data.DstIP
		}
	}

	ids := make([]string, 0, len(degree))
	for id := range degree {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		ip := snap.HostIPs[id]
		if ip == "" {
			ip = nodeIP[id]
		}
		label := id
		if ip != "" && ip != id {
			label = fmt.Sprintf("%s (%s)", id, ip)
		}

		env := c.nodeEnv(id, ip)
		doc.Nodes = append(doc.Nodes, model.Node{Data: model.NodeData{
			ID:     id,
			Label:  label,
			Degree: degree[id],
			IP:     ip,
			Color:  c.envColor(env),
			Env:    env,
		}})
	}
	return doc, nil
}

// nodeEnv classifies a node, with public addresses taking precedence
// over naming conventions.
func (c *Cache) nodeEnv(id, ip string) string {
	if ip != "" && c.privnets.IsPublic(ip) {
		return "external"
	}
	parts := []string{id}
	if c.inv != nil {
		if rec, ok := c.inv.Lookup(id); ok {
			parts = append(parts, rec.Role)
			parts = append(parts, rec.Tags...)
		}
	}
	return inventory.ClassifyEnv(parts...)
}

func (c *Cache) envColor(env string) string {
	if color, ok := c.colors[env]; ok {
		return color
	}
	if color, ok := c.colors["internal-unknown"]; ok {
		return color
	}
	return "#999999"
}

type edge struct {
	data model.EdgeData
	port int
}

type edgeKey struct {
	src, dst string
	port     int
	public   bool
}

// collectEdges resolves each record's direction into a source/target
// pair and deduplicates edges. Records are pre-sorted, so the edge
// order and the surviving endpoint IPs are stable.
func collectEdges(snap *Snapshot) []edge {
	seen := make(map[edgeKey]bool)
	var edges []edge
	for _, r := range snap.Records {
		var data model.EdgeData
		switch r.Direction {
		case model.DirectionIncoming:
			data = model.EdgeData{Source: r.RemoteHost, Target: r.LocalHost, SrcIP: r.RemoteIP, DstIP: r.LocalIP}
		case model.DirectionOutgoing:
			data = model.EdgeData{Source: r.LocalHost, Target: r.RemoteHost, SrcIP: r.LocalIP, DstIP: r.RemoteIP}
		default:
			continue
		}
		if r.Port > 0 {
			data.Label = fmt.Sprintf("port %d", r.Port)
		}
		data.IsPublic = r.IsPublicRemote

		key := edgeKey{data.Source, data.Target, r.Port, data.IsPublic}
		if seen[key] {
			continue
		}
		seen[key] = true
		edges = append(edges, edge{data: data, port: r.Port})
	}
	return edges
}

func matchEndpoint(needle, host, ip string) bool {
	needle = strings.ToLower(strings.TrimSpace(needle))
	if needle == "" {
		return true
	}
	return strings.Contains(strings.ToLower(host), needle) ||
		strings.Contains(strings.ToLower(ip), needle)
}

// parsePortFilter parses "443" / "80,443" / "8000-8100" combinations
// into a lookup set. An empty expression means no port filtering.
func parsePortFilter(expr string) (map[int]bool, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, nil
	}
	set := make(map[int]bool)
	for _, tok := range strings.Split(expr, ",") {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		if lo, hi, isRange := strings.Cut(tok, "-"); isRange {
			a, err := strconv.Atoi(strings.TrimSpace(lo))
			if err != nil {
				return nil, fmt.Errorf("invalid port range %q: %w", tok, err)
			}
			b, err := strconv.Atoi(strings.TrimSpace(hi))
			if err != nil {
				return nil, fmt.Errorf("invalid port range %q: %w", tok, err)
			}
			if a > b {
				a, b = b, a
			}
			for p := a; p <= b; p++ {
				set[p] = true
			}
		} else {
			p, err := strconv.Atoi(tok)
			if err != nil {
				return nil, fmt.Errorf("invalid port %q: %w", tok, err)
			}
			set[p] = true
		}
	}
	if len(set) == 0 {
		return nil, nil
	}
	return set, nil
}
