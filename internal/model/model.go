package model

import (
	"fmt"
	"time"
)

// Direction tells which side of a connection the reporting host was on.
type Direction string

const (
	DirectionIncoming Direction = "incoming"
	DirectionOutgoing Direction = "outgoing"
)

// ConnectionRecord is one aggregated connection observation. Equivalent
// tuples reported at different timestamps collapse into a single record
// with a summed ObservedCount.
type ConnectionRecord struct {
	// LocalHost is the name of the host that reported the connection.
	LocalHost string
	LocalIP   string
	// RemoteHost is the resolved name of the remote peer. It falls back
	// to the remote IP when no host maps to it.
	RemoteHost string
	RemoteIP   string
	// Port is the listening-side service port: the local port for
	// incoming connections, the remote port for outgoing ones.
	Port      int
	Direction Direction
	// IsPublicRemote marks connections whose remote address falls
	// outside the configured private networks.
	IsPublicRemote bool
	ObservedCount  int
	LastSeen       time.Time
}

// TupleKey identifies the merge unit for deduplication. RemoteHost is
// derived from RemoteIP after merging, so it is not part of the key.
func (r ConnectionRecord) TupleKey() string {
	return fmt.Sprintf("%s|%s|%s|%s|%d", r.Direction, r.LocalHost, r.LocalIP, r.RemoteIP, r.Port)
}

// HistorySample is a single raw value stored for a monitored item.
type HistorySample struct {
	ItemID string `json:"itemid"`
	Clock  int64  `json:"clock"`
	Value  string `json:"value"`
}

// DayBucket holds all history samples of one item for one calendar day
// (UTC). Final is false when the bucket was fetched while its day was
// still in progress; such buckets must be refetched.
type DayBucket struct {
	ItemID    string          `json:"item_id"`
	Day       string          `json:"day"`
	FetchedAt time.Time       `json:"fetched_at"`
	Final     bool            `json:"final"`
	Samples   []HistorySample `json:"samples"`
}

// ServiceDef describes a service bound to an inventory host.
type ServiceDef struct {
	Name     string `json:"name"`
	Protocol string `json:"protocol"`
	Ports    []int  `json:"ports"`
}

// InventoryRecord carries the enrichment attributes of one host as
// known by the inventory system.
type InventoryRecord struct {
	Host        string       `json:"host"`
	Display     string       `json:"display"`
	VCPUs       int          `json:"vcpus"`
	MemoryMB    int          `json:"memory_mb"`
	DiskGB      int          `json:"disk_gb"`
	OS          string       `json:"os"`
	OSEndOfLife string       `json:"os_eol"`
	PatchWindow string       `json:"patch_window"`
	Role        string       `json:"role"`
	HAPeers     []string     `json:"ha_peers"`
	Tags        []string     `json:"tags"`
	PrimaryIP   string       `json:"primary_ip"`
	Services    []ServiceDef `json:"services"`
}

// NodeData is the payload of one graph node.
type NodeData struct {
	ID     string `json:"id"`
	Label  string `json:"label"`
	Degree int    `json:"degree"`
	IP     string `json:"ip"`
	Color  string `json:"color"`
	Env    string `json:"env"`
}

// EdgeData is the payload of one graph edge.
type EdgeData struct {
	Source   string `json:"source"`
	Target   string `json:"target"`
	Label    string `json:"label"`
	IsPublic bool   `json:"isPublic"`
	SrcIP    string `json:"srcIp"`
	DstIP    string `json:"dstIp"`
}

// Node and Edge wrap their payloads in a "data" envelope, the exchange
// shape the topology dashboard consumes.
type Node struct {
	Data NodeData `json:"data"`
}

type Edge struct {
	Data EdgeData `json:"data"`
}

// GraphDoc is a filtered view over a topology snapshot.
type GraphDoc struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}
