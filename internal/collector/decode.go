package collector

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"NetBlueprint/internal/model"
)

// flexInt decodes a JSON number that some collectors emit as a quoted
// string ("443") or as a float (443.0).
type flexInt int

func (f *flexInt) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*f = 0
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			*f = 0
			return nil
		}
		n, err := strconv.Atoi(s)
		if err != nil {
			return fmt.Errorf("invalid numeric value %q: %w", s, err)
		}
		*f = flexInt(n)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	v, err := n.Int64()
	if err != nil {
		fv, ferr := n.Float64()
		if ferr != nil {
			return err
		}
		v = int64(fv)
	}
	*f = flexInt(v)
	return nil
}

// portList decodes an array of ports, tolerating a bare scalar where an
// agent collapsed a one-element list.
type portList []int

func (p *portList) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*p = nil
		return nil
	}
	if b[0] == '[' {
		var vals []flexInt
		if err := json.Unmarshal(b, &vals); err != nil {
			return err
		}
		out := make([]int, len(vals))
		for i, v := range vals {
			out[i] = int(v)
		}
		*p = out
		return nil
	}
	var v flexInt
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*p = []int{int(v)}
	return nil
}

type rawConnection struct {
	LocalIP    string  `json:"localip"`
	LocalPort  flexInt `json:"localport"`
	RemoteIP   string  `json:"remoteip"`
	RemotePort flexInt `json:"remoteport"`
	Count      flexInt `json:"count"`
}

// connectionList tolerates a single object where an agent collapsed a
// one-element list.
type connectionList []rawConnection

func (l *connectionList) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*l = nil
		return nil
	}
	if b[0] == '{' {
		var one rawConnection
		if err := json.Unmarshal(b, &one); err != nil {
			return err
		}
		*l = connectionList{one}
		return nil
	}
	var arr []rawConnection
	if err := json.Unmarshal(b, &arr); err != nil {
		return err
	}
	*l = arr
	return nil
}

type rawReport struct {
	Timestamp string         `json:"timestamp"`
	OpenPorts portList       `json:"openports"`
	Incoming  connectionList `json:"incomingconnections"`
	Outgoing  connectionList `json:"outgoingconnections"`
}

// decodeReport turns one raw collector payload into a Report. Entries
// without both endpoint addresses are dropped; a missing count means
// the tuple was observed once.
func decodeReport(host, source string, capturedAt time.Time, raw []byte) (Report, error) {
	var rr rawReport
	if err := json.Unmarshal(raw, &rr); err != nil {
		return Report{}, fmt.Errorf("failed to decode %s report from host %s: %w", source, host, err)
	}

	rep := Report{
		Host:       host,
		Source:     source,
		CapturedAt: capturedAt,
		OpenPorts:  rr.OpenPorts,
	}
	for _, c := range rr.Incoming {
		lip, rip := strings.TrimSpace(c.LocalIP), strings.TrimSpace(c.RemoteIP)
		if lip == "" || rip == "" {
			continue
		}
		rep.Connections = append(rep.Connections, model.ConnectionRecord{
			LocalHost:     host,
			LocalIP:       lip,
			RemoteIP:      rip,
			Port:          int(c.LocalPort),
			Direction:     model.DirectionIncoming,
			ObservedCount: orOne(int(c.Count)),
			LastSeen:      capturedAt,
		})
	}
	for _, c := range rr.Outgoing {
		lip, rip := strings.TrimSpace(c.LocalIP), strings.TrimSpace(c.RemoteIP)
		if lip == "" || rip == "" {
			continue
		}
		rep.Connections = append(rep.Connections, model.ConnectionRecord{
			LocalHost:     host,
			LocalIP:       lip,
			RemoteIP:      rip,
			Port:          int(c.RemotePort),
			Direction:     model.DirectionOutgoing,
			ObservedCount: orOne(int(c.Count)),
			LastSeen:      capturedAt,
		})
	}
	return rep, nil
}

func orOne(count int) int {
	if count <= 0 {
		return 1
	}
	return count
}
