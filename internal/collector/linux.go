package collector

import "time"

// linuxAdapter decodes the payload produced by the ss/netstat based
// Linux collector script.
type linuxAdapter struct{}

func (linuxAdapter) Source() string   { return "linux" }
func (linuxAdapter) ItemName() string { return "linux-network-connections" }

func (a linuxAdapter) Parse(host string, capturedAt time.Time, raw []byte) (Report, error) {
	return decodeReport(host, a.Source(), capturedAt, raw)
}

func init() {
	Register(linuxAdapter{})
}
