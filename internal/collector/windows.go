package collector

import "time"

// windowsAdapter decodes the payload produced by the PowerShell based
// Windows collector. That agent quotes numbers and collapses
// one-element lists into bare objects, which decodeReport tolerates.
type windowsAdapter struct{}

func (windowsAdapter) Source() string   { return "windows" }
func (windowsAdapter) ItemName() string { return "windows-network-connections" }

func (a windowsAdapter) Parse(host string, capturedAt time.Time, raw []byte) (Report, error) {
	return decodeReport(host, a.Source(), capturedAt, raw)
}

func init() {
	Register(windowsAdapter{})
}
