package netbox

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"NetBlueprint/internal/config"
)

// Client talks to the NetBox REST API.
type Client struct {
	baseURL  string
	token    string
	pageSize int
	httpc    *http.Client
}

// NewClient creates a client from the netbox section of the config.
func NewClient(cfg config.NetBoxConfig) (*Client, error) {
	timeout, err := time.ParseDuration(cfg.Timeout)
	if err != nil {
		return nil, fmt.Errorf("invalid netbox timeout: %w", err)
	}
	return &Client{
		baseURL:  strings.TrimRight(cfg.URL, "/"),
		token:    cfg.Token,
		pageSize: cfg.PageSize,
		httpc:    &http.Client{Timeout: timeout},
	}, nil
}

type page struct {
	Count   int               `json:"count"`
	Next    *string           `json:"next"`
	Results []json.RawMessage `json:"results"`
}

func (c *Client) get(ctx context.Context, rawURL string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("failed to build netbox request: %w", err)
	}
	req.Header.Set("Authorization", "Token "+c.token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("netbox request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("netbox returned status %d for %s", resp.StatusCode, rawURL)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode netbox response: %w", err)
	}
	return nil
}

// paginate walks a list endpoint, following next links until exhausted.
func (c *Client) paginate(ctx context.Context, path string, each func(json.RawMessage) error) error {
	next := fmt.Sprintf("%s%s?limit=%d", c.baseURL, path, c.pageSize)
	for next != "" {
		var p page
		if err := c.get(ctx, next, &p); err != nil {
			return err
		}
		for _, raw := range p.Results {
			if err := each(raw); err != nil {
				return err
			}
		}
		if p.Next == nil || *p.Next == "" {
			break
		}
		next = *p.Next
	}
	return nil
}

type named struct {
	Name string `json:"name"`
}

// VM is the subset of a NetBox virtual machine the enrichment cache needs.
type VM struct {
	Name        string
	Display     string
	VCPUs       int
	MemoryMB    int
	DiskGB      int
	OS          string
	Role        string
	Tags        []string
	PrimaryIP   string
	OSEndOfLife string
	PatchWindow string
	HAPeers     []string
}

// VirtualMachines returns all virtual machines.
func (c *Client) VirtualMachines(ctx context.Context) ([]VM, error) {
	var out []VM
	err := c.paginate(ctx, "/api/virtualization/virtual-machines/", func(raw json.RawMessage) error {
		var r struct {
			Name       string   `json:"name"`
			Display    string   `json:"display"`
			VCPUs      *float64 `json:"vcpus"`
			Memory     *int     `json:"memory"`
			Disk       *int     `json:"disk"`
			Platform   *named   `json:"platform"`
			Role       *named   `json:"role"`
			Tags       []named  `json:"tags"`
			PrimaryIP4 *struct {
				Address string `json:"address"`
			} `json:"primary_ip4"`
			CustomFields map[string]any `json:"custom_fields"`
		}
		if err := json.Unmarshal(raw, &r); err != nil {
			return fmt.Errorf("failed to decode virtual machine: %w", err)
		}

		vm := VM{
			Name:        r.Name,
			Display:     r.Display,
			OSEndOfLife: customString(r.CustomFields, "os_eol"),
			PatchWindow: customString(r.CustomFields, "patch_window"),
			HAPeers:     customStrings(r.CustomFields, "ha_peers"),
		}
		if r.VCPUs != nil {
			vm.VCPUs = int(*r.VCPUs)
		}
		if r.Memory != nil {
			vm.MemoryMB = *r.Memory
		}
		if r.Disk != nil {
			vm.DiskGB = *r.Disk
		}
		if r.Platform != nil {
			vm.OS = r.Platform.Name
		}
		if r.Role != nil {
			vm.Role = r.Role.Name
		}
		for _, tag := range r.Tags {
			vm.Tags = append(vm.Tags, tag.Name)
		}
		if r.PrimaryIP4 != nil {
			vm.PrimaryIP = stripPrefix(r.PrimaryIP4.Address)
		}
		out = append(out, vm)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Service is one service binding from the IPAM service table.
type Service struct {
	Name     string
	Protocol string
	Ports    []int
	Host     string
}

// Services returns all services with their owning host names.
func (c *Client) Services(ctx context.Context) ([]Service, error) {
	var out []Service
	err := c.paginate(ctx, "/api/ipam/services/", func(raw json.RawMessage) error {
		var r struct {
			Name           string          `json:"name"`
			Protocol       json.RawMessage `json:"protocol"`
			Ports          []int           `json:"ports"`
			VirtualMachine *named          `json:"virtual_machine"`
			Device         *named          `json:"device"`
		}
		if err := json.Unmarshal(raw, &r); err != nil {
			return fmt.Errorf("failed to decode service: %w", err)
		}

		svc := Service{Name: r.Name, Protocol: decodeProtocol(r.Protocol), Ports: r.Ports}
		switch {
		case r.VirtualMachine != nil:
			svc.Host = r.VirtualMachine.Name
		case r.Device != nil:
			svc.Host = r.Device.Name
		}
		out = append(out, svc)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// IPAddress is one address row with its assignment, used to resolve
// remote peers that Zabbix does not monitor.
type IPAddress struct {
	Address string
	DNSName string
	Host    string
}

// IPAddresses returns all registered addresses.
func (c *Client) IPAddresses(ctx context.Context) ([]IPAddress, error) {
	var out []IPAddress
	err := c.paginate(ctx, "/api/ipam/ip-addresses/", func(raw json.RawMessage) error {
		var r struct {
			Address        string `json:"address"`
			DNSName        string `json:"dns_name"`
			AssignedObject *struct {
				VirtualMachine *named `json:"virtual_machine"`
				Device         *named `json:"device"`
			} `json:"assigned_object"`
		}
		if err := json.Unmarshal(raw, &r); err != nil {
			return fmt.Errorf("failed to decode ip address: %w", err)
		}

		addr := IPAddress{Address: stripPrefix(r.Address), DNSName: r.DNSName}
		if r.AssignedObject != nil {
			switch {
			case r.AssignedObject.VirtualMachine != nil:
				addr.Host = r.AssignedObject.VirtualMachine.Name
			case r.AssignedObject.Device != nil:
				addr.Host = r.AssignedObject.Device.Name
			}
		}
		out = append(out, addr)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// decodeProtocol accepts both the {"value":"tcp"} object form and the
// bare string older NetBox versions emit.
func decodeProtocol(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var obj struct {
		Value string `json:"value"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil && obj.Value != "" {
		return obj.Value
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}

// stripPrefix removes the CIDR suffix from a NetBox address value.
func stripPrefix(address string) string {
	if i := strings.IndexByte(address, '/'); i >= 0 {
		return address[:i]
	}
	return address
}

func customString(cf map[string]any, key string) string {
	if v, ok := cf[key].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

func customStrings(cf map[string]any, key string) []string {
	var out []string
	switch v := cf[key].(type) {
	case string:
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
				out = append(out, strings.TrimSpace(s))
			}
		}
	}
	return out
}
