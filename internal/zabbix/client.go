package zabbix

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"NetBlueprint/internal/config"
	"NetBlueprint/internal/model"
)

// historyTypeText selects the text value type in history.get requests.
const historyTypeText = 4

// historyFetchLimit caps one history.get response. A single item rarely
// produces more than a few hundred samples per day, so one day never
// hits this.
const historyFetchLimit = 100000

// Client talks to the Zabbix JSON-RPC API.
type Client struct {
	url   string
	token string
	httpc *http.Client
}

// NewClient creates a client from the zabbix section of the config.
func NewClient(cfg config.ZabbixConfig) (*Client, error) {
	timeout, err := time.ParseDuration(cfg.Timeout)
	if err != nil {
		return nil, fmt.Errorf("invalid zabbix timeout: %w", err)
	}
	return &Client{
		url:   cfg.URL,
		token: cfg.Token,
		httpc: &http.Client{Timeout: timeout},
	}, nil
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
	Auth    string `json:"auth,omitempty"`
	ID      int    `json:"id"`
}

// APIError is the error object of a JSON-RPC response.
type APIError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    string `json:"data"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("zabbix api error %d: %s %s", e.Code, e.Message, e.Data)
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *APIError       `json:"error"`
}

func (c *Client) call(ctx context.Context, method string, params, result any) error {
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		Auth:    c.token,
		ID:      1,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal %s request: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("zabbix %s request failed: %w", method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("zabbix %s returned status %d", method, resp.StatusCode)
	}

	var rr rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rr); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", method, err)
	}
	if rr.Error != nil {
		return fmt.Errorf("zabbix %s: %w", method, rr.Error)
	}
	if result != nil {
		if err := json.Unmarshal(rr.Result, result); err != nil {
			return fmt.Errorf("failed to decode %s result: %w", method, err)
		}
	}
	return nil
}

// Host is one monitored host with its interface addresses.
type Host struct {
	Name string
	IPs  []string
}

// Hosts returns all enabled hosts and their interface IPs.
func (c *Client) Hosts(ctx context.Context) ([]Host, error) {
	params := map[string]any{
		"output":           []string{"host"},
		"selectInterfaces": []string{"ip"},
		"filter":           map[string]any{"status": "0"},
	}
	var rows []struct {
		Host       string `json:"host"`
		Interfaces []struct {
			IP string `json:"ip"`
		} `json:"interfaces"`
	}
	if err := c.call(ctx, "host.get", params, &rows); err != nil {
		return nil, err
	}

	hosts := make([]Host, 0, len(rows))
	for _, r := range rows {
		h := Host{Name: r.Host}
		for _, iface := range r.Interfaces {
			if iface.IP != "" {
				h.IPs = append(h.IPs, iface.IP)
			}
		}
		hosts = append(hosts, h)
	}
	return hosts, nil
}

// Item is one monitored item that carries collector payloads.
type Item struct {
	ItemID string
	Name   string
	Host   string
}

// ConnectionItems returns the monitored items whose names match the
// registered collector item names, one per reporting host.
func (c *Client) ConnectionItems(ctx context.Context, names []string) ([]Item, error) {
	params := map[string]any{
		"output":      []string{"itemid", "name"},
		"selectHosts": []string{"host"},
		"filter":      map[string]any{"name": names},
		"monitored":   true,
	}
	var rows []struct {
		ItemID string `json:"itemid"`
		Name   string `json:"name"`
		Hosts  []struct {
			Host string `json:"host"`
		} `json:"hosts"`
	}
	if err := c.call(ctx, "item.get", params, &rows); err != nil {
		return nil, err
	}

	items := make([]Item, 0, len(rows))
	for _, r := range rows {
		if len(r.Hosts) == 0 {
			continue
		}
		items = append(items, Item{ItemID: r.ItemID, Name: r.Name, Host: r.Hosts[0].Host})
	}
	return items, nil
}

// History returns the raw text samples of one item between from and
// till, inclusive on both ends, ordered by clock. Zabbix encodes
// numeric fields as strings; rows with unparsable clocks are dropped.
func (c *Client) History(ctx context.Context, itemID string, from, till time.Time) ([]model.HistorySample, error) {
	params := map[string]any{
		"output":    "extend",
		"history":   historyTypeText,
		"itemids":   []string{itemID},
		"time_from": from.Unix(),
		"time_till": till.Unix(),
		"sortfield": "clock",
		"sortorder": "ASC",
		"limit":     historyFetchLimit,
	}
	var rows []struct {
		ItemID string `json:"itemid"`
		Clock  string `json:"clock"`
		Value  string `json:"value"`
	}
	if err := c.call(ctx, "history.get", params, &rows); err != nil {
		return nil, err
	}

	samples := make([]model.HistorySample, 0, len(rows))
	for _, r := range rows {
		clock, err := strconv.ParseInt(r.Clock, 10, 64)
		if err != nil {
			continue
		}
		samples = append(samples, model.HistorySample{ItemID: r.ItemID, Clock: clock, Value: r.Value})
	}
	return samples, nil
}
