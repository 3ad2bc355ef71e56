package zabbix

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"NetBlueprint/internal/config"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := NewClient(config.ZabbixConfig{URL: srv.URL, Token: "test-token", Timeout: "5s"})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	return client, srv
}

func TestHostsParsesInterfaces(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("bad request body: %v", err)
		}
		if req["method"] != "host.get" {
			t.Errorf("unexpected method %v", req["method"])
		}
		if req["auth"] != "test-token" {
			t.Errorf("auth token not sent, got %v", req["auth"])
		}
		fmt.Fprint(w, `{"jsonrpc":"2.0","result":[
			{"host":"web1","interfaces":[{"ip":"10.0.0.1"},{"ip":""}]},
			{"host":"db1","interfaces":[{"ip":"10.0.0.7"}]}
		],"id":1}`)
	})

	hosts, err := client.Hosts(context.Background())
	if err != nil {
		t.Fatalf("Hosts failed: %v", err)
	}
	if len(hosts) != 2 {
		t.Fatalf("expected 2 hosts, got %d", len(hosts))
	}
	if hosts[0].Name != "web1" || len(hosts[0].IPs) != 1 || hosts[0].IPs[0] != "10.0.0.1" {
		t.Errorf("unexpected first host: %+v", hosts[0])
	}
}

func TestConnectionItemsSkipsHostless(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"jsonrpc":"2.0","result":[
			{"itemid":"101","name":"linux-network-connections","hosts":[{"host":"web1"}]},
			{"itemid":"102","name":"windows-network-connections","hosts":[]}
		],"id":1}`)
	})

	items, err := client.ConnectionItems(context.Background(), []string{"linux-network-connections", "windows-network-connections"})
	if err != nil {
		t.Fatalf("ConnectionItems failed: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("expected 1 item, got %d", len(items))
	}
	if items[0].ItemID != "101" || items[0].Host != "web1" {
		t.Errorf("unexpected item: %+v", items[0])
	}
}

func TestHistoryParsesStringClocks(t *testing.T) {
	var gotParams map[string]any
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		json.NewDecoder(r.Body).Decode(&req)
		gotParams, _ = req["params"].(map[string]any)
		fmt.Fprint(w, `{"jsonrpc":"2.0","result":[
			{"itemid":"101","clock":"1755648000","value":"{}","ns":"0"},
			{"itemid":"101","clock":"garbage","value":"{}","ns":"0"},
			{"itemid":"101","clock":"1755649000","value":"{\"openports\":[]}","ns":"0"}
		],"id":1}`)
	})

	from := time.Unix(1755600000, 0)
	till := time.Unix(1755686399, 0)
	samples, err := client.History(context.Background(), "101", from, till)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}

	// The row with an unparsable clock is dropped.
	if len(samples) != 2 {
		t.Fatalf("expected 2 samples, got %d", len(samples))
	}
	if samples[0].Clock != 1755648000 || samples[1].Clock != 1755649000 {
		t.Errorf("unexpected clocks: %+v", samples)
	}

	if gotParams["history"] != float64(4) {
		t.Errorf("expected text history type 4, got %v", gotParams["history"])
	}
	if gotParams["time_from"] != float64(from.Unix()) || gotParams["time_till"] != float64(till.Unix()) {
		t.Errorf("window not forwarded: %v", gotParams)
	}
}

func TestAPIErrorIsSurfaced(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"jsonrpc":"2.0","error":{"code":-32602,"message":"Invalid params.","data":"Session terminated."},"id":1}`)
	})

	_, err := client.Hosts(context.Background())
	if err == nil {
		t.Fatal("expected error from api error object")
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError in chain, got %v", err)
	}
	if apiErr.Code != -32602 {
		t.Errorf("unexpected code %d", apiErr.Code)
	}
}
