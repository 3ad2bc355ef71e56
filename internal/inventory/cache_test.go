package inventory

import (
	"context"
	"errors"
	"testing"

	"NetBlueprint/internal/netbox"
)

type fakeSource struct {
	vms     []netbox.VM
	svcs    []netbox.Service
	addrs   []netbox.IPAddress
	vmErr   error
	svcErr  error
	addrErr error
}

func (f *fakeSource) VirtualMachines(ctx context.Context) ([]netbox.VM, error) {
	return f.vms, f.vmErr
}

func (f *fakeSource) Services(ctx context.Context) ([]netbox.Service, error) {
	return f.svcs, f.svcErr
}

func (f *fakeSource) IPAddresses(ctx context.Context) ([]netbox.IPAddress, error) {
	return f.addrs, f.addrErr
}

func testSource() *fakeSource {
	return &fakeSource{
		vms: []netbox.VM{
			{Name: "web1", Display: "web1.example.se", Role: "prod-web", PrimaryIP: "10.0.0.1", VCPUs: 2},
			{Name: "db1", PrimaryIP: "10.0.0.7"},
		},
		svcs: []netbox.Service{
			{Name: "https", Protocol: "tcp", Ports: []int{443}, Host: "web1"},
			{Name: "postgres", Protocol: "tcp", Ports: []int{5432}, Host: "db1"},
			{Name: "orphan", Protocol: "tcp", Ports: []int{9}, Host: ""},
		},
		addrs: []netbox.IPAddress{
			{Address: "10.0.0.1", Host: "web1-iface"},
			{Address: "10.5.5.5", DNSName: "storage.example.se"},
		},
	}
}

func TestRefreshBuildsSnapshot(t *testing.T) {
	cache := NewCache(testSource())
	if cache.Ready() {
		t.Fatal("cache must not be ready before first refresh")
	}

	if err := cache.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if !cache.Ready() {
		t.Fatal("cache not ready after refresh")
	}

	rec, ok := cache.Lookup("web1")
	if !ok {
		t.Fatal("web1 not found")
	}
	if rec.VCPUs != 2 || rec.Role != "prod-web" {
		t.Errorf("unexpected record: %+v", rec)
	}
	if len(rec.Services) != 1 || rec.Services[0].Ports[0] != 443 {
		t.Errorf("services not attached: %+v", rec.Services)
	}

	// Display names resolve through the alias index.
	if _, ok := cache.Lookup("web1.example.se"); !ok {
		t.Error("lookup by display name failed")
	}
	if _, ok := cache.Lookup("nope"); ok {
		t.Error("unexpected hit for unknown host")
	}
}

func TestResolveIPPrecedence(t *testing.T) {
	cache := NewCache(testSource())
	if err := cache.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}

	// The VM primary-IP mapping wins over the address table row.
	if got := cache.ResolveIP("10.0.0.1"); got != "web1" {
		t.Errorf("expected web1, got %q", got)
	}
	// Addresses without an assignment fall back to their dns name.
	if got := cache.ResolveIP("10.5.5.5"); got != "storage.example.se" {
		t.Errorf("expected dns fallback, got %q", got)
	}
	if got := cache.ResolveIP("203.0.113.9"); got != "" {
		t.Errorf("expected unknown ip to resolve empty, got %q", got)
	}
}

func TestRefreshKeepsOldSnapshotOnFailure(t *testing.T) {
	src := testSource()
	cache := NewCache(src)
	if err := cache.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	before := cache.Current()

	src.svcErr = errors.New("netbox down")
	if err := cache.Refresh(context.Background()); err == nil {
		t.Fatal("expected refresh error")
	}
	if cache.Current() != before {
		t.Error("snapshot replaced despite failed refresh")
	}
}

func TestClassifyEnv(t *testing.T) {
	cases := []struct {
		parts []string
		want  string
	}{
		{[]string{"web-prod-01"}, "prod"},
		{[]string{"app1", "prd-app"}, "prod"},
		{[]string{"dev-runner"}, "dev"},
		{[]string{"tstdb02"}, "test"},
		{[]string{"qa-gateway"}, "qa"},
		{[]string{"storage9", "backup"}, "unknown"},
		// prod outranks the dev substring in the tag list
		{[]string{"prodweb", "devops"}, "prod"},
	}
	for _, c := range cases {
		if got := ClassifyEnv(c.parts...); got != c.want {
			t.Errorf("ClassifyEnv(%v) = %q, want %q", c.parts, got, c.want)
		}
	}
}
