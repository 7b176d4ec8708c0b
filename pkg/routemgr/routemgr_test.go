package routemgr

import (
	"errors"
	"testing"

	"github.com/DevNewbie1826/loom/pkg/neterr"
	"github.com/DevNewbie1826/loom/pkg/netmsg"
)

func TestUserRoutes(t *testing.T) {
	m := New()
	if err := m.AddRouteByUser(7, 100); err != nil {
		t.Fatalf("add user: %v", err)
	}
	if err := m.AddRouteByUser(7, 200); !errors.Is(err, neterr.LinkRouteExist) {
		t.Fatalf("duplicate user err = %v", err)
	}
	if got := m.FindRouteByUser(7); got != 100 {
		t.Fatalf("find user = %d", got)
	}
	if got := m.FindRouteByUser(8); got != 0 {
		t.Fatalf("unknown user = %d", got)
	}
}

func TestServerRoutes(t *testing.T) {
	m := New()
	if err := m.AddRouteByServer(2, 10, 1, 100); err != nil {
		t.Fatalf("add server: %v", err)
	}
	if err := m.AddRouteByServer(2, 10, 2, 100); err != nil {
		t.Fatalf("add second index: %v", err)
	}
	if err := m.AddRouteByServer(2, 11, 1, 200); err != nil {
		t.Fatalf("add second id: %v", err)
	}
	if err := m.AddRouteByServer(2, 10, 1, 300); !errors.Is(err, neterr.LinkRouteExist) {
		t.Fatalf("duplicate route err = %v", err)
	}
	if got := m.FindRouteByServer(2, 10, 2); got != 100 {
		t.Fatalf("find route = %d", got)
	}
	if got := m.FindRouteByServer(2, 99, 1); got != 0 {
		t.Fatalf("unknown route = %d", got)
	}
	if got := len(m.FindServerTypeRoutes(2)); got != 3 {
		t.Fatalf("type routes = %d", got)
	}
	if got := len(m.FindServerTypeIDRoutes(2, 10)); got != 2 {
		t.Fatalf("type-id routes = %d", got)
	}
	if got := len(m.FindServerTypeIDRoutes(2, 11)); got != 1 {
		t.Fatalf("type-id routes for 11 = %d", got)
	}
}

func TestRemoveRoutePrunesEverything(t *testing.T) {
	m := New()
	if err := m.AddRouteByUser(7, 100); err != nil {
		t.Fatal(err)
	}
	if err := m.AddRouteByUser(9, 100); err != nil {
		t.Fatal(err)
	}
	if err := m.AddRouteByServer(2, 10, 1, 100); err != nil {
		t.Fatal(err)
	}
	if err := m.AddRouteByServer(3, 20, 1, 200); err != nil {
		t.Fatal(err)
	}

	m.RemoveRoute(100)

	if m.FindRouteByUser(7) != 0 || m.FindRouteByUser(9) != 0 {
		t.Fatal("user routes survived removal")
	}
	if m.FindRouteByServer(2, 10, 1) != 0 {
		t.Fatal("server route survived removal")
	}
	if len(m.FindServerTypeRoutes(2)) != 0 || len(m.FindServerTypeIDRoutes(2, 10)) != 0 {
		t.Fatal("prefix indices survived removal")
	}
	// the other link is untouched
	if m.FindRouteByServer(3, 20, 1) != 200 {
		t.Fatal("unrelated route pruned")
	}
	// keys are reusable after removal
	if err := m.AddRouteByUser(7, 300); err != nil {
		t.Fatalf("re-add after removal: %v", err)
	}
}

func TestRouteIDPacking(t *testing.T) {
	routeID := netmsg.MakeRouteID(2, 10, 1)
	if routeID != int64(2)<<48|int64(10)<<16|1 {
		t.Fatalf("route id = %#x", routeID)
	}
}
