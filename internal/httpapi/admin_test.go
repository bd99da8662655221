package httpapi

import (
	"context"
	"net/http"
	"testing"

	"github.com/rmacdonaldsmith/rhizome-go/pkg/routingtable"
)

func TestAdminEndpoints_RequireAdmin(t *testing.T) {
	setup := NewTestServerSetup(t)
	regular := setup.GenerateTestToken(t, "regular-client", false)

	endpoints := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/api/v1/admin/subscriptions"},
		{http.MethodDelete, "/api/v1/admin/subscriptions"},
		{http.MethodGet, "/api/v1/admin/connections"},
		{http.MethodDelete, "/api/v1/admin/connections/c1"},
		{http.MethodGet, "/api/v1/admin/stats"},
	}

	for _, ep := range endpoints {
		t.Run(ep.method+" "+ep.path, func(t *testing.T) {
			resp := setup.Do(t, ep.method, ep.path, "", "")
			if resp.StatusCode != http.StatusUnauthorized {
				t.Errorf("Expected status 401 without token, got %d", resp.StatusCode)
			}

			resp = setup.Do(t, ep.method, ep.path, regular, "")
			if resp.StatusCode != http.StatusForbidden {
				t.Errorf("Expected status 403 for non-admin, got %d", resp.StatusCode)
			}
		})
	}
}

func TestAdminSubscriptions(t *testing.T) {
	setup := NewTestServerSetup(t)
	admin := setup.GenerateTestToken(t, "admin", true)
	ctx := context.Background()

	c1 := routingtable.NewRecorder("c1", routingtable.OSCUDP)
	c2 := routingtable.NewRecorder("c2", routingtable.WebSocket)
	for _, sub := range []struct {
		addr string
		conn routingtable.Connection
	}{{"/", c1}, {"/bla", c1}, {"/bla", c2}} {
		if err := setup.Router.Subscribe(ctx, sub.addr, sub.conn); err != nil {
			t.Fatalf("Failed to subscribe: %v", err)
		}
	}

	t.Run("list", func(t *testing.T) {
		resp := setup.Do(t, http.MethodGet, "/api/v1/admin/subscriptions", admin, "")
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("Expected status 200, got %d", resp.StatusCode)
		}

		var list AdminSubscriptionsResponse
		decodeBody(t, resp, &list)
		if len(list.Subscriptions) != 3 {
			t.Fatalf("Expected 3 subscriptions, got %+v", list.Subscriptions)
		}
		kinds := map[string]bool{}
		for _, sub := range list.Subscriptions {
			kinds[sub.Kind] = true
		}
		if !kinds["osc"] || !kinds["websocket"] {
			t.Errorf("Expected osc and websocket kinds, got %v", kinds)
		}
	})

	t.Run("clear_all", func(t *testing.T) {
		resp := setup.Do(t, http.MethodDelete, "/api/v1/admin/subscriptions", admin, "")
		if resp.StatusCode != http.StatusNoContent {
			t.Fatalf("Expected status 204, got %d", resp.StatusCode)
		}

		subs, err := setup.Router.Subscriptions(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if len(subs) != 0 {
			t.Errorf("Expected no subscriptions, got %v", subs)
		}

		resp = setup.Do(t, http.MethodGet, "/api/v1/admin/subscriptions", admin, "")
		var list AdminSubscriptionsResponse
		decodeBody(t, resp, &list)
		if list.Subscriptions == nil || len(list.Subscriptions) != 0 {
			t.Errorf("Expected an empty list, got %#v", list.Subscriptions)
		}
	})

	t.Run("method_not_allowed", func(t *testing.T) {
		resp := setup.Do(t, http.MethodPost, "/api/v1/admin/subscriptions", admin, `{}`)
		if resp.StatusCode != http.StatusMethodNotAllowed {
			t.Errorf("Expected status 405, got %d", resp.StatusCode)
		}
	})
}

func TestAdminConnections(t *testing.T) {
	setup := NewTestServerSetup(t)
	admin := setup.GenerateTestToken(t, "admin", true)
	ctx := context.Background()

	c1 := routingtable.NewRecorder("c1", routingtable.OSCUDP)
	if err := setup.Router.Subscribe(ctx, "/bla", c1); err != nil {
		t.Fatalf("Failed to subscribe: %v", err)
	}

	_, stream := openStream(t, setup, ctx, "?address=/bla")
	stream.Next(t, ": connected", sseTimeout)

	t.Run("list", func(t *testing.T) {
		resp := setup.Do(t, http.MethodGet, "/api/v1/admin/connections", admin, "")
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("Expected status 200, got %d", resp.StatusCode)
		}

		var list AdminConnectionsResponse
		decodeBody(t, resp, &list)
		if len(list.Connections) != 2 {
			t.Fatalf("Expected 2 connections, got %+v", list.Connections)
		}
		for _, conn := range list.Connections {
			if !conn.Subscribed {
				t.Errorf("Expected %s to be subscribed", conn.ID)
			}
		}
	})

	t.Run("disconnect_unknown", func(t *testing.T) {
		resp := setup.Do(t, http.MethodDelete, "/api/v1/admin/connections/nope", admin, "")
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("Expected status 404, got %d", resp.StatusCode)
		}
	})

	t.Run("disconnect_sse_stream", func(t *testing.T) {
		var sseID string
		for _, conn := range setup.Router.Connections() {
			if conn.Kind == "sse" {
				sseID = conn.ID
			}
		}
		if sseID == "" {
			t.Fatal("Expected a tracked SSE connection")
		}

		resp := setup.Do(t, http.MethodDelete, "/api/v1/admin/connections/"+sseID, admin, "")
		if resp.StatusCode != http.StatusNoContent {
			t.Fatalf("Expected status 204, got %d", resp.StatusCode)
		}

		stream.WaitClosed(t, sseTimeout)
		if n := len(setup.Router.Connections()); n != 1 {
			t.Errorf("Expected 1 remaining connection, got %d", n)
		}
	})

	t.Run("disconnect_osc_peer", func(t *testing.T) {
		resp := setup.Do(t, http.MethodDelete, "/api/v1/admin/connections/c1", admin, "")
		if resp.StatusCode != http.StatusNoContent {
			t.Fatalf("Expected status 204, got %d", resp.StatusCode)
		}

		if _, err := setup.Router.Publish(ctx, "http", "/bla", []any{"after"}); err != nil {
			t.Fatal(err)
		}
		if got := len(c1.Received()); got != 0 {
			t.Errorf("Expected no deliveries after disconnect, got %d", got)
		}
	})
}

func TestAdminGetStats(t *testing.T) {
	setup := NewTestServerSetup(t)
	admin := setup.GenerateTestToken(t, "admin", true)
	ctx := context.Background()

	c1 := routingtable.NewRecorder("c1", routingtable.OSCUDP)
	if err := setup.Router.Subscribe(ctx, "/bla/blo", c1); err != nil {
		t.Fatal(err)
	}
	if _, err := setup.Router.Publish(ctx, "http", "/bla/blo", []any{int32(1)}); err != nil {
		t.Fatal(err)
	}

	resp := setup.Do(t, http.MethodGet, "/api/v1/admin/stats", admin, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", resp.StatusCode)
	}

	var stats AdminStatsResponse
	decodeBody(t, resp, &stats)
	if stats.NodeID != "test-node" {
		t.Errorf("Expected node ID test-node, got %s", stats.NodeID)
	}
	if stats.Connections != 1 || stats.ConnectionsByKind["osc"] != 1 {
		t.Errorf("Unexpected connection counts: %+v", stats)
	}
	if stats.Subscriptions != 1 || stats.Subscribers != 1 {
		t.Errorf("Unexpected subscription counts: %+v", stats)
	}
	if stats.History.TotalEntries != 1 || stats.History.AddressCounts["/bla/blo"] != 1 {
		t.Errorf("Unexpected history statistics: %+v", stats.History)
	}
}
