package routingtable

import (
	"context"
	"testing"

	"github.com/rmacdonaldsmith/rhizome-go/pkg/routingtable"
)

func TestInMemoryRoutingTable_PrefixSubscribe(t *testing.T) {
	tests := []struct {
		name          string
		subscribeAt   string
		publishAt     string
		shouldReceive bool
	}{
		{"root receives everything", "/", "/blo/bli/x", true},
		{"exact match", "/blo/bli", "/blo/bli", true},
		{"parent receives child", "/blo", "/blo/bli", true},
		{"ancestor receives deep descendant", "/blo", "/blo/bli/x/y", true},
		{"trailing slash on subscribe", "/blo/", "/blo/bli", true},
		{"trailing slash on publish", "/blo/bli", "/blo/bli/", true},
		{"child does not receive parent", "/blo/bli", "/blo", false},
		{"sibling does not receive", "/blo/bla", "/blo/bli", false},
		{"segment prefix is not a path prefix", "/bl", "/blo", false},
		{"case sensitive", "/Blo", "/blo", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rt := NewInMemoryRoutingTable()
			defer rt.Close()
			ctx := context.Background()

			conn := routingtable.NewRecorder("c", routingtable.LocalConnection)
			if err := rt.Subscribe(ctx, tt.subscribeAt, conn); err != nil {
				t.Fatalf("Subscribe failed: %v", err)
			}
			if _, err := rt.Publish(ctx, tt.publishAt, []any{"x"}); err != nil {
				t.Fatalf("Publish failed: %v", err)
			}

			got := len(conn.Received()) == 1
			if got != tt.shouldReceive {
				t.Errorf("subscribe %q, publish %q: received=%v, want %v", tt.subscribeAt, tt.publishAt, got, tt.shouldReceive)
			}
		})
	}
}

func TestInMemoryRoutingTable_FullAddressDelivery(t *testing.T) {
	rt := NewInMemoryRoutingTable()
	defer rt.Close()
	ctx := context.Background()

	conn := routingtable.NewRecorder("c", routingtable.LocalConnection)
	rt.Subscribe(ctx, "/blo", conn)

	rt.Publish(ctx, "/blo/bli/x/", nil)

	msgs := conn.Received()
	if len(msgs) != 1 {
		t.Fatalf("Expected 1 message, got %d", len(msgs))
	}
	if msgs[0].Address != "/blo/bli/x" {
		t.Errorf("Expected the full published address /blo/bli/x, got %s", msgs[0].Address)
	}
}
