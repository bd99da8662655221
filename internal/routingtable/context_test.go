package routingtable

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rmacdonaldsmith/rhizome-go/pkg/routingtable"
)

// blockingConn never completes a send until its context is done
func blockingConn(id string) routingtable.Connection {
	return routingtable.NewConnectionFunc(id, routingtable.WebSocket, func(ctx context.Context, addr string, args []any) error {
		<-ctx.Done()
		return ctx.Err()
	})
}

func TestInMemoryRoutingTable_FailingSubscriberIsIsolated(t *testing.T) {
	rt := NewInMemoryRoutingTable()
	defer rt.Close()
	ctx := context.Background()

	before := routingtable.NewRecorder("before", routingtable.LocalConnection)
	broken := routingtable.NewRecorder("broken", routingtable.LocalConnection)
	after := routingtable.NewRecorder("after", routingtable.LocalConnection)
	broken.FailWith(errors.New("socket closed"))

	rt.Subscribe(ctx, "/a", before)
	rt.Subscribe(ctx, "/a", broken)
	rt.Subscribe(ctx, "/a", after)

	result, err := rt.Publish(ctx, "/a", nil)
	if err != nil {
		t.Fatalf("Publish must not surface delivery failures, got %v", err)
	}
	if result.Delivered != 2 || result.Failed != 1 {
		t.Fatalf("Expected 2 delivered / 1 failed, got %+v", result)
	}
	if len(before.Received()) != 1 || len(after.Received()) != 1 {
		t.Error("Expected healthy subscribers on both sides of the failure to receive")
	}
}

func TestInMemoryRoutingTable_SlowSubscriberTimesOut(t *testing.T) {
	rt := NewInMemoryRoutingTable(WithSendTimeout(20 * time.Millisecond))
	defer rt.Close()
	ctx := context.Background()

	healthy := routingtable.NewRecorder("healthy", routingtable.LocalConnection)
	rt.Subscribe(ctx, "/a", blockingConn("stuck"))
	rt.Subscribe(ctx, "/a", healthy)

	done := make(chan routingtable.PublishResult, 1)
	go func() {
		result, _ := rt.Publish(ctx, "/a", nil)
		done <- result
	}()

	select {
	case result := <-done:
		if result.Failed != 1 || result.Delivered != 1 {
			t.Fatalf("Expected 1 delivered / 1 failed, got %+v", result)
		}
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a stuck subscriber")
	}
}

func TestInMemoryRoutingTable_ContextCancelled(t *testing.T) {
	rt := NewInMemoryRoutingTable()
	defer rt.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	conn := routingtable.NewRecorder("client-1", routingtable.LocalConnection)
	if err := rt.Subscribe(ctx, "/a", conn); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled from Subscribe, got %v", err)
	}
	if _, err := rt.GetSubscribers(ctx, "/a"); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled from GetSubscribers, got %v", err)
	}
	if err := rt.ClearAll(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled from ClearAll, got %v", err)
	}
}

func TestInMemoryRoutingTable_SnapshotSurvivesConcurrentUnsubscribe(t *testing.T) {
	rt := NewInMemoryRoutingTable()
	defer rt.Close()
	ctx := context.Background()

	late := routingtable.NewRecorder("late", routingtable.LocalConnection)
	first := routingtable.NewConnectionFunc("first", routingtable.LocalConnection, func(ctx context.Context, addr string, args []any) error {
		// Unsubscribing mid-dispatch must not disturb the in-flight iteration
		return rt.UnsubscribeAll(ctx, late)
	})

	rt.Subscribe(ctx, "/a", first)
	rt.Subscribe(ctx, "/a", late)

	result, err := rt.Publish(ctx, "/a", nil)
	if err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if result.Delivered != 2 {
		t.Fatalf("Expected the snapshot to reach both subscribers, got %+v", result)
	}

	rt.Publish(ctx, "/a", nil)
	if got := len(late.Received()); got != 1 {
		t.Errorf("Expected no delivery after unsubscribe, got %d messages", got)
	}
}

type swapResolver struct {
	from, to routingtable.Connection
}

func (s swapResolver) ResolveTarget(conn routingtable.Connection, addr string, args []any) (routingtable.Connection, []any) {
	if conn == s.from {
		return s.to, append([]any{"redirected"}, args...)
	}
	return conn, args
}

func TestInMemoryRoutingTable_TargetResolver(t *testing.T) {
	paired := routingtable.NewRecorder("paired", routingtable.LocalConnection)
	blob := routingtable.NewRecorder("blob", routingtable.BlobTransport)
	plain := routingtable.NewRecorder("plain", routingtable.LocalConnection)

	rt := NewInMemoryRoutingTable(WithTargetResolver(swapResolver{from: paired, to: blob}))
	defer rt.Close()
	ctx := context.Background()

	rt.Subscribe(ctx, "/blo", paired)
	rt.Subscribe(ctx, "/blo", plain)

	rt.Publish(ctx, "/blo", []any{int32(7)})

	if len(paired.Received()) != 0 {
		t.Error("Expected the paired connection to be bypassed")
	}
	msgs := blob.Received()
	if len(msgs) != 1 || msgs[0].Address != "/blo" || len(msgs[0].Args) != 2 || msgs[0].Args[0] != "redirected" {
		t.Errorf("Expected redirected message on blob connection, got %+v", msgs)
	}
	if len(plain.Received()) != 1 {
		t.Error("Expected the unpaired subscriber to receive inline")
	}
}
