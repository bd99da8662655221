package routingtable

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/rmacdonaldsmith/rhizome-go/internal/metrics"
	"github.com/rmacdonaldsmith/rhizome-go/pkg/address"
	"github.com/rmacdonaldsmith/rhizome-go/pkg/routingtable"
)

// DefaultSendTimeout bounds a single subscriber send during publish
const DefaultSendTimeout = 2 * time.Second

// Option configures an InMemoryRoutingTable
type Option func(*InMemoryRoutingTable)

// WithSendTimeout sets the per-subscriber send timeout. Non-positive values
// keep the default.
func WithSendTimeout(d time.Duration) Option {
	return func(rt *InMemoryRoutingTable) {
		if d > 0 {
			rt.sendTimeout = d
		}
	}
}

// WithTargetResolver installs a hook that picks the delivery target for each
// subscriber at dispatch time.
func WithTargetResolver(resolver routingtable.TargetResolver) Option {
	return func(rt *InMemoryRoutingTable) {
		rt.resolver = resolver
	}
}

// InMemoryRoutingTable implements routingtable.RoutingTable over a namespace
// tree guarded by a single RWMutex. Publish snapshots the subscribers under
// the read lock and sends after releasing it.
type InMemoryRoutingTable struct {
	mu          sync.RWMutex
	tree        *nsTree
	memberships map[routingtable.Connection]int
	pairs       int
	closed      bool

	sendTimeout time.Duration
	resolver    routingtable.TargetResolver
}

// NewInMemoryRoutingTable creates an empty routing table
func NewInMemoryRoutingTable(opts ...Option) *InMemoryRoutingTable {
	rt := &InMemoryRoutingTable{
		tree:        newNSTree(),
		memberships: make(map[routingtable.Connection]int),
		sendTimeout: DefaultSendTimeout,
	}
	for _, opt := range opts {
		opt(rt)
	}
	return rt
}

// Publish delivers (addr, args) to every subscriber on the path from the root
// to addr. Delivery failures are counted, never returned.
func (rt *InMemoryRoutingTable) Publish(ctx context.Context, addr string, args []any) (routingtable.PublishResult, error) {
	var result routingtable.PublishResult

	target, err := address.Parse(addr)
	if err != nil {
		return result, err
	}

	snapshot, err := rt.collect(target)
	if err != nil {
		return result, err
	}
	if len(snapshot) == 0 {
		return result, nil
	}

	start := time.Now()
	published := target.String()
	for _, conn := range snapshot {
		dest, sendArgs := conn, args
		if rt.resolver != nil {
			dest, sendArgs = rt.resolver.ResolveTarget(conn, published, args)
		}

		if err := rt.deliver(ctx, dest, published, sendArgs); err != nil {
			result.Failed++
			metrics.Deliveries.With(dest.Kind().String(), metrics.ResultFailed).Inc()
			log.Debug().
				Err(err).
				Str("address", published).
				Str("connection", dest.ID()).
				Str("kind", dest.Kind().String()).
				Msg("Delivery failed")
			continue
		}
		result.Delivered++
		metrics.Deliveries.With(dest.Kind().String(), metrics.ResultOK).Inc()
	}
	metrics.PublishSeconds.Observe(time.Since(start).Seconds())

	return result, nil
}

func (rt *InMemoryRoutingTable) deliver(ctx context.Context, conn routingtable.Connection, addr string, args []any) error {
	sendCtx, cancel := context.WithTimeout(ctx, rt.sendTimeout)
	defer cancel()

	if err := conn.Send(sendCtx, addr, args); err != nil {
		return fmt.Errorf("%w: %s: %v", routingtable.ErrDeliveryFailure, conn.ID(), err)
	}
	return nil
}

// collect snapshots the subscribers a publish at addr would reach
func (rt *InMemoryRoutingTable) collect(addr address.Address) ([]routingtable.Connection, error) {
	rt.mu.RLock()
	defer rt.mu.RUnlock()

	if rt.closed {
		return nil, routingtable.ErrClosed
	}

	var snapshot []routingtable.Connection
	rt.tree.forEachOnPath(addr, func(n *nsNode) {
		snapshot = n.subscribers.appendTo(snapshot)
	})
	return snapshot, nil
}

// Subscribe registers conn at addr. Subscribing twice is a no-op.
func (rt *InMemoryRoutingTable) Subscribe(ctx context.Context, addr string, conn routingtable.Connection) error {
	if conn == nil {
		return routingtable.ErrNilConnection
	}
	target, err := address.Parse(addr)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	rt.mu.Lock()
	defer rt.mu.Unlock()

	if rt.closed {
		return routingtable.ErrClosed
	}

	node := rt.tree.getOrCreate(target)
	if node.subscribers.add(conn) {
		rt.memberships[conn]++
		rt.pairs++
		metrics.Subscriptions.Set(float64(rt.pairs))
	}
	return nil
}

// UnsubscribeAll removes conn from every address in the tree
func (rt *InMemoryRoutingTable) UnsubscribeAll(ctx context.Context, conn routingtable.Connection) error {
	if conn == nil {
		return routingtable.ErrNilConnection
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	rt.mu.Lock()
	defer rt.mu.Unlock()

	if rt.closed {
		return routingtable.ErrClosed
	}

	removed := 0
	rt.tree.forEachInSubtree(rt.tree.root, func(n *nsNode) {
		if n.subscribers.remove(conn) {
			removed++
		}
	})
	delete(rt.memberships, conn)
	rt.pairs -= removed
	metrics.Subscriptions.Set(float64(rt.pairs))
	return nil
}

// ClearAll empties every subscriber set in the tree
func (rt *InMemoryRoutingTable) ClearAll(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	rt.mu.Lock()
	defer rt.mu.Unlock()

	if rt.closed {
		return routingtable.ErrClosed
	}

	rt.tree.forEachInSubtree(rt.tree.root, func(n *nsNode) {
		n.subscribers.clear()
	})
	rt.memberships = make(map[routingtable.Connection]int)
	rt.pairs = 0
	metrics.Subscriptions.Set(0)
	return nil
}

// GetSubscribers returns the connections a publish at addr would reach
func (rt *InMemoryRoutingTable) GetSubscribers(ctx context.Context, addr string) ([]routingtable.Connection, error) {
	target, err := address.Parse(addr)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return rt.collect(target)
}

// GetAllSubscriptions returns every (address, connection) pair
func (rt *InMemoryRoutingTable) GetAllSubscriptions(ctx context.Context) ([]routingtable.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rt.mu.RLock()
	defer rt.mu.RUnlock()

	if rt.closed {
		return nil, routingtable.ErrClosed
	}

	subs := make([]routingtable.Subscription, 0, rt.pairs)
	rt.tree.forEachInSubtree(rt.tree.root, func(n *nsNode) {
		for _, conn := range n.subscribers.appendTo(nil) {
			subs = append(subs, routingtable.Subscription{Address: n.addr.String(), Connection: conn})
		}
	})
	return subs, nil
}

// GetAddressCount returns the number of addresses with at least one subscriber
func (rt *InMemoryRoutingTable) GetAddressCount(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	rt.mu.RLock()
	defer rt.mu.RUnlock()

	if rt.closed {
		return 0, routingtable.ErrClosed
	}

	count := 0
	rt.tree.forEachInSubtree(rt.tree.root, func(n *nsNode) {
		if n.subscribers.len() > 0 {
			count++
		}
	})
	return count, nil
}

// GetSubscriberCount returns the number of distinct subscribed connections
func (rt *InMemoryRoutingTable) GetSubscriberCount(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	rt.mu.RLock()
	defer rt.mu.RUnlock()

	if rt.closed {
		return 0, routingtable.ErrClosed
	}
	return len(rt.memberships), nil
}

// IsSubscribed reports whether conn holds any subscription
func (rt *InMemoryRoutingTable) IsSubscribed(conn routingtable.Connection) bool {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	return rt.memberships[conn] > 0
}

// Close releases the table; subsequent operations return ErrClosed
func (rt *InMemoryRoutingTable) Close() error {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	if rt.closed {
		return nil
	}
	rt.closed = true
	rt.tree = newNSTree()
	rt.memberships = make(map[routingtable.Connection]int)
	rt.pairs = 0
	return nil
}
