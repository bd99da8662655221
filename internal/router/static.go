package router

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/rmacdonaldsmith/rhizome-go/pkg/routingtable"
)

// StaticSubscription subscribes a fixed peer at startup
type StaticSubscription struct {
	Host    string
	Port    int
	Address string
}

// PeerSource builds connections for fixed host and port pairs
type PeerSource interface {
	Peer(ctx context.Context, host string, port int) (routingtable.Connection, error)
}

// ApplyStaticSubscriptions subscribes every configured peer. It keeps going
// after a failure and returns all failures joined.
func (r *Router) ApplyStaticSubscriptions(ctx context.Context, source PeerSource, subs []StaticSubscription) error {
	var errs []error
	for _, sub := range subs {
		conn, err := source.Peer(ctx, sub.Host, sub.Port)
		if err != nil {
			errs = append(errs, fmt.Errorf("peer %s:%d: %w", sub.Host, sub.Port, err))
			continue
		}
		if err := r.Subscribe(ctx, sub.Address, conn); err != nil {
			errs = append(errs, fmt.Errorf("subscribe %s:%d at %s: %w", sub.Host, sub.Port, sub.Address, err))
			continue
		}
		log.Info().
			Str("connection", conn.ID()).
			Str("address", sub.Address).
			Msg("Static subscription applied")
	}
	return errors.Join(errs...)
}
