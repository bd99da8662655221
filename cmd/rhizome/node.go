package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/rmacdonaldsmith/rhizome-go/internal/bridge"
	"github.com/rmacdonaldsmith/rhizome-go/internal/config"
	"github.com/rmacdonaldsmith/rhizome-go/internal/httpapi"
	"github.com/rmacdonaldsmith/rhizome-go/internal/router"
	"github.com/rmacdonaldsmith/rhizome-go/internal/transport/osc"
	"github.com/rmacdonaldsmith/rhizome-go/internal/transport/websocket"
	"github.com/rmacdonaldsmith/rhizome-go/pkg/control"
)

const shutdownTimeout = 10 * time.Second

// node is one running router with its OSC, HTTP and gRPC front ends
type node struct {
	config *config.Config
	router *router.Router
	osc    *osc.Server
	http   *httpapi.Server

	// bridge is nil when the gRPC bridge is disabled
	bridge         *bridge.Server
	bridgeListener net.Listener
}

func newNode(cfg *config.Config) (*node, error) {
	routerConfig := router.NewConfig(cfg.NodeID).
		WithSendTimeout(cfg.Routing.SendTimeout).
		WithHistorySize(cfg.Routing.HistorySize).
		WithBlobDefaults(cfg.OSC.DefaultBlobPort, control.BlobTransport(cfg.OSC.BlobTransport))

	r, err := router.New(routerConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create router: %w", err)
	}

	n := &node{config: cfg, router: r}

	n.osc = osc.NewServer(osc.Config{
		Listen:      cfg.OSC.Listen,
		UsersLimit:  cfg.OSC.UsersLimit,
		DialTimeout: cfg.OSC.DialTimeout,
	}, r)

	n.http = httpapi.NewServer(r, httpapi.Config{
		Listen:            cfg.HTTP.Listen,
		SecretKey:         cfg.HTTP.SecretKey,
		AdminSecret:       cfg.HTTP.AdminSecret,
		NoAuth:            cfg.HTTP.NoAuth,
		KeepaliveInterval: cfg.HTTP.KeepaliveInterval,
		OutboundBuffer:    cfg.Routing.OutboundBuffer,
		WebSocketPath:     cfg.HTTP.WebSocketPath,
		WebSocket: websocket.Config{
			OutboundBuffer: cfg.Routing.OutboundBuffer,
			WriteTimeout:   cfg.Routing.SendTimeout,
		},
	})

	if cfg.GRPC.IsEnabled() {
		n.bridge, err = bridge.NewServer(&bridge.Config{
			ListenAddress: cfg.GRPC.Listen,
			Secret:        cfg.GRPC.Secret,
			SendQueueSize: cfg.Routing.OutboundBuffer,
			SendTimeout:   cfg.Routing.SendTimeout,
		}, r)
		if err != nil {
			r.Close()
			return nil, fmt.Errorf("failed to create bridge server: %w", err)
		}
	}

	return n, nil
}

// listen starts the router, binds every socket and applies the static
// subscriptions, so that the node is reachable once it returns
func (n *node) listen(ctx context.Context) error {
	if err := n.router.Start(ctx); err != nil {
		return fmt.Errorf("failed to start router: %w", err)
	}

	if err := n.osc.Listen(); err != nil {
		return fmt.Errorf("failed to bind OSC socket: %w", err)
	}
	if err := n.http.Listen(); err != nil {
		return fmt.Errorf("failed to bind HTTP listener: %w", err)
	}
	if n.bridge != nil {
		lis, err := net.Listen("tcp", n.config.GRPC.Listen)
		if err != nil {
			return fmt.Errorf("failed to bind gRPC listener: %w", err)
		}
		n.bridgeListener = lis
	}

	subs := make([]router.StaticSubscription, 0, len(n.config.StaticSubscriptions))
	for _, sub := range n.config.StaticSubscriptions {
		subs = append(subs, router.StaticSubscription{Host: sub.Host, Port: sub.Port, Address: sub.Address})
	}
	if err := n.router.ApplyStaticSubscriptions(ctx, n.osc.Resolver(), subs); err != nil {
		log.Warn().Err(err).Msg("Some static subscriptions failed")
	}
	return nil
}

// run serves until ctx is done or a server fails, then shuts everything down
func (n *node) run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return n.osc.Serve(gctx)
	})
	g.Go(func() error {
		return n.http.Start()
	})
	if n.bridge != nil {
		g.Go(func() error {
			if err := n.bridge.Serve(n.bridgeListener); !errors.Is(err, bridge.ErrServerClosed) {
				return err
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down")
		return n.close()
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info().Str("node_id", n.config.NodeID).Msg("Stopped")
	return nil
}

// close stops every server and then the router. It is safe to call before
// run and more than once.
func (n *node) close() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs []error

	// Closing the router first ends open SSE streams so that the HTTP
	// shutdown does not wait on them
	if err := n.router.Close(); err != nil {
		errs = append(errs, fmt.Errorf("router: %w", err))
	}
	if err := n.http.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http: %w", err))
	}
	if n.bridge != nil {
		if err := n.bridge.Close(); err != nil {
			errs = append(errs, fmt.Errorf("bridge: %w", err))
		}
		if n.bridgeListener != nil {
			n.bridgeListener.Close()
		}
	}
	if err := n.osc.Close(); err != nil {
		errs = append(errs, fmt.Errorf("osc: %w", err))
	}
	return errors.Join(errs...)
}

// logStartup reports bound addresses and the initial health
func (n *node) logStartup(ctx context.Context) {
	event := log.Info().
		Str("node_id", n.config.NodeID).
		Stringer("osc", n.osc.Addr()).
		Stringer("http", n.http.Addr())
	if n.bridgeListener != nil {
		event = event.Stringer("grpc", n.bridgeListener.Addr())
	}
	event.Msg("Listening")

	health, err := n.router.Health(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Could not get health status")
		return
	}
	if !health.Healthy {
		log.Warn().Str("message", health.Message).Msg("Router unhealthy at startup")
		return
	}
	log.Info().
		Int("connections", health.ConnectedClients).
		Int("subscriptions", health.Subscriptions).
		Msg("Router healthy")
}
