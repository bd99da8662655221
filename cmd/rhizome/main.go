package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/rmacdonaldsmith/rhizome-go/internal/config"
	"github.com/rmacdonaldsmith/rhizome-go/internal/metrics"
)

const (
	appName    = "rhizome"
	appVersion = "0.1.0"
)

// serveFlags are command-line overrides applied on top of the config file
type serveFlags struct {
	configPath string
	nodeID     string
	oscListen  string
	httpListen string
	grpcListen string
	secretKey  string
	noGRPC     bool
	noAuth     bool
	noMetrics  bool
	verbose    bool
	logFormat  string
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   appName,
		Short: "OSC, WebSocket and gRPC message router",
		Long: `rhizome routes messages between OSC, WebSocket, gRPC and HTTP clients.
Clients subscribe to address subtrees with control messages on /sys/... and
every data message is delivered to the subscribers of its address and of
every ancestor address.`,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(newServeCommand())
	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s v%s\n", appName, appVersion)
		},
	})
	return rootCmd
}

func newServeCommand() *cobra.Command {
	var flags serveFlags

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the router",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}

			log.Logger = newLogger(cfg.Logging, os.Stderr)
			log.Info().
				Str("version", appVersion).
				Str("osc", cfg.OSC.Listen).
				Str("http", cfg.HTTP.Listen).
				Bool("grpc", cfg.GRPC.IsEnabled()).
				Msg("Starting rhizome")

			if !flags.noMetrics {
				metrics.Initialize(cfg.NodeID)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return serve(ctx, cfg)
		},
	}

	cmd.Flags().StringVarP(&flags.configPath, "config", "c", "", "Path to a YAML config file")
	cmd.Flags().StringVar(&flags.nodeID, "node-id", "", "Node identifier (default derived from hostname)")
	cmd.Flags().StringVar(&flags.oscListen, "osc-listen", "", "UDP address for OSC clients")
	cmd.Flags().StringVar(&flags.httpListen, "http-listen", "", "Address for the HTTP API and WebSocket endpoint")
	cmd.Flags().StringVar(&flags.grpcListen, "grpc-listen", "", "Address for the gRPC bridge")
	cmd.Flags().StringVar(&flags.secretKey, "secret-key", "", "JWT signing key for the HTTP API")
	cmd.Flags().BoolVar(&flags.noGRPC, "no-grpc", false, "Disable the gRPC bridge")
	cmd.Flags().BoolVar(&flags.noAuth, "no-auth", false, "Disable HTTP API authentication (development only)")
	cmd.Flags().BoolVar(&flags.noMetrics, "no-metrics", false, "Do not expose /metrics")
	cmd.Flags().BoolVarP(&flags.verbose, "verbose", "v", false, "Log at debug level")
	cmd.Flags().StringVar(&flags.logFormat, "log-format", "", "Log format: console or json")
	return cmd
}

// loadConfig reads the config file when one is given, applies flag
// overrides and validates the result
func loadConfig(flags serveFlags) (*config.Config, error) {
	cfg := config.Default()
	if flags.configPath != "" {
		loaded, err := config.LoadWithDefaults(flags.configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if flags.nodeID != "" {
		cfg.NodeID = flags.nodeID
	}
	if flags.oscListen != "" {
		cfg.OSC.Listen = flags.oscListen
	}
	if flags.httpListen != "" {
		cfg.HTTP.Listen = flags.httpListen
	}
	if flags.grpcListen != "" {
		cfg.GRPC.Listen = flags.grpcListen
	}
	if flags.secretKey != "" {
		cfg.HTTP.SecretKey = flags.secretKey
	}
	if flags.noGRPC {
		disabled := false
		cfg.GRPC.Enabled = &disabled
	}
	if flags.noAuth {
		cfg.HTTP.NoAuth = true
	}
	if flags.verbose {
		cfg.Logging.Verbose = true
	}
	if flags.logFormat != "" {
		cfg.Logging.Format = flags.logFormat
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// newLogger builds the global logger: console output unless json is asked for
func newLogger(cfg config.LoggingConfig, out io.Writer) zerolog.Logger {
	writer := out
	if cfg.Format != "json" {
		writer = zerolog.ConsoleWriter{Out: out}
	}

	level := zerolog.InfoLevel
	if cfg.Verbose {
		level = zerolog.DebugLevel
	}
	return zerolog.New(writer).With().Timestamp().Logger().Level(level)
}

// serve runs a node until ctx is done or one of its servers fails
func serve(ctx context.Context, cfg *config.Config) error {
	n, err := newNode(cfg)
	if err != nil {
		return err
	}
	if err := n.listen(ctx); err != nil {
		n.close()
		return err
	}
	n.logStartup(ctx)
	return n.run(ctx)
}
