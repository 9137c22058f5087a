// Command fleetctl is the operator and agent CLI for fleetwatch.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/devghori1264/aerophoenix/fleetwatch/internal/client"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type globals struct {
	server   string
	grpcAddr string
	natsURL  string
	timeout  time.Duration
	verbose  bool

	logger *zap.Logger
}

func (g *globals) client() *client.Client {
	return client.New(g.server, g.timeout)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	g := &globals{}
	root := &cobra.Command{
		Use:           "fleetctl",
		Short:         "Operate a fleetwatch server or run a heartbeat agent",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg := zap.NewDevelopmentConfig()
			if !g.verbose {
				cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
			}
			logger, err := cfg.Build()
			if err != nil {
				return err
			}
			g.logger = logger
			return nil
		},
	}
	root.PersistentFlags().StringVar(&g.server, "server", envOr("FLEETCTL_SERVER", "http://localhost:8080"), "fleetwatch HTTP base URL")
	root.PersistentFlags().StringVar(&g.grpcAddr, "grpc-addr", envOr("FLEETCTL_GRPC_ADDR", "localhost:50051"), "fleetwatch gRPC address")
	root.PersistentFlags().StringVar(&g.natsURL, "nats-url", envOr("FLEETCTL_NATS_URL", "nats://localhost:4222"), "NATS URL for watch")
	root.PersistentFlags().DurationVar(&g.timeout, "timeout", 10*time.Second, "request timeout")
	root.PersistentFlags().BoolVarP(&g.verbose, "verbose", "v", false, "debug logging")

	root.AddCommand(
		newPingCmd(g),
		newRegisterCmd(g),
		newMachinesCmd(g),
		newHeartbeatCmd(g),
		newAgentCmd(g),
		newCommandCmd(g),
		newAlertsCmd(g),
		newWatchCmd(g),
	)
	return root
}

func newPingCmd(g *globals) *cobra.Command {
	var useGRPC bool
	cmd := &cobra.Command{
		Use:   "ping",
		Short: "Check that the server answers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if useGRPC {
				gc, err := client.DialGRPC(g.grpcAddr)
				if err != nil {
					return err
				}
				defer gc.Close()
				msg, err := gc.Ping(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), msg)
				return nil
			}
			msg, err := g.client().Ping(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), msg)
			return nil
		},
	}
	cmd.Flags().BoolVar(&useGRPC, "grpc", false, "ping over gRPC")
	return cmd
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
