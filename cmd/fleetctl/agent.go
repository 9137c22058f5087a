package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/devghori1264/aerophoenix/fleetwatch/internal/client"
	"github.com/devghori1264/aerophoenix/fleetwatch/internal/models"
	"github.com/devghori1264/aerophoenix/fleetwatch/internal/probe"
	"github.com/devghori1264/aerophoenix/fleetwatch/internal/server"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type heartbeater interface {
	Heartbeat(ctx context.Context, id string, m models.Metrics) (*server.HeartbeatResponse, error)
}

type agentOptions struct {
	id       string
	idFile   string
	name     string
	interval time.Duration
	diskPath string
	useGRPC  bool
}

func newAgentCmd(g *globals) *cobra.Command {
	opts := agentOptions{}
	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Report this host's metrics on a fixed interval and run delivered commands",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runAgent(cmd.Context(), g, opts)
		},
	}
	cmd.Flags().StringVar(&opts.id, "id", "", "machine id (default: read from --id-file or generated)")
	cmd.Flags().StringVar(&opts.idFile, "id-file", "fleetctl-agent.id", "file holding the generated machine id")
	cmd.Flags().StringVar(&opts.name, "name", "", "display name (default: hostname)")
	cmd.Flags().DurationVar(&opts.interval, "interval", 5*time.Second, "heartbeat interval")
	cmd.Flags().StringVar(&opts.diskPath, "disk-path", "/", "filesystem to report free space for")
	cmd.Flags().BoolVar(&opts.useGRPC, "grpc", false, "send heartbeats over gRPC")
	return cmd
}

func runAgent(ctx context.Context, g *globals, opts agentOptions) error {
	logger := g.logger.Named("agent")
	id, err := agentID(opts.id, opts.idFile)
	if err != nil {
		return err
	}
	name := opts.name
	if name == "" {
		name, _ = os.Hostname()
	}

	api := g.client()
	var hb heartbeater = api
	if opts.useGRPC {
		gc, err := client.DialGRPC(g.grpcAddr)
		if err != nil {
			return err
		}
		defer gc.Close()
		hb = gc
	}

	register := func() {
		if _, err := api.Register(ctx, id, name); err != nil {
			logger.Warn("registration failed", zap.Error(err))
			return
		}
		logger.Info("registered", zap.String("machine_id", id), zap.String("name", name))
	}
	register()

	collector := probe.NewCollector(opts.diskPath)
	ticker := time.NewTicker(opts.interval)
	defer ticker.Stop()
	for {
		metrics, err := collector.Collect(ctx)
		if err != nil {
			logger.Debug("partial metrics", zap.Error(err))
		}
		resp, err := hb.Heartbeat(ctx, id, metrics)
		switch {
		case err != nil:
			logger.Warn("heartbeat failed", zap.Error(err))
		case resp.Message == server.MsgUnknownMachine:
			register()
		}
		if err == nil && resp.Command != nil {
			logger.Info("command received", zap.String("command", *resp.Command))
			res := runAgentCommand(ctx, *resp.Command, resp.Payload, collector)
			if err := api.CommandResult(ctx, id, res); err != nil {
				logger.Warn("command result not delivered", zap.Error(err))
			}
		}

		select {
		case <-ctx.Done():
			logger.Info("agent stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// agentID returns the explicit id, else the one saved in path, else a new
// UUID which is saved to path.
func agentID(explicit, path string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	if path == "" {
		return uuid.NewString(), nil
	}
	b, err := os.ReadFile(path)
	switch {
	case err == nil:
		if id := strings.TrimSpace(string(b)); id != "" {
			return id, nil
		}
	case !errors.Is(err, fs.ErrNotExist):
		return "", fmt.Errorf("read id file: %w", err)
	}
	id := uuid.NewString()
	if err := os.WriteFile(path, []byte(id+"\n"), 0o600); err != nil {
		return "", fmt.Errorf("write id file: %w", err)
	}
	return id, nil
}

// runAgentCommand runs one of the built-in commands. Anything else is
// reported back as unsupported rather than executed.
func runAgentCommand(ctx context.Context, name string, payload json.RawMessage, collector *probe.Collector) models.CommandResult {
	switch name {
	case "ping":
		return models.CommandResult{Output: "pong"}
	case "echo":
		return models.CommandResult{Output: string(payload)}
	case "collect":
		m, err := collector.Collect(ctx)
		out, _ := json.Marshal(m)
		res := models.CommandResult{Output: string(out)}
		if err != nil {
			res.Error = err.Error()
		}
		return res
	default:
		return models.CommandResult{Error: fmt.Sprintf("unsupported command %q", name)}
	}
}
