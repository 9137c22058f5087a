package main

import (
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/devghori1264/aerophoenix/fleetwatch/internal/client"
	"github.com/devghori1264/aerophoenix/fleetwatch/internal/models"
	"github.com/devghori1264/aerophoenix/fleetwatch/internal/server"
	"github.com/spf13/cobra"
)

func newRegisterCmd(g *globals) *cobra.Command {
	var id, name string
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register a machine (stand-in for the inventory system)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if id == "" {
				return errors.New("--id required")
			}
			m, err := g.client().Register(cmd.Context(), id, name)
			if err != nil {
				return err
			}
			return printJSON(cmd, m)
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "machine id")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	return cmd
}

func newMachinesCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "machines",
		Short: "List machines and their liveness",
		RunE: func(cmd *cobra.Command, _ []string) error {
			machines, err := g.client().Machines(cmd.Context())
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tSTATUS\tLAST HEARTBEAT\tCPU%\tRAM%\tDISK FREE%\tTEMP")
			for _, m := range machines {
				last := "-"
				if !m.LastHeartbeat.IsZero() {
					last = m.LastHeartbeat.Local().Format(time.DateTime)
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%.1f\t%.1f\t%.1f\t%.1f\n",
					m.ID, m.Name, m.Status, last, m.CPUPercent, m.RAMPercent, m.DiskFreePercent, m.TemperatureC)
			}
			return tw.Flush()
		},
	}
}

func newHeartbeatCmd(g *globals) *cobra.Command {
	var (
		id      string
		metrics models.Metrics
		useGRPC bool
	)
	cmd := &cobra.Command{
		Use:   "heartbeat",
		Short: "Send a single heartbeat with the given metrics",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if id == "" {
				return errors.New("--id required")
			}
			var (
				resp *server.HeartbeatResponse
				err  error
			)
			if useGRPC {
				var gc *client.GRPCClient
				gc, err = client.DialGRPC(g.grpcAddr)
				if err != nil {
					return err
				}
				defer gc.Close()
				resp, err = gc.Heartbeat(cmd.Context(), id, metrics)
			} else {
				resp, err = g.client().Heartbeat(cmd.Context(), id, metrics)
			}
			if err != nil {
				return err
			}
			return printJSON(cmd, resp)
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "machine id")
	cmd.Flags().Float64Var(&metrics.CPUPercent, "cpu", 0, "cpu percent")
	cmd.Flags().Float64Var(&metrics.RAMPercent, "ram", 0, "ram percent")
	cmd.Flags().Float64Var(&metrics.DiskFreePercent, "disk-free", 100, "free disk percent")
	cmd.Flags().Float64Var(&metrics.TemperatureC, "temp", 0, "temperature in celsius")
	cmd.Flags().BoolVar(&useGRPC, "grpc", false, "send over gRPC")
	return cmd
}
