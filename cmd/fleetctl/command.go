package main

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

func newCommandCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "command",
		Short: "Queue commands for machines",
	}

	var payload string
	send := &cobra.Command{
		Use:   "send MACHINE_ID COMMAND",
		Short: "Queue a command for the machine's next heartbeat",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var raw json.RawMessage
			if payload != "" {
				if !json.Valid([]byte(payload)) {
					return errors.New("--payload must be valid JSON")
				}
				raw = json.RawMessage(payload)
			}
			if err := g.client().EnqueueCommand(cmd.Context(), args[0], args[1], raw); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "queued %q for %s\n", args[1], args[0])
			return nil
		},
	}
	send.Flags().StringVar(&payload, "payload", "", "JSON payload")
	cmd.AddCommand(send)
	return cmd
}
