package main

import (
	"fmt"

	"github.com/devghori1264/aerophoenix/fleetwatch/internal/events"
	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newWatchCmd(g *globals) *cobra.Command {
	var subject string
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream real-time fleet events from NATS",
		RunE: func(cmd *cobra.Command, _ []string) error {
			nc, err := nats.Connect(g.natsURL, nats.Name("fleetctl-watch"))
			if err != nil {
				return fmt.Errorf("connect %s: %w", g.natsURL, err)
			}
			defer nc.Drain()

			out := cmd.OutOrStdout()
			sub, err := nc.Subscribe(subject, func(msg *nats.Msg) {
				fmt.Fprintf(out, "%s %s\n", msg.Subject, msg.Data)
			})
			if err != nil {
				return err
			}
			defer sub.Unsubscribe()
			g.logger.Info("watching", zap.String("subject", subject), zap.String("url", g.natsURL))

			<-cmd.Context().Done()
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", events.SubjectPrefix+".>", "subject to subscribe to")
	return cmd
}
