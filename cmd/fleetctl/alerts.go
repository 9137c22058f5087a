package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/devghori1264/aerophoenix/fleetwatch/internal/models"
	"github.com/spf13/cobra"
)

func newAlertsCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "alerts",
		Short: "List and resolve alerts",
	}

	var (
		open, resolved bool
		limit          int
	)
	list := &cobra.Command{
		Use:   "list",
		Short: "List alerts, newest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			f := models.AlertFilter{Limit: limit}
			switch {
			case open && resolved:
				return fmt.Errorf("--open and --resolved are mutually exclusive")
			case open:
				v := false
				f.Resolved = &v
			case resolved:
				v := true
				f.Resolved = &v
			}
			alerts, err := g.client().Alerts(cmd.Context(), f)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tMACHINE\tTYPE\tCREATED\tRESOLVED\tMESSAGE")
			for _, a := range alerts {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%v\t%s\n",
					a.ID, a.MachineID, a.Type, a.CreatedAt.Local().Format(time.DateTime), a.Resolved, a.Message)
			}
			return tw.Flush()
		},
	}
	list.Flags().BoolVar(&open, "open", false, "only unresolved alerts")
	list.Flags().BoolVar(&resolved, "resolved", false, "only resolved alerts")
	list.Flags().IntVar(&limit, "limit", 50, "maximum alerts to show")

	resolve := &cobra.Command{
		Use:   "resolve ALERT_ID",
		Short: "Mark an alert resolved",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := g.client().ResolveAlert(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, a)
		},
	}

	cmd.AddCommand(list, resolve)
	return cmd
}
