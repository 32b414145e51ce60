package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/cuemby/kros/pkg/event"
	"github.com/spf13/cobra"
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "List the event catalog",
	Long: `List every event kros knows about, most urgent first.

Use --group to show only one group (for example: stop, movement, infrared).`,
	RunE: func(cmd *cobra.Command, args []string) error {
		group, _ := cmd.Flags().GetString("group")

		events := event.All()
		if group != "" {
			events = event.InGroup(event.Group(group))
			if len(events) == 0 {
				return fmt.Errorf("unknown or empty group: %s", group)
			}
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tPRIORITY\tGROUP\tIGNOREABLE\tBALLISTIC\tSPEED")
		for _, e := range events {
			fmt.Fprintf(w, "%d\t%s\t%d\t%s\t%t\t%t\t%.2f\n",
				e.ID(), e.String(), e.Priority(), e.Group(), e.Ignoreable(), e.Ballistic(), e.Speed())
		}
		return w.Flush()
	},
}

func init() {
	eventsCmd.Flags().String("group", "", "Only list events in this group")
}
