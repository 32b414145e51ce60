package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/cuemby/kros/pkg/storage"
	"github.com/spf13/cobra"
)

var journalCmd = &cobra.Command{
	Use:   "journal",
	Short: "Inspect the garbage collection journal",
	Long: `The journal records every envelope the garbage collector retires when
kros.storage.data_dir is set. It must not be opened while kros run holds it.`,
}

var journalListCmd = &cobra.Command{
	Use:   "list",
	Short: "List retired envelopes, oldest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		return printJournal(cmd, false)
	},
}

var journalFailuresCmd = &cobra.Command{
	Use:   "failures",
	Short: "List envelopes retired without ever being arbitrated",
	RunE: func(cmd *cobra.Command, args []string) error {
		return printJournal(cmd, true)
	},
}

var journalShowCmd = &cobra.Command{
	Use:   "show ID",
	Short: "Show one journal record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openJournal(cmd)
		if err != nil {
			return err
		}
		defer store.Close()

		r, err := store.Get(args[0])
		if err != nil {
			return err
		}
		fmt.Printf("ID:           %s\n", r.ID)
		fmt.Printf("Name:         %s\n", r.Name)
		fmt.Printf("Event:        %s\n", r.Event)
		if r.Value != "" {
			fmt.Printf("Value:        %s\n", r.Value)
		}
		fmt.Printf("Sent:         %d\n", r.Sent)
		fmt.Printf("Laps:         %d\n", r.Laps)
		fmt.Printf("Reason:       %s\n", r.Reason)
		fmt.Printf("Expired:      %t\n", r.Expired)
		fmt.Printf("Failed:       %t\n", r.DeliveryFailed)
		fmt.Printf("Processed by: %s\n", strings.Join(r.ProcessedBy, ", "))
		fmt.Printf("Created:      %s\n", r.CreatedAt.Format("15:04:05.000"))
		fmt.Printf("Collected:    %s\n", r.CollectedAt.Format("15:04:05.000"))
		return nil
	},
}

func init() {
	journalCmd.PersistentFlags().String("data-dir", "", "Journal directory (defaults to kros.storage.data_dir)")

	journalCmd.AddCommand(journalListCmd)
	journalCmd.AddCommand(journalFailuresCmd)
	journalCmd.AddCommand(journalShowCmd)
}

func openJournal(cmd *cobra.Command) (*storage.BoltStore, error) {
	dir, _ := cmd.Flags().GetString("data-dir")
	if dir == "" {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return nil, err
		}
		dir = cfg.Kros.Storage.DataDir
	}
	if dir == "" {
		return nil, fmt.Errorf("no journal directory: pass --data-dir or set kros.storage.data_dir")
	}
	return storage.NewBoltStore(dir)
}

func printJournal(cmd *cobra.Command, failures bool) error {
	store, err := openJournal(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	var records []*storage.Record
	if failures {
		records, err = store.ListFailures()
	} else {
		records, err = store.List()
	}
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Println("No records")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tEVENT\tSENT\tLAPS\tREASON\tCOLLECTED")
	for _, r := range records {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\t%s\n",
			r.ID, r.Name, r.Event, r.Sent, r.Laps, r.Reason, r.CollectedAt.Format("15:04:05.000"))
	}
	return w.Flush()
}
