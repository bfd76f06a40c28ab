package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/srg/gattsd/pkg/event"
)

var kindsCmd = &cobra.Command{
	Use:   "kinds",
	Short: "List the event kinds delivered to subscribers",
	Long: `Lists the GATT server event kinds with their driver identifiers and
the names carried in the "name" field of each envelope.

Events with any other identifier are still delivered, with kind
"unknown" and name "` + event.UnknownName + `".`,
	Args: cobra.NoArgs,
	RunE: runKinds,
}

func runKinds(cmd *cobra.Command, _ []string) error {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%-6s  %-22s  %s\n", "ID", "KIND", "NAME")
	for _, k := range event.Kinds() {
		fmt.Fprintf(out, "0x%04X  %-22s  %s\n", k.ID, k.Kind, k.Name)
	}
	return nil
}
