package cmd

import (
	"fmt"
	"text/tabwriter"

	// Imported for the events its packages declare.
	_ "github.com/nfrund/relay/internal/app"
	"github.com/nfrund/relay/internal/pubsub"
	"github.com/spf13/cobra"
)

var topicsCmd = &cobra.Command{
	Use:   "topics",
	Short: "List the events published on the internal bus",
	Run: func(cmd *cobra.Command, args []string) {
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tMODULE\tDESCRIPTION")
		fmt.Fprintln(w, "----\t------\t-----------")
		for _, topic := range pubsub.Topics() {
			fmt.Fprintf(w, "%s\t%s\t%s\n", topic.Name, topic.Module, topic.Description)
		}
		w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(topicsCmd)
}
