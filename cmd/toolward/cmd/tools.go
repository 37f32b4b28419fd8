package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/toolward/toolward/internal/domain/catalog"
)

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "List the registered tool catalog",
	RunE: func(cmd *cobra.Command, args []string) error {
		registry, err := catalog.NewRegistry(catalog.BuiltinDescriptors())
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tRISK\tMUTATES\tSNAPSHOT\tDESCRIPTION")
		for _, name := range registry.Names() {
			desc, err := registry.Lookup(name)
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "%s\t%s\t%t\t%t\t%s\n",
				desc.Name, desc.Risk, desc.Mutates, desc.RequiresSnapshot, desc.Description)
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(toolsCmd)
}
