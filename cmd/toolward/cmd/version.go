package cmd

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

// Build information, injected at release time via -ldflags.
var (
	Version   = "0.3.0"
	Commit    = ""
	BuildDate = ""
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "toolward %s (%s, %s/%s)\n",
			Version, runtime.Version(), runtime.GOOS, runtime.GOARCH)
		if Commit != "" {
			fmt.Fprintf(out, "commit %s", Commit)
			if BuildDate != "" {
				fmt.Fprintf(out, ", built %s", BuildDate)
			}
			fmt.Fprintln(out)
		}
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
