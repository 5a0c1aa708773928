package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Version is the tortillas release string, set at build time by the
// release pipeline; "dev" covers local builds.
var Version = "dev"

func init() {
	versionCommand := &cobra.Command{
		Use:   "version",
		Short: "Print the tortillas version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), "tortillas version "+Version)
			return nil
		},
	}
	RootCommand.AddCommand(versionCommand)
}
