package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "version",
		Short:   "Display the " + toolName + " version number",
		Example: "  " + toolName + " version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s %s\n", toolName, version)
		},
	}
}
