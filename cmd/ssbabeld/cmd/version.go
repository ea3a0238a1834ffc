package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ssbabel/ssbabeld/pkg/version"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print ssbabeld's version and exit",
		Run: func(*cobra.Command, []string) {
			printVersion()
		},
	}
}

func printVersion() {
	fmt.Printf("%s\n", version.Version())
}
