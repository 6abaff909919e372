// Command genlab runs the parameter sweep service and offers offline helpers
// for previewing candidate values and sweep plans.
package main

import (
	"os"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/banshee-data/genlab/internal/version"
)

var rootCmd = &cobra.Command{
	Use:           "genlab",
	Short:         "Sweep workflow parameters on an image generation host",
	SilenceUsage:  true,
	SilenceErrors: true,
	Version:       version.String(),
}

func init() {
	rootCmd.AddCommand(serveCmd, valuesCmd, planCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		pterm.Error.Println(err)
		os.Exit(1)
	}
}
