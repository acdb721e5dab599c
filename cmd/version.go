package cmd

import (
	"fmt"
	"runtime/debug"

	"github.com/mangaraw/harvester/internal/pkg/utils"
	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show the version number",
	Run: func(cmd *cobra.Command, _ []string) {
		version := utils.GetVersion()

		fmt.Fprintln(cmd.OutOrStdout(), "harvester", version.Version)
		fmt.Fprintln(cmd.OutOrStdout(), "- go/version:", version.GoVersion)
	},
}

var showDepsCmd = &cobra.Command{
	Use:   "deps",
	Short: "Get dependencies",
	Run: func(cmd *cobra.Command, _ []string) {
		info, ok := debug.ReadBuildInfo()
		if !ok {
			return
		}

		for _, dep := range info.Deps {
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s (%s)", dep.Path, dep.Version, dep.Sum)
			if dep.Replace != nil {
				fmt.Fprintf(cmd.OutOrStdout(), " => %s %s (%s)", dep.Replace.Path, dep.Replace.Version, dep.Replace.Sum)
			}
			fmt.Fprintln(cmd.OutOrStdout())
		}
	},
}

func init() {
	versionCmd.AddCommand(showDepsCmd)
}
