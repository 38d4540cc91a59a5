package main

import (
	"fmt"
	"runtime/debug"

	"github.com/spf13/cobra"
)

// version is set with -ldflags "-X main.version=..." on release builds.
var version = ""

func buildInfo() (ver, commit string) {
	ver, commit = version, "unknown"
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ver, commit
	}
	if ver == "" {
		ver = info.Main.Version
	}
	for _, s := range info.Settings {
		if s.Key == "vcs.revision" {
			commit = s.Value
		}
	}
	return ver, commit
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		ver, commit := buildInfo()
		if ver == "" {
			ver = "(devel)"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "ragnar-init %s", ver)
		if commit != "unknown" && commit != "" {
			if len(commit) > 8 {
				commit = commit[:8]
			}
			fmt.Fprintf(cmd.OutOrStdout(), " (git: %s)", commit)
		}
		fmt.Fprintln(cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
