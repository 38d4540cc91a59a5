package main

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/ragnarhq/ragnar-init/internal/entrypoint"
)

// exitCode is set by the command that ran.
var exitCode int

var rootCmd = &cobra.Command{
	Use:   "ragnar-init",
	Short: "Container entrypoint for the Ragnar bot",
	Long: `ragnar-init provisions the runtime account from PUID/PGID, then runs the
model server and the bot under it, stopping both when either exits.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	Args:          cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		exitCode = entrypoint.Start(cmd.Context(), configFlag(cmd), entrypoint.Deps{})
	},
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (default /etc/ragnar-init/config.yaml or ./config.yaml)")
}

func configFlag(cmd *cobra.Command) string {
	f, _ := cmd.Flags().GetString("config")
	return f
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		rootCmd.PrintErrln("Error:", err)
		os.Exit(1)
	}
	os.Exit(exitCode)
}
