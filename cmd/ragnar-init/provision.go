package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ragnarhq/ragnar-init/internal/config"
	"github.com/ragnarhq/ragnar-init/internal/entrypoint"
	"github.com/ragnarhq/ragnar-init/internal/logger"
)

var provisionCmd = &cobra.Command{
	Use:   "provision",
	Short: "Provision the runtime account and print the resolved identity",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configFlag(cmd))
		if err != nil {
			return err
		}
		entrypoint.SetupLogging(cfg)
		defer logger.Close()

		id, err := entrypoint.Provision(cmd.Context(), cfg, entrypoint.Deps{})
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "uid=%d(%s) gid=%d(%s)\n", id.UID, id.User, id.GID, id.Group)
		fmt.Fprintf(out, "home=%s\n", id.Home)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(provisionCmd)
}
