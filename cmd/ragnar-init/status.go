package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ragnarhq/ragnar-init/internal/config"
	"github.com/ragnarhq/ragnar-init/internal/state"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the supervisor status file",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configFlag(cmd))
		if err != nil {
			return err
		}
		st, err := state.Load(cfg.StateFile)
		if err != nil {
			return err
		}
		printStatus(cmd, st)
		return nil
	},
}

func printStatus(cmd *cobra.Command, st *state.Status) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "supervisor pid %d, started %s\n", st.PID, st.StartedAt.Format(time.RFC3339))
	fmt.Fprintf(out, "identity   %s(%d):%s(%d) home=%s\n",
		st.Identity.User, st.Identity.UID, st.Identity.Group, st.Identity.GID, st.Identity.Home)
	for _, c := range st.Children {
		line := fmt.Sprintf("  %-10s pid=%-7d %s", c.Name, c.PID, c.State)
		if c.ExitCode != nil {
			line += fmt.Sprintf(" exit=%d", *c.ExitCode)
		}
		fmt.Fprintln(out, line)
	}
	if st.StoppedAt != nil {
		fmt.Fprintf(out, "stopped %s: %s", st.StoppedAt.Format(time.RFC3339), st.StopReason)
		if st.ExitCode != nil {
			fmt.Fprintf(out, " (exit %d)", *st.ExitCode)
		}
		fmt.Fprintln(out)
	}
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
