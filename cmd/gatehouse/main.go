package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "gatehouse",
		Short:         "Subscription-gated access control for a private channel",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(newServeCommand())
	cmd.AddCommand(newProfileCommand())
	cmd.AddCommand(newRosterCommand())
	cmd.AddCommand(newInviteCommand())
	cmd.AddCommand(newReissueCommand())
	cmd.AddCommand(newSweepCommand())
	cmd.AddCommand(newStatsCommand())
	cmd.AddCommand(newMembersCommand())
	return cmd
}
