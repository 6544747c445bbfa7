package main

import "github.com/spf13/cobra"

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "paxosd",
		Short: "Single-decree Paxos replica",
		Long:  "paxosd runs one replica of a TCP-connected single-decree Paxos cluster.",
	}
	root.AddCommand(newRunCmd())
	root.AddCommand(newSubmitCmd())
	return root
}
