package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var Version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "fanpassctl",
		Short:         "Operator tools for FanPass subscriptions",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(checkCmd())
	rootCmd.AddCommand(fixCmd())
	rootCmd.AddCommand(reconcileCmd())
	rootCmd.AddCommand(sweepCmd())
	rootCmd.AddCommand(plansCmd())
	rootCmd.AddCommand(signCmd())

	return rootCmd
}
