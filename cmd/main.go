package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	buildVersion = "N/A" // set by ldflags
	buildDate    = "N/A" // set by ldflags
	buildCommit  = "N/A" // set by ldflags
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT, os.Interrupt)
	defer stop()

	if err := rootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "storefront-session",
		Short:         "Keep a storefront API session alive",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(
		loginCmd(),
		logoutCmd(),
		statusCmd(),
		whoamiCmd(),
		refreshCmd(),
		watchCmd(),
		pingCmd(),
		versionCmd(),
	)

	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Run: func(cmd *cobra.Command, _ []string) {
			tmpl := `Build version: %s
Build date: %s
Build commit: %s
`
			fmt.Fprintf(cmd.OutOrStdout(), tmpl, buildVersion, buildDate, buildCommit)
		},
	}
}
