package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/pysugar/chat-automator/internal/config"
	"github.com/pysugar/chat-automator/internal/version"
)

func main() {
	var (
		configPath string
		verbose    bool
	)

	root := &cobra.Command{
		Use:           "chatrunner",
		Short:         "chatrunner keeps chat service accounts active with generated conversations.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), configPath, verbose, runAutomation)
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultPath, "path to config.yaml")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "write debug detail to the log file")

	root.AddCommand(
		&cobra.Command{
			Use:   "run",
			Short: "Verify tokens, sign in if needed and start the chat workers",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withApp(cmd.Context(), configPath, verbose, runAutomation)
			},
		},
		&cobra.Command{
			Use:   "verify",
			Short: "Check every stored session token and drop the invalid ones",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withApp(cmd.Context(), configPath, verbose, verifyTokens)
			},
		},
		&cobra.Command{
			Use:   "signin",
			Short: "Sign in every wallet from the private key file and store the tokens",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withApp(cmd.Context(), configPath, verbose, signInWallets)
			},
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print the version",
			Run: func(cmd *cobra.Command, _ []string) {
				fmt.Fprintln(cmd.OutOrStdout(), version.String())
			},
		},
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}
