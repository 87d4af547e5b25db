// Package cli implements the salescoach command line interface.
package cli

import (
	"github.com/spf13/cobra"
)

var version = "dev"

// NewRootCmd creates the root cobra command for salescoach.
// When invoked without a subcommand, it delegates to "serve".
func NewRootCmd(v string) *cobra.Command {
	version = v

	root := &cobra.Command{
		Use:   "salescoach",
		Short: "Sales role-play voice training server",
		Long: "Salescoach serves training scenarios, proxies realtime voice sessions " +
			"to the Azure Voice Live API, and scores finished conversations.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, args)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newServeCmd())
	root.AddCommand(newVersionCmd())

	root.PersistentFlags().StringP("env-file", "e", ".env", "path to env file")

	return root
}
