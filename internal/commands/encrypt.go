package commands

import (
	"github.com/spf13/cobra"

	"github.com/idelchi/vaultseal/internal/logic"
)

// NewEncryptCommand creates a new cobra command for the encrypt subcommand.
func NewEncryptCommand(st *state) *cobra.Command {
	return &cobra.Command{
		Use:     "encrypt [flags] [dirs...]",
		Aliases: []string{"enc"},
		Short:   "Encrypt every file under the given directories",
		Args:    cobra.ArbitraryArgs,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			st.cfg.Decrypt = false

			return preRun(st, ".")(cmd, args)
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return logic.Run(cmd.Context(), st.env, st.cfg)
		},
	}
}
