package commands

import (
	"github.com/spf13/cobra"

	"github.com/idelchi/vaultseal/internal/logic"
)

// NewDecryptCommand creates a new cobra command for the decrypt subcommand.
func NewDecryptCommand(st *state) *cobra.Command {
	return &cobra.Command{
		Use:     "decrypt [flags] [dirs...]",
		Aliases: []string{"dec"},
		Short:   "Decrypt every ciphertext under the given directories",
		Args:    cobra.ArbitraryArgs,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			st.cfg.Decrypt = true

			return preRun(st, ".")(cmd, args)
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return logic.Run(cmd.Context(), st.env, st.cfg)
		},
	}
}
