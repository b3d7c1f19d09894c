package commands

import (
	"github.com/spf13/cobra"

	"github.com/idelchi/vaultseal/internal/logic"
)

// NewVerifyCommand creates a new cobra command for the verify subcommand.
func NewVerifyCommand(st *state) *cobra.Command {
	return &cobra.Command{
		Use:     "verify [flags] [dirs...]",
		Short:   "Decrypt ciphertexts in memory and check their digests",
		Args:    cobra.ArbitraryArgs,
		PreRunE: preRun(st, "."),
		RunE: func(cmd *cobra.Command, _ []string) error {
			return logic.RunVerify(cmd.Context(), st.env, st.cfg)
		},
	}
}
