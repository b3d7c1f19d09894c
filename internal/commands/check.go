package commands

import (
	"github.com/spf13/cobra"

	"github.com/idelchi/vaultseal/internal/logic"
)

// NewCheckCommand creates a new cobra command for the check subcommand.
func NewCheckCommand(st *state) *cobra.Command {
	return &cobra.Command{
		Use:     "check [flags] [dirs...]",
		Short:   "Validate that exclude and skip-dir patterns match files",
		Args:    cobra.ArbitraryArgs,
		PreRunE: preRun(st, "."),
		RunE: func(_ *cobra.Command, _ []string) error {
			return logic.RunCheck(st.env, st.cfg)
		},
	}
}
