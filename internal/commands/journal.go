package commands

import (
	"github.com/spf13/cobra"

	"github.com/idelchi/vaultseal/internal/logic"
)

// NewJournalCommand creates a new cobra command for the journal subcommand.
func NewJournalCommand(st *state) *cobra.Command {
	return &cobra.Command{
		Use:     "journal [flags] [dirs...]",
		Short:   "List files left unfinished or failed by earlier runs",
		Args:    cobra.ArbitraryArgs,
		PreRunE: preRun(st, "."),
		RunE: func(_ *cobra.Command, _ []string) error {
			return logic.RunJournal(st.env, st.cfg)
		},
	}
}
