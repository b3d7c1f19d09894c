package commands

import (
	"github.com/spf13/cobra"

	"github.com/idelchi/vaultseal/internal/logic"
)

// NewEmulateCommand creates a new cobra command that serves the bridge protocol from
// the soft device.
func NewEmulateCommand(st *state) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:     "emulate [flags]",
		Short:   "Serve the bridge protocol backed by the soft device",
		Args:    cobra.NoArgs,
		PreRunE: preRun(st, "."),
		RunE: func(cmd *cobra.Command, _ []string) error {
			return logic.Emulate(cmd.Context(), st.env, st.cfg, addr)
		},
	}

	cmd.Flags().StringVar(&addr, "listen", "127.0.0.1:21325", "Address to listen on")

	return cmd
}
