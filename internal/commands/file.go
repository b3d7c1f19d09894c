package commands

import (
	"github.com/spf13/cobra"

	"github.com/idelchi/vaultseal/internal/encryption"
	"github.com/idelchi/vaultseal/internal/logic"
)

// NewFileCommand creates a new cobra command for the file subcommand.
func NewFileCommand(st *state) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "file [flags] <file>",
		Short: "Encrypt or decrypt a single file with a structured header",
		Long: `Encrypts the file, or decrypts it when its name ends in the suffix. The header
records the derivation path and key name, which take precedence when decrypting.`,
		Args: cobra.ExactArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			// Single files always carry the structured header.
			if err := cmd.Flags().Set("format", string(encryption.FormatStructured)); err != nil {
				return err
			}

			return preRun(st)(cmd, args)
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return logic.RunFile(cmd.Context(), st.env, st.cfg)
		},
	}

	cmd.Flags().StringP("key", "k", "", `Key name (default "Encrypt/Decrypt: <file name>")`)
	cmd.Flags().StringP("output", "o", "", "Output path")

	return cmd
}
