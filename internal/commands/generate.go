package commands

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"
)

const seedSize = 64

// NewGenerateCommand creates a new cobra command that prints a random soft device seed.
func NewGenerateCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "generate",
		Aliases: []string{"gen"},
		Short:   "Generate a new seed for the soft device",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			seed := make([]byte, seedSize)
			if _, err := rand.Read(seed); err != nil {
				return fmt.Errorf("generating seed: %w", err)
			}

			fmt.Fprintln(cmd.OutOrStdout(), hex.EncodeToString(seed))

			return nil
		},
	}
}
