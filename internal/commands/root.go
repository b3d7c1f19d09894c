package commands

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/idelchi/vaultseal/internal/config"
	"github.com/idelchi/vaultseal/internal/device"
	"github.com/idelchi/vaultseal/internal/encryption"
	"github.com/idelchi/vaultseal/internal/filter"
	"github.com/idelchi/vaultseal/internal/logic"
)

// NewRootCommand creates the root command with common configuration.
// Called with a directory and --action it runs the walker directly.
func NewRootCommand(cfg *config.Config, version string) *cobra.Command {
	st := &state{cfg: cfg}

	root := &cobra.Command{
		Use:   "vaultseal [flags] <dir> --action encrypt|decrypt | vaultseal command [flags]",
		Short: "Directory encryption backed by a hardware key oracle",
		Long: `Encrypts or decrypts a whole directory tree. Every file is transformed by a
hardware wallet (or its software emulation) under a key bound to the file's relative
path, verified against a SHA-256 digest and atomically replaced.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.ArbitraryArgs,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return nil
			}

			if err := preRun(st)(cmd, args); err != nil {
				return err
			}

			if cfg.Action == "" {
				return errors.New("a directory argument requires --action encrypt|decrypt")
			}

			cfg.Decrypt = cfg.Action == string(encryption.ActionDecrypt)

			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return cmd.Help()
			}

			return logic.Run(cmd.Context(), st.env, cfg)
		},
	}

	root.Flags().StringP("action", "a", "", "Walker mode action: encrypt or decrypt")

	flags := root.PersistentFlags()

	flags.String("config", "", "Path to a config file (yaml, json or toml)")

	flags.StringP("path", "p", device.DefaultPath, "BIP-32 derivation path of the key")
	flags.String("format", string(encryption.FormatLine), "Header format: line or structured")
	flags.StringP("encryption", "e", string(encryption.SchemeOnboard),
		"Encryption scheme: Onboard, Extended or Deterministic (the latter two need --format structured)")
	flags.String("kdf", string(encryption.KDFHKDF), "Local key derivation for Extended and Deterministic: hkdf or legacy")
	flags.Int("chunk-size", encryption.DefaultChunkSize, "Plaintext chunk size in bytes (use 1008 with the bridge)")

	flags.String("suffix", filter.DefaultSuffix, "Suffix of encrypted files")
	flags.StringSliceP("exclude", "x", nil, "Additional exclude patterns (name or doublestar glob)")
	flags.String("exclude-from", "", "JSONC file with an array of exclude patterns")
	flags.StringSlice("skip-dir", nil, "Directory patterns skipped when decrypting")
	flags.String("journal", "", `Journal file (default <dir>/.vaultseal/journal.db, "-" disables)`)

	flags.Bool("preserve-timestamps", false, "Copy the modification time to the output")
	flags.BoolP("dry", "n", false, "Show what would be processed without doing it")
	flags.Bool("stats", false, "Print a summary when done")
	flags.BoolP("quiet", "q", false, "Suppress non-error output")

	flags.String("device", string(device.KindSoft), "Oracle backend: soft or bridge")
	flags.String("seed", "", "Hex seed of the soft device")
	flags.String("seed-file", "", "File containing the hex seed of the soft device")
	flags.String("bridge-url", device.DefaultBridgeURL, "Address of the bridge daemon")

	flags.String("log-level", "info", "Log level: debug, info, warn or error")
	flags.String("log-format", "text", "Log format: text or json")

	root.AddCommand(
		NewEncryptCommand(st),
		NewDecryptCommand(st),
		NewFileCommand(st),
		NewVerifyCommand(st),
		NewCheckCommand(st),
		NewJournalCommand(st),
		NewGenerateCommand(),
		NewEmulateCommand(st),
	)

	return root
}
