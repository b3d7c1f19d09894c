// Package commands provides the command-line interface for the vaultseal tool.
//
// It implements commands for:
//   - encrypting and decrypting directory trees
//   - single-file encryption with a structured header
//   - verifying ciphertexts without writing
//   - checking exclusion patterns and listing the run journal
//   - generating seeds and emulating the bridge for the soft device
//
// The package handles command-line parsing, configuration validation,
// and environment variable binding through cobra and viper.
package commands

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/idelchi/vaultseal/internal/config"
	"github.com/idelchi/vaultseal/internal/logging"
	"github.com/idelchi/vaultseal/internal/logic"
)

// EnvPrefix prefixes environment variables, for example VAULTSEAL_SEED.
const EnvPrefix = "VAULTSEAL"

// state is shared between the commands of one invocation.
type state struct {
	cfg *config.Config
	env logic.Env
}

// preRun returns a PreRunE handler that merges flags, environment and the optional
// config file into st.cfg, resolves positional args into cfg.Files, validates the
// configuration and builds the logger.
func preRun(st *state, defaultArgs ...string) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		v := viper.New()
		v.SetEnvPrefix(EnvPrefix)
		v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
		v.AutomaticEnv()

		if err := v.BindPFlags(cmd.Flags()); err != nil {
			return fmt.Errorf("binding flags: %w", err)
		}

		if file := v.GetString("config"); file != "" {
			v.SetConfigFile(file)

			if err := v.ReadInConfig(); err != nil {
				return fmt.Errorf("reading config file: %w", err)
			}
		}

		decrypt := st.cfg.Decrypt

		if err := v.Unmarshal(st.cfg); err != nil {
			return fmt.Errorf("parsing config: %w", err)
		}

		st.cfg.Decrypt = decrypt

		if len(args) == 0 {
			args = defaultArgs
		}

		st.cfg.Files = args

		if err := st.cfg.Validate(); err != nil {
			return err
		}

		log, err := logging.New(os.Stderr, st.cfg.LogLevel, st.cfg.LogFormat)
		if err != nil {
			return err
		}

		st.env = logic.DefaultEnv(log)

		return nil
	}
}
