package logic

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/idelchi/vaultseal/internal/config"
	"github.com/idelchi/vaultseal/internal/encryption"
)

// RunFile encrypts or decrypts a single file with the structured header. Files ending
// in the suffix are decrypted; anything else is encrypted.
func RunFile(ctx context.Context, env Env, cfg *config.Config) error {
	input := cfg.Files[0]
	task := fileTask(cfg, input)

	session, err := openSession(ctx, cfg)
	if err != nil {
		return err
	}
	defer session.Close()

	opts := cfg.ProcessorOptions()
	opts.Session = session
	opts.Format = encryption.FormatStructured
	opts.Logger = env.Log.WithField("component", "file")

	proc, err := encryption.NewProcessor(opts)
	if err != nil {
		return fmt.Errorf("creating processor: %w", err)
	}

	res := proc.Process(ctx, task)

	for _, w := range res.Warnings {
		env.Log.WithField("file", input).WithError(w).Warn("warning")
	}

	switch res.State {
	case encryption.StateDone:
		if !cfg.Quiet {
			fmt.Fprintf(env.Out, "Processed %q -> %q\n", res.Input, res.Output)
		}

		return nil
	case encryption.StateSkipped:
		if !cfg.Quiet {
			fmt.Fprintf(env.Out, "Skipped %q\n", res.Input)
		}

		return nil
	default:
		return fmt.Errorf("processing %q: %w", input, res.Error)
	}
}

func fileTask(cfg *config.Config, input string) encryption.Task {
	task := encryption.Task{Action: encryption.ActionEncrypt, Input: input, Output: input + cfg.Suffix}

	plain := input

	if strings.HasSuffix(input, cfg.Suffix) && len(input) > len(cfg.Suffix) {
		task.Action = encryption.ActionDecrypt
		plain = strings.TrimSuffix(input, cfg.Suffix)
		task.Output = plain
	}

	if cfg.Output != "" {
		task.Output = cfg.Output
	}

	task.KeyName = cfg.Key
	if task.KeyName == "" {
		task.KeyName = "Encrypt/Decrypt: " + filepath.Base(plain)
	}

	return task
}
