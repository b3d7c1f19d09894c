package logic

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/idelchi/vaultseal/internal/config"
	"github.com/idelchi/vaultseal/internal/device"
	"github.com/idelchi/vaultseal/internal/encryption"
)

// RunVerify decrypts every ciphertext under the roots in memory and checks its digest.
// Nothing is written.
func RunVerify(ctx context.Context, env Env, cfg *config.Config) error {
	start := time.Now()
	cfg.Decrypt = true

	var stats Stats

	session, err := openSession(ctx, cfg)
	if err != nil {
		return err
	}
	defer session.Close()

	opts := cfg.ProcessorOptions()
	opts.Session = session
	opts.Logger = env.Log.WithField("component", "verify")

	proc, err := encryption.NewProcessor(opts)
	if err != nil {
		return fmt.Errorf("creating processor: %w", err)
	}

	for _, root := range cfg.Files {
		sel, err := walk(cfg, root)
		if err != nil {
			return err
		}

		stats.Scanned += sel.Scanned
		stats.Excluded += sel.Excluded
		stats.Selected += len(sel.Files)

		for _, entry := range sel.Files {
			if ctx.Err() != nil {
				return fmt.Errorf("verify interrupted: %w", context.Cause(ctx))
			}

			res := proc.Verify(ctx, encryption.Task{Action: encryption.ActionDecrypt, Input: entry.Path, KeyName: entry.KeyName})

			for _, w := range res.Warnings {
				env.Log.WithField("file", entry.Path).WithError(w).Warn("warning")
			}

			if res.Error != nil {
				if errors.Is(res.Error, device.ErrOracleUnavailable) {
					return fmt.Errorf("aborting verify: %w", res.Error)
				}

				stats.Errored++

				fmt.Fprintf(env.Err, "FAIL %q: %v\n", entry.Path, res.Error)

				continue
			}

			if res.State == encryption.StateSkipped {
				stats.Skipped++

				if !cfg.Quiet {
					fmt.Fprintf(env.Out, "SKIP %q: empty\n", entry.Path)
				}

				continue
			}

			stats.Processed++
			stats.Size += entry.Size

			if !cfg.Quiet {
				fmt.Fprintf(env.Out, "OK   %q\n", entry.Path)
			}
		}
	}

	stats.Duration = time.Since(start)
	printStatsIf(env, cfg, stats)

	if stats.Errored > 0 {
		return fmt.Errorf("%w: %d of %d", ErrFilesFailed, stats.Errored, stats.Selected)
	}

	return nil
}
