// Package logic implements the runs behind each command.
package logic

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/idelchi/vaultseal/internal/config"
	"github.com/idelchi/vaultseal/internal/device"
	"github.com/idelchi/vaultseal/internal/encryption"
	"github.com/idelchi/vaultseal/internal/filter"
	"github.com/idelchi/vaultseal/internal/journal"
)

// ErrFilesFailed is returned when at least one file could not be processed.
var ErrFilesFailed = errors.New("some files failed")

// Env carries the logger and output streams of one invocation.
type Env struct {
	Log *logrus.Logger
	Out io.Writer
	Err io.Writer
}

// DefaultEnv writes to the standard streams.
func DefaultEnv(log *logrus.Logger) Env {
	return Env{Log: log, Out: os.Stdout, Err: os.Stderr}
}

// Run encrypts or decrypts every selected file under each root in cfg.Files.
func Run(ctx context.Context, env Env, cfg *config.Config) error {
	start := time.Now()
	log := env.Log.WithField("component", "run")

	action := encryption.ActionEncrypt
	if cfg.Decrypt {
		action = encryption.ActionDecrypt
	}

	selections := make([]filter.Selection, 0, len(cfg.Files))

	var stats Stats

	for _, root := range cfg.Files {
		sel, err := walk(cfg, root)
		if err != nil {
			return err
		}

		stats.Scanned += sel.Scanned
		stats.Excluded += sel.Excluded

		removeStale(log, sel.Stale, cfg.Dry)

		selections = append(selections, sel)
	}

	if cfg.Dry {
		return dryRun(env, cfg, selections, stats, start)
	}

	session, err := openSession(ctx, cfg)
	if err != nil {
		return err
	}
	defer session.Close()

	for idx, sel := range selections {
		err := runRoot(ctx, env, cfg, session, action, cfg.Files[idx], sel, &stats)
		if err != nil {
			stats.Duration = time.Since(start)
			printStatsIf(env, cfg, stats)

			return err
		}
	}

	stats.Duration = time.Since(start)
	printStatsIf(env, cfg, stats)

	if stats.Errored > 0 {
		return fmt.Errorf("%w: %d of %d", ErrFilesFailed, stats.Errored, stats.Selected)
	}

	return nil
}

// runRoot processes one selection sequentially. Only session failures are returned;
// per-file failures are counted in stats.
//
//nolint:funlen,cyclop
func runRoot(
	ctx context.Context,
	env Env,
	cfg *config.Config,
	session device.Session,
	action encryption.Action,
	root string,
	sel filter.Selection,
	stats *Stats,
) error {
	log := env.Log.WithFields(logrus.Fields{"component": "run", "root": root})

	opts := cfg.ProcessorOptions()
	opts.Session = session
	opts.Logger = env.Log.WithField("root", root)

	jrn, err := openJournal(cfg, root, action, log)
	if err != nil {
		return err
	}

	if jrn != nil {
		defer func() {
			if removed, err := jrn.Prune(string(action)); err != nil {
				log.WithError(err).Warn("pruning journal")
			} else {
				log.WithField("removed", removed).Debug("pruned journal")
			}

			_ = jrn.Close()
		}()

		opts.Recorder = jrn
	}

	proc, err := encryption.NewProcessor(opts)
	if err != nil {
		return fmt.Errorf("creating processor: %w", err)
	}

	stats.Selected += len(sel.Files)

	results := make(chan encryption.Result, len(sel.Files))
	printed := make(chan struct{})

	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(1)

	go func() {
		defer close(printed)

		for res := range results {
			report(env, cfg, log, res, stats)
		}
	}()

	for _, entry := range sel.Files {
		if gctx.Err() != nil {
			break
		}

		group.Go(func() error {
			// A previous file may have ended the run while this one waited for its turn.
			if gctx.Err() != nil {
				return nil
			}

			res := proc.Process(gctx, encryption.Task{
				Action:  action,
				Input:   entry.Path,
				Output:  entry.Output,
				KeyName: entry.KeyName,
			})

			results <- res

			if errors.Is(res.Error, device.ErrOracleUnavailable) {
				return res.Error
			}

			return nil
		})
	}

	err = group.Wait()

	close(results)

	<-printed

	if err != nil {
		return fmt.Errorf("aborting run: %w", err)
	}

	if ctx.Err() != nil {
		return fmt.Errorf("run interrupted: %w", context.Cause(ctx))
	}

	return nil
}

func report(env Env, cfg *config.Config, log *logrus.Entry, res encryption.Result, stats *Stats) {
	flog := log.WithField("file", res.Input)

	for _, w := range res.Warnings {
		flog.WithError(w).Warn("warning")
	}

	switch res.State {
	case encryption.StateDone:
		stats.Processed++
		stats.Size += res.OutputSize

		if res.Resumed {
			stats.Resumed++
		}

		if !cfg.Quiet {
			suffix := ""
			if res.Resumed {
				suffix = " (resumed)"
			}

			fmt.Fprintf(env.Out, "Processed %q -> %q%s\n", res.Input, res.Output, suffix)
		}
	case encryption.StateSkipped:
		stats.Skipped++

		if !cfg.Quiet {
			fmt.Fprintf(env.Out, "Skipped %q\n", res.Input)
		}
	default:
		stats.Errored++

		flog.WithError(res.Error).Error("processing failed")
		fmt.Fprintf(env.Err, "Error processing %q: %v\n", res.Input, res.Error)
	}
}

func walk(cfg *config.Config, root string) (filter.Selection, error) {
	excludes, err := loadExcludes(cfg)
	if err != nil {
		return filter.Selection{}, err
	}

	sel, err := filter.Walk(filter.Options{
		Root:     root,
		Decrypt:  cfg.Decrypt,
		Suffix:   cfg.Suffix,
		Exclude:  excludes,
		SkipDirs: cfg.SkipDir,
	})
	if err != nil {
		return sel, fmt.Errorf("resolving files: %w", err)
	}

	return sel, nil
}

// loadExcludes merges CLI and file-based exclude patterns.
func loadExcludes(cfg *config.Config) ([]string, error) {
	excludes := append([]string{}, cfg.Exclude...)

	if cfg.ExcludeFrom != "" {
		patterns, err := filter.LoadPatterns(cfg.ExcludeFrom)
		if err != nil {
			return nil, fmt.Errorf("loading exclude patterns: %w", err)
		}

		excludes = append(excludes, patterns...)
	}

	return excludes, nil
}

func removeStale(log *logrus.Entry, stale []string, dry bool) {
	for _, path := range stale {
		if dry {
			log.WithField("file", path).Warn("stale temporary file would be removed")

			continue
		}

		if err := os.Remove(path); err != nil {
			log.WithField("file", path).WithError(err).Warn("removing stale temporary file")

			continue
		}

		log.WithField("file", path).Warn("removed stale temporary file")
	}
}

func openSession(ctx context.Context, cfg *config.Config) (device.Session, error) {
	opts, err := cfg.DeviceOptions()
	if err != nil {
		return nil, err
	}

	session, err := device.Open(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("opening device: %w", err)
	}

	return session, nil
}

// openJournal returns nil when the journal is disabled.
func openJournal(cfg *config.Config, root string, action encryption.Action, log *logrus.Entry) (*journal.Journal, error) {
	path := cfg.JournalPath(root)
	if path == "" {
		return nil, nil //nolint:nilnil
	}

	jrn, err := journal.Open(path)
	if err != nil {
		return nil, err
	}

	pending, err := jrn.Pending(string(action))
	if err != nil {
		_ = jrn.Close()

		return nil, err
	}

	for _, e := range pending {
		log.WithFields(logrus.Fields{"file": e.Path, "state": e.State}).Warn("interrupted by an earlier run")
	}

	return jrn, nil
}

// dryRun previews what would be processed without touching any file.
func dryRun(env Env, cfg *config.Config, selections []filter.Selection, stats Stats, start time.Time) error {
	for _, sel := range selections {
		stats.Selected += len(sel.Files)

		for _, entry := range sel.Files {
			stats.Processed++
			stats.Size += entry.Size

			if !cfg.Quiet {
				fmt.Fprintf(env.Out, "Would process %q -> %q\n", entry.Path, entry.Output)
			}
		}
	}

	stats.Duration = time.Since(start)
	printStatsIf(env, cfg, stats)

	return nil
}
