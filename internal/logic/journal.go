package logic

import (
	"fmt"
	"time"

	"github.com/idelchi/vaultseal/internal/config"
	"github.com/idelchi/vaultseal/internal/encryption"
	"github.com/idelchi/vaultseal/internal/fileutil"
	"github.com/idelchi/vaultseal/internal/journal"
)

// RunJournal lists files left in a non-final or failed state by earlier runs.
func RunJournal(env Env, cfg *config.Config) error {
	for _, root := range cfg.Files {
		path := cfg.JournalPath(root)
		if path == "" {
			return fmt.Errorf("%w: the journal is disabled", config.ErrUsage)
		}

		exists, err := fileutil.Exists(path)
		if err != nil {
			return err
		}

		if !exists {
			if !cfg.Quiet {
				fmt.Fprintf(env.Out, "%s: no journal\n", root)
			}

			continue
		}

		if err := listJournal(env, path); err != nil {
			return err
		}
	}

	return nil
}

func listJournal(env Env, path string) error {
	jrn, err := journal.Open(path)
	if err != nil {
		return err
	}
	defer jrn.Close()

	for _, action := range []encryption.Action{encryption.ActionEncrypt, encryption.ActionDecrypt} {
		entries, err := jrn.Entries(string(action))
		if err != nil {
			return err
		}

		for _, e := range entries {
			if e.State == encryption.StateDone.String() || e.State == encryption.StateSkipped.String() {
				continue
			}

			line := fmt.Sprintf("%-8s %-11s %s  %s", e.Action, e.State, e.Updated.Local().Format(time.DateTime), e.Path)
			if e.Detail != "" {
				line += "  (" + e.Detail + ")"
			}

			fmt.Fprintln(env.Out, line)
		}
	}

	return nil
}
