package logic

import (
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"

	"github.com/idelchi/vaultseal/internal/config"
)

// Stats summarize a run.
type Stats struct {
	Scanned   int
	Excluded  int
	Selected  int
	Processed int
	Resumed   int
	Skipped   int
	Errored   int
	Size      int64
	Duration  time.Duration
}

func printStatsIf(env Env, cfg *config.Config, stats Stats) {
	if cfg.Stats {
		printStats(env.Err, stats)
	}
}

func printStats(w io.Writer, s Stats) {
	bold := color.New(color.Bold)
	errColor := color.New()

	if s.Errored > 0 {
		errColor = color.New(color.FgRed, color.Bold)
	}

	bold.Fprintf(w, "\nStats\n")
	fmt.Fprintf(w, "  Scanned:   %d\n", s.Scanned)
	fmt.Fprintf(w, "  Excluded:  %d\n", s.Excluded)
	fmt.Fprintf(w, "  Processed: %d\n", s.Processed)
	fmt.Fprintf(w, "  Resumed:   %d\n", s.Resumed)
	fmt.Fprintf(w, "  Skipped:   %d\n", s.Skipped)
	errColor.Fprintf(w, "  Errors:    %d\n", s.Errored)

	if missed := s.Selected - s.Processed - s.Skipped - s.Errored; missed > 0 {
		fmt.Fprintf(w, "  Not run:   %d\n", missed)
	}

	//nolint:gosec // Size is always non-negative (sum of file sizes)
	fmt.Fprintf(w, "  Size:      %s\n", humanize.IBytes(uint64(max(0, s.Size))))
	fmt.Fprintf(w, "  Duration:  %s\n", s.Duration.Round(time.Millisecond))
}
