// Package termgath streams run results to the terminal: one colored line per
// test as records finalize, then the summary block.
package termgath

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/documentdb-conformance/harness/internal"
)

var (
	greenCheck    = color.New(color.FgGreen).Sprint("✓")
	yellowSkip    = color.New(color.FgYellow).Sprint("⊘")
	redCross      = color.New(color.FgRed).Sprint("✗")
	divider       = strings.Repeat("=", 80)
	thinDivider   = strings.Repeat("-", 80)
	rerunGuidance = "Re-run a narrowed manifest with --filter to reproduce individual results."
)

type TerminalGatherer struct {
	Out     io.Writer
	Verbose bool
}

func New(verbose bool) *TerminalGatherer {
	return &TerminalGatherer{Out: os.Stdout, Verbose: verbose}
}

func (t *TerminalGatherer) StartRun(info internal.RunInfo) {
	fmt.Fprintf(t.Out, "Manifest:          %s\n", info.ManifestPath)
	fmt.Fprintf(t.Out, "Shell:             %s\n", info.ShellPath)
	fmt.Fprintf(t.Out, "Connection string: %s\n", info.ConnectionString)
	fmt.Fprintf(t.Out, "Output directory:  %s\n", info.OutputDir)
	fmt.Fprintf(t.Out, "Found %d tests to run\n\n", info.TotalTests)
}

func (t *TerminalGatherer) StartTest(name string) {
	if t.Verbose {
		fmt.Fprintf(t.Out, "Running: %s\n", name)
	}
}

func (t *TerminalGatherer) FinishTest(rec *internal.TestRecord) {
	symbol := redCross
	if rec.MatchesExpectation {
		symbol = greenCheck
		if rec.Status == internal.StatusSkipped {
			symbol = yellowSkip
		}
	}

	fmt.Fprintf(t.Out, "%s %s - %s (%s)\n",
		symbol, rec.Descriptor.Name, rec.Label(), rec.Duration().Round(time.Millisecond))

	if !rec.MatchesExpectation && t.Verbose {
		fmt.Fprintf(t.Out, "  Expected: %s\n", rec.Descriptor.Expected)
		if rec.Err != "" {
			fmt.Fprintf(t.Out, "  Error: %s\n", rec.Err)
		}
		if n := len(rec.Attempts); n > 0 {
			last := rec.Attempts[n-1]
			fmt.Fprintf(t.Out, "  Attempts: %d, last exit code: %d\n", n, last.ExitCode)
			if last.Stderr != "" {
				fmt.Fprintf(t.Out, "  Stderr: %s\n", clip(last.Stderr, 200))
			}
		}
	}
}

func (t *TerminalGatherer) FinishRun(sum *internal.RunSummary) {
	fmt.Fprintf(t.Out, "\n%s\n", divider)
	fmt.Fprintln(t.Out, "TEST SUMMARY")
	fmt.Fprintln(t.Out, divider)
	fmt.Fprintf(t.Out, "Total:            %d\n", sum.Total)
	fmt.Fprintf(t.Out, "Passed:           %d\n", sum.Passed)
	fmt.Fprintf(t.Out, "Failed:           %d\n", sum.Failed)
	fmt.Fprintf(t.Out, "Skipped:          %d\n", sum.Skipped)
	fmt.Fprintf(t.Out, "Unexpected Pass:  %d\n", sum.UnexpectedPass)
	fmt.Fprintf(t.Out, "Unexpected Fail:  %d\n", sum.UnexpectedFail)
	fmt.Fprintf(t.Out, "Duration:         %s\n", FormatDuration(sum.Duration))
	fmt.Fprintln(t.Out, divider)

	if len(sum.UnexpectedFailNames) > 0 {
		fmt.Fprintf(t.Out, "\nUnexpected failures:\n")
		for _, name := range sum.UnexpectedFailNames {
			fmt.Fprintf(t.Out, "  %s %s\n", redCross, name)
		}
	}
	if len(sum.UnexpectedPassNames) > 0 {
		fmt.Fprintf(t.Out, "\nUnexpected passes:\n")
		for _, name := range sum.UnexpectedPassNames {
			fmt.Fprintf(t.Out, "  %s %s\n", redCross, name)
		}
	}
	if len(sum.UnexpectedFailNames) > 0 || len(sum.UnexpectedPassNames) > 0 {
		fmt.Fprintf(t.Out, "\n%s\n%s\n", thinDivider, rerunGuidance)
	}
}

// FormatDuration renders a wall-clock duration as h/m/s, omitting higher
// units when they are zero.
func FormatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	m := (d % time.Hour) / time.Minute
	s := (d % time.Minute) / time.Second
	switch {
	case h > 0:
		return fmt.Sprintf("%dh%dm%ds", h, m, s)
	case m > 0:
		return fmt.Sprintf("%dm%ds", m, s)
	default:
		return fmt.Sprintf("%ds", s)
	}
}

func clip(s string, max int) string {
	s = strings.TrimSpace(s)
	if len(s) <= max {
		return s
	}
	return s[:max] + "[...]"
}
