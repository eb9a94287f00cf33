package termgath_test

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/documentdb-conformance/harness/internal"
	"github.com/documentdb-conformance/harness/internal/gatherer/termgath"
)

func newGatherer(verbose bool) (*termgath.TerminalGatherer, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	g := termgath.New(verbose)
	g.Out = buf
	return g, buf
}

func TestFormatDuration(t *testing.T) {
	require.Equal(t, "5s", termgath.FormatDuration(5*time.Second))
	require.Equal(t, "0s", termgath.FormatDuration(300*time.Millisecond))
	require.Equal(t, "2m5s", termgath.FormatDuration(125*time.Second))
	require.Equal(t, "1h0m3s", termgath.FormatDuration(time.Hour+3*time.Second))
	require.Equal(t, "3h42m0s", termgath.FormatDuration(3*time.Hour+42*time.Minute))
}

func TestFinishTestStreamsOneLine(t *testing.T) {
	g, buf := newGatherer(false)

	g.FinishTest(&internal.TestRecord{
		Descriptor:         internal.TestDescriptor{Name: "core/insert.js", Expected: internal.ExpectPass},
		Status:             internal.StatusPassed,
		MatchesExpectation: true,
		Attempts:           []internal.Attempt{{Number: 1, DurationMs: 1500}},
	})

	out := buf.String()
	require.Contains(t, out, "core/insert.js")
	require.Contains(t, out, "PASSED")
	require.Contains(t, out, "1.5s")
}

func TestFinishTestLabelsMismatches(t *testing.T) {
	g, buf := newGatherer(false)

	g.FinishTest(&internal.TestRecord{
		Descriptor: internal.TestDescriptor{Name: "x.js", Expected: internal.ExpectFail},
		Status:     internal.StatusPassed,
		Attempts:   []internal.Attempt{{Number: 1}},
	})
	require.Contains(t, buf.String(), "UNEXPECTED PASS")

	buf.Reset()
	g.FinishTest(&internal.TestRecord{
		Descriptor: internal.TestDescriptor{Name: "y.js", Expected: internal.ExpectPass},
		Status:     internal.StatusFailed,
		Attempts:   []internal.Attempt{{Number: 1, ExitCode: 1}},
	})
	require.Contains(t, buf.String(), "UNEXPECTED FAIL")
}

func TestVerboseMismatchShowsDetail(t *testing.T) {
	g, buf := newGatherer(true)

	g.FinishTest(&internal.TestRecord{
		Descriptor: internal.TestDescriptor{Name: "y.js", Expected: internal.ExpectPass},
		Status:     internal.StatusFailed,
		Attempts:   []internal.Attempt{{Number: 1, ExitCode: 14, Stderr: "assert failed"}},
	})

	out := buf.String()
	require.Contains(t, out, "Expected: pass")
	require.Contains(t, out, "last exit code: 14")
	require.Contains(t, out, "assert failed")
}

func TestFinishRunPrintsSummaryBlock(t *testing.T) {
	g, buf := newGatherer(false)

	g.FinishRun(&internal.RunSummary{
		Total:               10,
		Passed:              6,
		Failed:              3,
		Skipped:             1,
		UnexpectedPass:      1,
		UnexpectedFail:      2,
		UnexpectedFailNames: []string{"a.js", "b.js"},
		UnexpectedPassNames: []string{"c.js"},
		Duration:            95 * time.Second,
	})

	out := buf.String()
	require.Contains(t, out, "TEST SUMMARY")
	require.Contains(t, out, "Total:            10")
	require.Contains(t, out, "Passed:           6")
	require.Contains(t, out, "Failed:           3")
	require.Contains(t, out, "Skipped:          1")
	require.Contains(t, out, "Unexpected Pass:  1")
	require.Contains(t, out, "Unexpected Fail:  2")
	require.Contains(t, out, "Duration:         1m35s")
	require.Contains(t, out, "Unexpected failures:")
	require.Contains(t, out, "a.js")
	require.Contains(t, out, "Unexpected passes:")
	require.Contains(t, out, "c.js")
	require.Contains(t, out, "--filter")
}

func TestFinishRunOmitsEmptyLists(t *testing.T) {
	g, buf := newGatherer(false)

	g.FinishRun(&internal.RunSummary{Total: 2, Passed: 2, Duration: time.Second})

	out := buf.String()
	require.NotContains(t, out, "Unexpected failures:")
	require.NotContains(t, out, "Unexpected passes:")
	require.NotContains(t, out, "--filter")
}
