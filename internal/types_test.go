package internal_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/documentdb-conformance/harness/internal"
)

func TestParseExpected(t *testing.T) {
	for raw, want := range map[string]internal.Expected{
		"pass":   internal.ExpectPass,
		"PASS":   internal.ExpectPass,
		" Pass ": internal.ExpectPass,
		"fail":   internal.ExpectFail,
		"Skip":   internal.ExpectSkip,
	} {
		got, err := internal.ParseExpected(raw)
		require.NoError(t, err, raw)
		require.Equal(t, want, got, raw)
	}

	_, err := internal.ParseExpected("flaky")
	require.Error(t, err)
	require.Contains(t, err.Error(), "flaky")
}

func TestRecordLabel(t *testing.T) {
	rec := &internal.TestRecord{Status: internal.StatusPassed, MatchesExpectation: true}
	require.Equal(t, "PASSED", rec.Label())

	rec = &internal.TestRecord{Status: internal.StatusSkipped, MatchesExpectation: true}
	require.Equal(t, "SKIPPED", rec.Label())

	rec = &internal.TestRecord{Status: internal.StatusPassed, MatchesExpectation: false}
	require.Equal(t, "UNEXPECTED PASS", rec.Label())

	rec = &internal.TestRecord{Status: internal.StatusErrored, MatchesExpectation: false}
	require.Equal(t, "UNEXPECTED FAIL", rec.Label())
}

func TestCombinedOutputSingleAttemptIsUnlabeled(t *testing.T) {
	rec := &internal.TestRecord{Attempts: []internal.Attempt{
		{Number: 1, Stdout: "out", Stderr: "err"},
	}}
	stdout, stderr := rec.CombinedOutput()
	require.Equal(t, "out", stdout)
	require.Equal(t, "err", stderr)
}

func TestCombinedOutputLabelsEveryAttempt(t *testing.T) {
	rec := &internal.TestRecord{Attempts: []internal.Attempt{
		{Number: 1, Stdout: "one"},
		{Number: 2, Stdout: "two"},
	}}
	stdout, _ := rec.CombinedOutput()
	require.Contains(t, stdout, "=== ATTEMPT 1 ===\none")
	require.Contains(t, stdout, "=== ATTEMPT 2 ===\ntwo")
}

func TestSummaryExitCode(t *testing.T) {
	sum := &internal.RunSummary{}
	require.Equal(t, 0, sum.ExitCode())

	sum.Add(&internal.TestRecord{
		Descriptor:         internal.TestDescriptor{Name: "a.js"},
		Status:             internal.StatusPassed,
		MatchesExpectation: true,
	})
	require.Equal(t, 0, sum.ExitCode())

	sum.Add(&internal.TestRecord{
		Descriptor: internal.TestDescriptor{Name: "b.js"},
		Status:     internal.StatusFailed,
	})
	require.Equal(t, 1, sum.ExitCode())
	require.Equal(t, []string{"b.js"}, sum.UnexpectedFailNames)

	sum.Add(&internal.TestRecord{
		Descriptor: internal.TestDescriptor{Name: "c.js"},
		Status:     internal.StatusPassed,
	})
	require.Equal(t, []string{"c.js"}, sum.UnexpectedPassNames)
	require.Equal(t, 3, sum.Total)
	require.Equal(t, 1, sum.Passed)
	require.Equal(t, 2, sum.Failed)
}

func TestSummaryCountsExpectedFailAsPassed(t *testing.T) {
	sum := &internal.RunSummary{}
	sum.Add(&internal.TestRecord{
		Descriptor:         internal.TestDescriptor{Name: "x.js", Expected: internal.ExpectFail},
		Status:             internal.StatusFailed,
		MatchesExpectation: true,
	})
	require.Equal(t, 1, sum.Passed)
	require.Equal(t, 0, sum.Failed)
	require.Equal(t, 0, sum.ExitCode())
}
