package internal

import (
	"fmt"
	"strings"
	"time"
)

// Expected is the outcome a manifest row declares for a test.
type Expected string

const (
	ExpectPass Expected = "pass"
	ExpectFail Expected = "fail"
	ExpectSkip Expected = "skip"
)

// ParseExpected maps a raw manifest value to an Expected, case-insensitively.
func ParseExpected(raw string) (Expected, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "pass":
		return ExpectPass, nil
	case "fail":
		return ExpectFail, nil
	case "skip":
		return ExpectSkip, nil
	}
	return "", fmt.Errorf("unrecognized expected outcome %q (want pass, fail or skip)", raw)
}

// Status is the observed terminal result of a test.
type Status string

const (
	StatusPassed  Status = "passed"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
	StatusErrored Status = "error"
)

// TestDescriptor is one manifest row with its script path resolved.
// Immutable after manifest load.
type TestDescriptor struct {
	Name       string
	Expected   Expected
	ScriptPath string
}

// Attempt holds the captured result of a single execution attempt.
type Attempt struct {
	Number     int
	ExitCode   int64
	DurationMs int64
	Stdout     string
	Stderr     string
}

// TestRecord is the durable result of a descriptor after all attempts.
type TestRecord struct {
	Descriptor         TestDescriptor
	Status             Status
	MatchesExpectation bool
	Attempts           []Attempt

	// Err explains a terminal error reached without executing the body,
	// e.g. a missing script file.
	Err string
}

// Duration sums the wall time of all attempts.
func (r *TestRecord) Duration() time.Duration {
	var ms int64
	for _, a := range r.Attempts {
		ms += a.DurationMs
	}
	return time.Duration(ms) * time.Millisecond
}

// Label is the classification shown next to the test name.
func (r *TestRecord) Label() string {
	if r.MatchesExpectation {
		return strings.ToUpper(string(r.Status))
	}
	if r.Status == StatusPassed {
		return "UNEXPECTED PASS"
	}
	return "UNEXPECTED FAIL"
}

// CombinedOutput concatenates the labeled stdout/stderr of every attempt so a
// reader can tell a consistent failure apart from an intermittent one.
func (r *TestRecord) CombinedOutput() (stdout string, stderr string) {
	if len(r.Attempts) == 1 {
		return r.Attempts[0].Stdout, r.Attempts[0].Stderr
	}
	var out, errOut strings.Builder
	for _, a := range r.Attempts {
		fmt.Fprintf(&out, "=== ATTEMPT %d ===\n%s\n", a.Number, a.Stdout)
		fmt.Fprintf(&errOut, "=== ATTEMPT %d ===\n%s\n", a.Number, a.Stderr)
	}
	return out.String(), errOut.String()
}

// RunSummary accumulates terminal records over one harness invocation.
// The runner owns it; gatherers receive it once, after the last test.
type RunSummary struct {
	Total          int
	Passed         int
	Failed         int
	Skipped        int
	UnexpectedPass int
	UnexpectedFail int

	UnexpectedFailNames []string
	UnexpectedPassNames []string

	Duration time.Duration
}

// Add folds one terminal record into the summary.
func (s *RunSummary) Add(rec *TestRecord) {
	s.Total++
	if rec.MatchesExpectation {
		if rec.Status == StatusSkipped {
			s.Skipped++
		} else {
			s.Passed++
		}
		return
	}
	s.Failed++
	if rec.Status == StatusPassed {
		s.UnexpectedPass++
		s.UnexpectedPassNames = append(s.UnexpectedPassNames, rec.Descriptor.Name)
	} else {
		s.UnexpectedFail++
		s.UnexpectedFailNames = append(s.UnexpectedFailNames, rec.Descriptor.Name)
	}
}

// ExitCode implements the CI gating rule: zero only when every observed
// result matched its declared expectation.
func (s *RunSummary) ExitCode() int {
	if s.UnexpectedPass > 0 || s.UnexpectedFail > 0 {
		return 1
	}
	return 0
}
