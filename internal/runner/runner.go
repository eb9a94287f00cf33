// Package runner drives the per-test state machine: isolation, execution,
// classification against the manifest expectation, and the bounded retry
// policy for flaky pass-expected tests.
package runner

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/documentdb-conformance/harness/internal"
	"github.com/documentdb-conformance/harness/internal/leakcheck"
	"github.com/documentdb-conformance/harness/internal/resultstore"
	"github.com/documentdb-conformance/harness/internal/shell"
)

const (
	// maxPassAttempts absorbs flakiness of pass-expected tests. Fail-expected
	// tests get exactly one attempt: retrying those would hide a real,
	// reproducible breakage.
	maxPassAttempts = 5

	// retryPause lets transient server-side conditions (connection churn)
	// clear between attempts. Deliberately flat, not exponential: the corpus
	// is large and longer backoff would make full runs prohibitively slow.
	retryPause = 1 * time.Second
)

// Cleaner wipes and inspects server state between tests.
type Cleaner interface {
	DropAllUserState(ctx context.Context) error
	Announce(ctx context.Context, testName string) error
	Verify(ctx context.Context) error
}

// Executor runs one opaque test script to completion.
type Executor interface {
	RunScript(ctx context.Context, testName string, scriptPath string) *shell.Result
}

// LeakChecker inspects the storage engine for sessions leaked by a test.
type LeakChecker interface {
	FindIdleTransactions(ctx context.Context) []leakcheck.Finding
}

// Runner evaluates manifest descriptors sequentially. The server is a global
// resource; there is no per-test namespacing, so two bodies must never
// overlap.
type Runner struct {
	cleaner Cleaner
	exec    Executor
	leak    LeakChecker // nil when leak detection is disabled
	gath    internal.RunGatherer
	store   *resultstore.Store // nil when log persistence is disabled

	retriesEnabled bool
	verifyCleanup  bool
	pause          time.Duration
}

func New(cleaner Cleaner, exec Executor, gath internal.RunGatherer) *Runner {
	return &Runner{
		cleaner:        cleaner,
		exec:           exec,
		gath:           gath,
		retriesEnabled: true,
		pause:          retryPause,
	}
}

// WithLeakChecker enables post-attempt leak detection.
func (r *Runner) WithLeakChecker(lc LeakChecker) *Runner {
	r.leak = lc
	return r
}

// WithStore persists logs of non-matching records to the given store.
func (r *Runner) WithStore(store *resultstore.Store) *Runner {
	r.store = store
	return r
}

// WithRetries toggles the retry policy for pass-expected tests.
func (r *Runner) WithRetries(enabled bool) *Runner {
	r.retriesEnabled = enabled
	return r
}

// WithCleanupVerification enables the stricter post-drop leftover check.
func (r *Runner) WithCleanupVerification(enabled bool) *Runner {
	r.verifyCleanup = enabled
	return r
}

// WithRetryPause overrides the inter-attempt pause. Used by tests.
func (r *Runner) WithRetryPause(d time.Duration) *Runner {
	r.pause = d
	return r
}

// RunAll evaluates every descriptor in order and returns the folded summary.
// No error escapes a single test's evaluation; everything lands in records.
func (r *Runner) RunAll(ctx context.Context, info internal.RunInfo, tests []internal.TestDescriptor) *internal.RunSummary {
	started := time.Now()
	info.TotalTests = len(tests)
	r.gath.StartRun(info)

	sum := &internal.RunSummary{}
	for i := range tests {
		rec := r.runOne(ctx, tests[i])
		sum.Add(rec)
		r.gath.FinishTest(rec)
		if !rec.MatchesExpectation && r.store != nil {
			r.store.Schedule(rec)
		}
	}

	sum.Duration = time.Since(started)
	r.gath.FinishRun(sum)
	return sum
}

func (r *Runner) runOne(ctx context.Context, td internal.TestDescriptor) *internal.TestRecord {
	r.gath.StartTest(td.Name)

	if td.Expected == internal.ExpectSkip {
		return &internal.TestRecord{
			Descriptor:         td,
			Status:             internal.StatusSkipped,
			MatchesExpectation: true,
		}
	}

	// A missing script is terminal before any execution. When the expectation
	// is fail this still does not count as the expected failure.
	if _, err := os.Stat(td.ScriptPath); err != nil {
		return &internal.TestRecord{
			Descriptor:         td,
			Status:             internal.StatusErrored,
			MatchesExpectation: false,
			Err:                "test file not found: " + td.ScriptPath,
		}
	}

	maxAttempts := maxPassAttempts
	if td.Expected == internal.ExpectFail || !r.retriesEnabled {
		maxAttempts = 1
	}

	rec := &internal.TestRecord{Descriptor: td}
	for number := 1; number <= maxAttempts; number++ {
		if number > 1 {
			time.Sleep(r.pause)
		}

		attempt, status := r.runAttempt(ctx, td, number)
		rec.Attempts = append(rec.Attempts, attempt)
		rec.Status = status

		if matchesExpectation(td.Expected, status) {
			rec.MatchesExpectation = true
			return rec
		}
		slog.Debug("attempt did not match expectation",
			"test", td.Name, "attempt", number, "status", status, "expected", td.Expected)
	}

	rec.MatchesExpectation = false
	return rec
}

// runAttempt performs one full attempt: cleanup, announce, body, leak check.
// A cleanup failure yields an errored attempt without running the body; it
// still counts against the attempt budget.
func (r *Runner) runAttempt(ctx context.Context, td internal.TestDescriptor, number int) (internal.Attempt, internal.Status) {
	if err := r.cleaner.DropAllUserState(ctx); err != nil {
		return internal.Attempt{
			Number:   number,
			ExitCode: shell.TimeoutExitCode,
			Stderr:   "cleanup failed, test body not executed: " + err.Error(),
		}, internal.StatusErrored
	}

	if r.verifyCleanup {
		if err := r.cleaner.Verify(ctx); err != nil {
			slog.Warn("cleanup verification failed", "test", td.Name, "error", err)
		}
	}

	if err := r.cleaner.Announce(ctx, td.Name); err != nil {
		slog.Debug("failed to announce test name to server", "test", td.Name, "error", err)
	}

	res := r.exec.RunScript(ctx, td.Name, td.ScriptPath)
	attempt := internal.Attempt{
		Number:     number,
		ExitCode:   res.ExitCode,
		DurationMs: res.DurationMs,
		Stdout:     res.Stdout,
		Stderr:     res.Stderr,
	}

	if r.leak != nil {
		if findings := r.leak.FindIdleTransactions(ctx); len(findings) > 0 {
			attempt.Stderr += "\n" + leakcheck.Warning(findings)
			slog.Warn("leaked sessions detected", "test", td.Name, "count", len(findings))
		}
	}

	if res.ExitCode == 0 {
		return attempt, internal.StatusPassed
	}
	return attempt, internal.StatusFailed
}

func matchesExpectation(expected internal.Expected, status internal.Status) bool {
	switch expected {
	case internal.ExpectPass:
		return status == internal.StatusPassed
	case internal.ExpectFail:
		return status == internal.StatusFailed
	}
	return false
}
