// Package shell builds and runs mongo shell invocations: the opaque test
// scripts themselves and one-off --eval commands issued by the isolation
// layer.
package shell

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/documentdb-conformance/harness/internal/connstr"
)

// TestTimeout bounds the lifetime of a single test script execution.
const TestTimeout = 300 * time.Second

// waitDelay bounds how long Wait keeps draining output pipes after the
// deadline kills the shell. Test scripts spawn background helpers that
// inherit stdout and would otherwise hold the pipe open past the deadline.
const waitDelay = 2 * time.Second

// TimeoutExitCode is the synthesized exit code for timed-out or unlaunchable
// processes.
const TimeoutExitCode = -1

// Result captures one finished (or synthesized) shell invocation.
type Result struct {
	ExitCode   int64
	DurationMs int64
	Stdout     string
	Stderr     string
}

// Invoker knows how to assemble mongo shell command lines for one run.
type Invoker struct {
	ShellBin    string
	Conn        *connstr.Descriptor
	SSLHelper   string
	CommonSetup string
	CorpusDir   string

	// Timeout overrides TestTimeout when nonzero. Used by tests.
	Timeout time.Duration
}

// FindShell locates the legacy mongo shell on PATH.
func FindShell() (string, error) {
	path, err := exec.LookPath("mongo")
	if err != nil {
		return "", fmt.Errorf("could not find the mongo shell on PATH, specify it with --shell: %w", err)
	}
	return path, nil
}

// WorkDir is the working directory every child runs in: the parent of the
// corpus directory, so relative helper lookups inside scripts resolve the
// same way regardless of where the harness itself was started.
func (inv *Invoker) WorkDir() string {
	return filepath.Dir(inv.CorpusDir)
}

func (inv *Invoker) baseArgs() []string {
	return []string{
		inv.Conn.Raw,
		"--tls",
		"--tlsAllowInvalidCertificates",
	}
}

// RunScript executes one opaque test script under the hard timeout. It never
// returns an error: launch failures and timeouts are folded into the Result
// so the classification layer sees a uniform failure shape.
func (inv *Invoker) RunScript(ctx context.Context, testName string, scriptPath string) *Result {
	args := inv.baseArgs()
	if inv.SSLHelper != "" {
		if _, err := os.Stat(inv.SSLHelper); err == nil {
			abs, _ := filepath.Abs(inv.SSLHelper)
			args = append(args, abs)
		}
	}
	if inv.CommonSetup != "" {
		abs, _ := filepath.Abs(inv.CommonSetup)
		args = append(args, abs)
	}
	args = append(args, scriptPath)

	timeout := inv.Timeout
	if timeout == 0 {
		timeout = TestTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, inv.ShellBin, args...)
	cmd.Dir = inv.WorkDir()
	cmd.Env = inv.childEnv(testName)
	cmd.WaitDelay = waitDelay

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	started := time.Now()
	err := cmd.Run()
	durationMs := time.Since(started).Milliseconds()

	if ctx.Err() == context.DeadlineExceeded {
		return &Result{
			ExitCode:   TimeoutExitCode,
			DurationMs: timeout.Milliseconds(),
			Stderr:     fmt.Sprintf("test timed out after %s", timeout),
		}
	}

	res := &Result{
		DurationMs: durationMs,
		Stdout:     stdout.String(),
		Stderr:     stderr.String(),
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = int64(exitErr.ExitCode())
			return res
		}
		res.ExitCode = TimeoutExitCode
		res.Stderr = err.Error()
		return res
	}
	return res
}

// Eval runs a single inline script via --eval, used for cleanup and other
// server-side housekeeping. Unlike RunScript, launch failures surface as
// errors because the callers treat them as infrastructure faults.
func (inv *Invoker) Eval(ctx context.Context, script string) (*Result, error) {
	args := append(inv.baseArgs(), "--eval", script)

	cmd := exec.CommandContext(ctx, inv.ShellBin, args...)
	cmd.WaitDelay = waitDelay

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	started := time.Now()
	err := cmd.Run()
	res := &Result{
		DurationMs: time.Since(started).Milliseconds(),
		Stdout:     stdout.String(),
		Stderr:     stderr.String(),
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = int64(exitErr.ExitCode())
			return res, nil
		}
		return nil, fmt.Errorf("failed to run shell eval: %w", err)
	}
	return res, nil
}

// childEnv is the parent environment plus the identifying values opaque test
// scripts use to self-configure.
func (inv *Invoker) childEnv(testName string) []string {
	cwd, _ := os.Getwd()

	base := filepath.Base(testName)
	stem := strings.TrimSuffix(base, filepath.Ext(base))

	env := append(os.Environ(),
		"JS_TEST_NAME="+stem,
		"TEST_ROOT_DIR="+cwd,
		"MONGO_TEST_WORKING_DIR="+inv.WorkDir(),
	)
	if inv.Conn.Username != "" {
		env = append(env, "MONGO_USERNAME="+inv.Conn.Username)
	}
	if inv.Conn.Password != "" {
		env = append(env, "MONGO_PASSWORD="+inv.Conn.Password)
	}
	return env
}
