package isolation_test

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/documentdb-conformance/harness/internal/connstr"
	"github.com/documentdb-conformance/harness/internal/isolation"
	"github.com/documentdb-conformance/harness/internal/shell"
)

func fakeShell(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fake-mongo")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755))
	return path
}

func newInvoker(t *testing.T, shellBin string) *shell.Invoker {
	t.Helper()
	conn, err := connstr.Parse("mongodb://localhost:10260/?tls=true")
	require.NoError(t, err)
	return &shell.Invoker{ShellBin: shellBin, Conn: conn, CorpusDir: t.TempDir()}
}

// countingShell fails the first failures invocations, then succeeds. The
// invocation count lands in countFile.
func countingShell(t *testing.T, countFile string, failures int) string {
	t.Helper()
	return fakeShell(t, `count=$(cat "`+countFile+`" 2>/dev/null || echo 0)
count=$((count+1))
echo "$count" > "`+countFile+`"
if [ "$count" -le `+strconv.Itoa(failures)+` ]; then
  echo "transient failure" >&2
  exit 1
fi
exit 0
`)
}

func invocations(t *testing.T, countFile string) int {
	t.Helper()
	raw, err := os.ReadFile(countFile)
	if os.IsNotExist(err) {
		return 0
	}
	require.NoError(t, err)
	n, err := strconv.Atoi(string(raw[:len(raw)-1]))
	require.NoError(t, err)
	return n
}

func TestDropSucceedsFirstTry(t *testing.T) {
	countFile := filepath.Join(t.TempDir(), "count")
	inv := newInvoker(t, countingShell(t, countFile, 0))
	c := isolation.NewController(inv, nil, true)

	require.NoError(t, c.DropAllUserState(context.Background()))
	require.Equal(t, 1, invocations(t, countFile))
}

func TestDropRetriesOnTransientFailure(t *testing.T) {
	countFile := filepath.Join(t.TempDir(), "count")
	inv := newInvoker(t, countingShell(t, countFile, 2))
	c := isolation.NewController(inv, nil, true)

	require.NoError(t, c.DropAllUserState(context.Background()))
	require.Equal(t, 3, invocations(t, countFile))
}

func TestDropFailsAfterBoundedRetries(t *testing.T) {
	countFile := filepath.Join(t.TempDir(), "count")
	inv := newInvoker(t, countingShell(t, countFile, 100))
	c := isolation.NewController(inv, nil, true)

	err := c.DropAllUserState(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "after 3 attempts")
	require.Equal(t, 3, invocations(t, countFile))
}

func TestDropIsIdempotent(t *testing.T) {
	countFile := filepath.Join(t.TempDir(), "count")
	inv := newInvoker(t, countingShell(t, countFile, 0))
	c := isolation.NewController(inv, nil, true)

	require.NoError(t, c.DropAllUserState(context.Background()))
	require.NoError(t, c.DropAllUserState(context.Background()))
	require.Equal(t, 2, invocations(t, countFile))
}

func TestDropDisabledIssuesNothing(t *testing.T) {
	countFile := filepath.Join(t.TempDir(), "count")
	inv := newInvoker(t, countingShell(t, countFile, 0))
	c := isolation.NewController(inv, nil, false)

	require.NoError(t, c.DropAllUserState(context.Background()))
	require.Equal(t, 0, invocations(t, countFile))
}

func TestAnnounceViaShellFallback(t *testing.T) {
	inv := newInvoker(t, fakeShell(t, `echo "args: $@"`+"\n"))
	c := isolation.NewController(inv, nil, true)

	require.NoError(t, c.Announce(context.Background(), "core/insert's.js"))
}

func TestAnnounceToleratesUnknownCommand(t *testing.T) {
	inv := newInvoker(t, fakeShell(t, `echo "command not found"
exit 1
`))
	c := isolation.NewController(inv, nil, true)

	require.NoError(t, c.Announce(context.Background(), "x.js"))
}

func TestAnnounceReportsHardFailure(t *testing.T) {
	inv := newInvoker(t, fakeShell(t, `echo "connection refused" >&2
exit 1
`))
	c := isolation.NewController(inv, nil, true)

	require.Error(t, c.Announce(context.Background(), "x.js"))
}

func TestVerifyRequiresDriverConnection(t *testing.T) {
	inv := newInvoker(t, fakeShell(t, "exit 0\n"))
	c := isolation.NewController(inv, nil, true)

	err := c.Verify(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "driver connection")
}
