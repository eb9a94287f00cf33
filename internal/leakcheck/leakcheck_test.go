package leakcheck_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/documentdb-conformance/harness/internal/leakcheck"
)

func TestWarningFormatsFindings(t *testing.T) {
	findings := []leakcheck.Finding{
		{PID: 42, User: "docdb", State: "idle in transaction", Query: "BEGIN"},
		{PID: 43, User: "docdb", State: "idle in transaction", Query: "INSERT INTO t VALUES (1)"},
	}

	warning := leakcheck.Warning(findings)
	require.Contains(t, warning, "2 session(s) idle in transaction")
	require.Contains(t, warning, "pid=42")
	require.Contains(t, warning, "pid=43")
	require.Contains(t, warning, `query="BEGIN"`)
}

func TestWarningEmptyForNoFindings(t *testing.T) {
	require.Empty(t, leakcheck.Warning(nil))
	require.Empty(t, leakcheck.Warning([]leakcheck.Finding{}))
}

func TestUnreachableEngineYieldsEmptyFindings(t *testing.T) {
	// Neither the native driver nor psql can reach this endpoint; the
	// detector must degrade to an empty result set instead of failing.
	d := &leakcheck.Detector{Host: "127.0.0.1", Port: "1", User: "nobody", Database: "none"}

	findings := d.FindIdleTransactions(context.Background())
	require.Empty(t, findings)
}
