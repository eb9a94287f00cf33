// Package leakcheck inspects the backing Postgres engine for sessions left
// idle inside an open transaction after a test attempt. Findings are
// advisory: they annotate the attempt output but never change a verdict.
package leakcheck

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

const queryTimeout = 5 * time.Second

const idleTxQuery = `SELECT pid, COALESCE(usename, ''), state, COALESCE(query, '')
FROM pg_stat_activity
WHERE state = 'idle in transaction' AND pid <> pg_backend_pid()`

// Finding is one leaked session.
type Finding struct {
	PID   int
	User  string
	State string
	Query string
}

func (f Finding) String() string {
	return fmt.Sprintf("pid=%d user=%s state=%q query=%q", f.PID, f.User, f.State, f.Query)
}

// Detector queries pg_stat_activity through the native driver when it can
// connect, falls back to the psql command-line client otherwise, and reports
// nothing at all when neither path is available.
type Detector struct {
	Host     string
	Port     string
	User     string
	Password string
	Database string
}

// FindIdleTransactions returns leaked sessions, or nil when nothing leaked
// or no query path was available. It never fails the caller.
func (d *Detector) FindIdleTransactions(ctx context.Context) []Finding {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	findings, err := d.queryNative(ctx)
	if err == nil {
		return findings
	}
	slog.Debug("native leak query unavailable, trying psql", "error", err)

	findings, err = d.queryPsql(ctx)
	if err != nil {
		slog.Debug("psql leak query unavailable", "error", err)
		return nil
	}
	return findings
}

func (d *Detector) dsn() string {
	parts := []string{
		"host=" + d.Host,
		"port=" + d.Port,
		"sslmode=disable",
		"connect_timeout=5",
	}
	if d.User != "" {
		parts = append(parts, "user="+d.User)
	}
	if d.Password != "" {
		parts = append(parts, "password="+d.Password)
	}
	if d.Database != "" {
		parts = append(parts, "dbname="+d.Database)
	}
	return strings.Join(parts, " ")
}

func (d *Detector) queryNative(ctx context.Context) ([]Finding, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", d.dsn())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	defer db.Close()

	rows, err := db.QueryContext(ctx, idleTxQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to query pg_stat_activity: %w", err)
	}
	defer rows.Close()

	var findings []Finding
	for rows.Next() {
		var f Finding
		if err := rows.Scan(&f.PID, &f.User, &f.State, &f.Query); err != nil {
			return nil, fmt.Errorf("failed to scan pg_stat_activity row: %w", err)
		}
		findings = append(findings, f)
	}
	return findings, rows.Err()
}

func (d *Detector) queryPsql(ctx context.Context) ([]Finding, error) {
	args := []string{
		"-h", d.Host,
		"-p", d.Port,
		"-t", "-A", "-F", "|",
		"-c", idleTxQuery,
	}
	if d.User != "" {
		args = append(args, "-U", d.User)
	}
	if d.Database != "" {
		args = append(args, "-d", d.Database)
	}

	cmd := exec.CommandContext(ctx, "psql", args...)
	if d.Password != "" {
		cmd.Env = append(cmd.Environ(), "PGPASSWORD="+d.Password)
	}

	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("failed to run psql: %w", err)
	}

	var findings []Finding
	for _, line := range strings.Split(stdout.String(), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		fields := strings.SplitN(line, "|", 4)
		if len(fields) < 3 {
			continue
		}
		pid, err := strconv.Atoi(strings.TrimSpace(fields[0]))
		if err != nil {
			continue
		}
		f := Finding{PID: pid, User: fields[1], State: fields[2]}
		if len(fields) == 4 {
			f.Query = fields[3]
		}
		findings = append(findings, f)
	}
	return findings, nil
}

// Warning renders findings as the stderr annotation appended to an attempt.
func Warning(findings []Finding) string {
	if len(findings) == 0 {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "WARNING: %d session(s) idle in transaction after test:\n", len(findings))
	for _, f := range findings {
		b.WriteString("  " + f.String() + "\n")
	}
	return b.String()
}
