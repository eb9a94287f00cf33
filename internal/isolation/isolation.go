// Package isolation guarantees no database-visible state leaks between
// tests: it wipes all user collections before each attempt, announces the
// test name to the server log, and can verify the wipe actually took.
package isolation

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/documentdb-conformance/harness/internal/shell"
)

const (
	// dropAttempts bounds immediate re-issues of the cleanup command.
	dropAttempts = 3
	// dropTimeout applies per issue; across all attempts the controller
	// blocks for at most dropAttempts * dropTimeout.
	dropTimeout = 10 * time.Second

	announceTimeout = 10 * time.Second
)

// reservedDatabases never get touched by the cleanup.
var reservedDatabases = mapset.NewSet("admin", "config", "local")

// systemCollectionPrefix marks server-managed collections inside user
// databases.
const systemCollectionPrefix = "system."

// dropScript enumerates every user database and drops every non-system
// collection. Issued as one --eval invocation so the whole wipe costs a
// single shell round trip.
const dropScript = `
var dbs = db.getMongo().getDBNames();
for (var i in dbs) {
    var dbName = dbs[i];
    if (dbName == 'admin' || dbName == 'config' || dbName == 'local') {
        continue;
    }
    var database = db.getMongo().getDB(dbName);
    var colls = database.getCollectionNames();
    for (var j in colls) {
        var collName = colls[j];
        if (collName.startsWith('system.')) {
            continue;
        }
        database.getCollection(collName).drop();
    }
}
`

// Controller wipes server state between tests. The shell invoker carries the
// scripted drop; the driver client, when connected, serves the announce and
// verify paths.
type Controller struct {
	inv     *shell.Invoker
	client  *mongo.Client
	enabled bool
}

func NewController(inv *shell.Invoker, client *mongo.Client, enabled bool) *Controller {
	return &Controller{inv: inv, client: client, enabled: enabled}
}

// DropAllUserState wipes every non-system collection in every non-reserved
// database. Transient failures are re-issued immediately up to dropAttempts;
// if all attempts fail the caller must not run the test body.
func (c *Controller) DropAllUserState(ctx context.Context) error {
	if !c.enabled {
		return nil
	}

	var lastErr error
	for attempt := 1; attempt <= dropAttempts; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, dropTimeout)
		res, err := c.inv.Eval(attemptCtx, dropScript)
		cancel()

		if err == nil && res.ExitCode == 0 {
			return nil
		}
		if err != nil {
			lastErr = err
		} else {
			lastErr = fmt.Errorf("drop command exited with code %d: %s", res.ExitCode, firstLine(res.Stderr))
		}
		slog.Debug("cleanup attempt failed", "attempt", attempt, "error", lastErr)
	}
	return fmt.Errorf("failed to drop collections after %d attempts: %w", dropAttempts, lastErr)
}

// Announce writes the test name into the server log by issuing a dummy
// command named after the test. The server rejecting the unknown command is
// the expected outcome; the point is the log line. Failures here are
// advisory and the caller only logs them.
func (c *Controller) Announce(ctx context.Context, testName string) error {
	ctx, cancel := context.WithTimeout(ctx, announceTimeout)
	defer cancel()

	key := "TESTCASE: " + testName

	if c.client != nil {
		err := c.client.Database("admin").RunCommand(ctx, bson.D{{Key: key, Value: 1}}).Err()
		if err == nil || strings.Contains(strings.ToLower(err.Error()), "command not found") ||
			strings.Contains(strings.ToLower(err.Error()), "no such command") {
			return nil
		}
		return fmt.Errorf("failed to announce test to server: %w", err)
	}

	escaped := strings.ReplaceAll(strings.ReplaceAll(testName, `\`, `\\`), `'`, `\'`)
	res, err := c.inv.Eval(ctx, fmt.Sprintf("db.runCommand({'TESTCASE: %s': 1})", escaped))
	if err != nil {
		return fmt.Errorf("failed to announce test to server: %w", err)
	}
	if res.ExitCode != 0 && !strings.Contains(strings.ToLower(res.Stdout), "command not found") {
		return fmt.Errorf("announce command exited with code %d", res.ExitCode)
	}
	return nil
}

// Verify re-enumerates the server and reports any non-system collection that
// survived the drop. Off by default; it complements DropAllUserState, never
// replaces it.
func (c *Controller) Verify(ctx context.Context) error {
	if c.client == nil {
		return fmt.Errorf("cleanup verification requires a driver connection")
	}

	dbNames, err := c.client.ListDatabaseNames(ctx, bson.D{})
	if err != nil {
		return fmt.Errorf("failed to list databases: %w", err)
	}

	leftovers := mapset.NewSet[string]()
	for _, dbName := range dbNames {
		if reservedDatabases.Contains(dbName) {
			continue
		}
		colls, err := c.client.Database(dbName).ListCollectionNames(ctx, bson.D{})
		if err != nil {
			return fmt.Errorf("failed to list collections of %s: %w", dbName, err)
		}
		for _, coll := range colls {
			if strings.HasPrefix(coll, systemCollectionPrefix) {
				continue
			}
			leftovers.Add(dbName + "." + coll)
		}
	}

	if leftovers.Cardinality() > 0 {
		names := leftovers.ToSlice()
		sort.Strings(names)
		return fmt.Errorf("cleanup left %d collections behind: %s",
			len(names), strings.Join(names, ", "))
	}
	return nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
