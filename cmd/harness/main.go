package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/lmittmann/tint"
	"github.com/nats-io/nats.go"
	"github.com/urfave/cli/v3"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"golang.org/x/sync/errgroup"

	"github.com/documentdb-conformance/harness/internal"
	"github.com/documentdb-conformance/harness/internal/connstr"
	"github.com/documentdb-conformance/harness/internal/environment"
	"github.com/documentdb-conformance/harness/internal/gatherer/multigath"
	"github.com/documentdb-conformance/harness/internal/gatherer/natsgath"
	"github.com/documentdb-conformance/harness/internal/gatherer/sqsgath"
	"github.com/documentdb-conformance/harness/internal/gatherer/termgath"
	"github.com/documentdb-conformance/harness/internal/isolation"
	"github.com/documentdb-conformance/harness/internal/leakcheck"
	"github.com/documentdb-conformance/harness/internal/manifest"
	"github.com/documentdb-conformance/harness/internal/resultstore"
	"github.com/documentdb-conformance/harness/internal/runner"
	"github.com/documentdb-conformance/harness/internal/shell"
)

func main() {
	cmd := &cli.Command{
		Name:  "harness",
		Usage: "run mongo shell conformance tests against a DocumentDB-compatible server",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Usage: "TOML file supplying flag defaults"},
			&cli.StringFlag{Name: "corpus-dir", Value: "/tmp/mongo_r7.0.11/jstests", Usage: "path to the jstests corpus", Sources: cli.EnvVars("JSTESTS_DIR")},
			&cli.StringFlag{Name: "shell", Usage: "path to the mongo shell binary (auto-detected when empty)"},
			&cli.StringFlag{Name: "connection-string", Value: "mongodb://localhost:27017/?tls=true&tlsAllowInvalidCertificates=true", Sources: cli.EnvVars("MONGO_CONNECTION_STRING")},
			&cli.StringFlag{Name: "manifest", Value: "tests.csv", Usage: "path to the test manifest CSV"},
			&cli.StringFlag{Name: "common-setup", Value: "commonsetup.js", Usage: "script loaded before every test"},
			&cli.StringFlag{Name: "ssl-helper", Value: "sslEnabledParallelShell.js", Usage: "SSL helper script loaded when present"},
			&cli.StringFlag{Name: "output-dir", Value: defaultOutputDir(), Usage: "directory for per-test logs"},
			&cli.StringFlag{Name: "filter", Usage: "run only tests whose declared name matches this regex"},
			&cli.BoolFlag{Name: "verbose", Aliases: []string{"v"}},
			&cli.BoolFlag{Name: "no-drop-collections", Usage: "skip dropping collections before each test"},
			&cli.BoolFlag{Name: "no-retries", Usage: "disable retries of flaky pass-expected tests"},
			&cli.BoolFlag{Name: "verify-cleanup", Usage: "re-query for leftover collections after each cleanup"},
			&cli.BoolFlag{Name: "leak-check", Usage: "inspect the storage engine for leaked sessions after each attempt"},
			&cli.StringFlag{Name: "pg-host", Value: "localhost", Sources: cli.EnvVars("PG_HOST")},
			&cli.StringFlag{Name: "pg-port", Value: "5432", Sources: cli.EnvVars("PG_PORT")},
			&cli.StringFlag{Name: "pg-user", Sources: cli.EnvVars("PG_USER")},
			&cli.StringFlag{Name: "pg-database", Sources: cli.EnvVars("PG_DATABASE")},
			&cli.StringFlag{Name: "publish-nats", Usage: "NATS server URL to stream run events to", Sources: cli.EnvVars("HARNESS_NATS_URL")},
			&cli.StringFlag{Name: "nats-subject", Value: "harness.runs", Sources: cli.EnvVars("HARNESS_NATS_SUBJECT")},
			&cli.StringFlag{Name: "publish-sqs", Usage: "SQS queue URL to stream run events to", Sources: cli.EnvVars("HARNESS_SQS_URL")},
			&cli.IntFlag{Name: "parallel", Value: 1, Usage: "worker count (reserved)"},
		},
		Action: run,
	}

	environment.LoadDotEnv()

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		if exitErr, ok := err.(cli.ExitCoder); ok {
			if msg := exitErr.Error(); msg != "" {
				fmt.Fprintln(os.Stderr, msg)
			}
			os.Exit(exitErr.ExitCode())
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
}

func defaultOutputDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "test-results"
	}
	return filepath.Join(home, "tmp", "jstests-results")
}

func run(ctx context.Context, cmd *cli.Command) error {
	if path := cmd.String("config"); path != "" {
		if err := applyConfigFile(cmd, path); err != nil {
			return cli.Exit(err.Error(), 2)
		}
	}

	// Read only after the config overlay so a file-supplied verbose counts.
	verbose := cmd.Bool("verbose")
	setupLogging(verbose)

	if cmd.Int("parallel") != 1 {
		return cli.Exit("--parallel is reserved and not yet implemented; only 1 worker is supported", 2)
	}

	conn, err := connstr.Parse(cmd.String("connection-string"))
	if err != nil {
		return cli.Exit(err.Error(), 2)
	}

	shellBin := cmd.String("shell")
	if shellBin == "" {
		shellBin, err = shell.FindShell()
		if err != nil {
			return cli.Exit(err.Error(), 2)
		}
	}

	var filter *regexp.Regexp
	if pattern := cmd.String("filter"); pattern != "" {
		filter, err = regexp.Compile(pattern)
		if err != nil {
			return cli.Exit(fmt.Sprintf("invalid --filter pattern: %v", err), 2)
		}
	}

	corpusDir := cmd.String("corpus-dir")
	manifestPath := cmd.String("manifest")
	outputDir := cmd.String("output-dir")

	if err := preflight(ctx, shellBin, corpusDir, manifestPath, outputDir); err != nil {
		return cli.Exit(err.Error(), 2)
	}

	tests, err := manifest.Load(manifestPath, corpusDir, filter)
	if err != nil {
		return cli.Exit(err.Error(), 2)
	}

	inv := &shell.Invoker{
		ShellBin:    shellBin,
		Conn:        conn,
		SSLHelper:   cmd.String("ssl-helper"),
		CommonSetup: cmd.String("common-setup"),
		CorpusDir:   corpusDir,
	}

	client := connectDriver(ctx, conn)
	if client != nil {
		defer func() { _ = client.Disconnect(context.Background()) }()
	}

	cleaner := isolation.NewController(inv, client, !cmd.Bool("no-drop-collections"))

	store, err := resultstore.New(outputDir)
	if err != nil {
		return cli.Exit(err.Error(), 2)
	}
	store.Start()

	runUuid := uuid.NewString()
	gatherers := []internal.RunGatherer{termgath.New(verbose)}

	if natsUrl := cmd.String("publish-nats"); natsUrl != "" {
		nc, err := nats.Connect(natsUrl)
		if err != nil {
			return cli.Exit(fmt.Sprintf("failed to connect to NATS: %v", err), 2)
		}
		defer nc.Drain()
		gatherers = append(gatherers, natsgath.New(nc, runUuid, cmd.String("nats-subject")))
	}
	if queueUrl := cmd.String("publish-sqs"); queueUrl != "" {
		sg, err := sqsgath.New(ctx, runUuid, queueUrl)
		if err != nil {
			return cli.Exit(err.Error(), 2)
		}
		gatherers = append(gatherers, sg)
	}

	r := runner.New(cleaner, inv, multigath.New(gatherers...)).
		WithStore(store).
		WithRetries(!cmd.Bool("no-retries")).
		WithCleanupVerification(cmd.Bool("verify-cleanup"))

	if cmd.Bool("leak-check") {
		r = r.WithLeakChecker(&leakcheck.Detector{
			Host:     cmd.String("pg-host"),
			Port:     cmd.String("pg-port"),
			User:     cmd.String("pg-user"),
			Password: os.Getenv("PG_PASSWORD"),
			Database: cmd.String("pg-database"),
		})
	}

	info := internal.RunInfo{
		ManifestPath:     manifestPath,
		ShellPath:        shellBin,
		ConnectionString: conn.Raw,
		OutputDir:        outputDir,
	}

	sum := r.RunAll(ctx, info, tests)
	store.Drain()

	if code := sum.ExitCode(); code != 0 {
		return cli.Exit("", code)
	}
	return nil
}

func setupLogging(verbose bool) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      level,
		TimeFormat: time.TimeOnly,
	})))
}

// preflight validates the external surfaces before the first test runs.
func preflight(ctx context.Context, shellBin, corpusDir, manifestPath, outputDir string) error {
	errs, _ := errgroup.WithContext(ctx)

	errs.Go(func() error {
		if _, err := os.Stat(shellBin); err != nil {
			return fmt.Errorf("shell binary not found: %w", err)
		}
		return nil
	})
	errs.Go(func() error {
		if info, err := os.Stat(corpusDir); err != nil || !info.IsDir() {
			return fmt.Errorf("corpus directory %s is not accessible", corpusDir)
		}
		return nil
	})
	errs.Go(func() error {
		if _, err := os.Stat(manifestPath); err != nil {
			return fmt.Errorf("manifest not found: %w", err)
		}
		return nil
	})
	errs.Go(func() error {
		if err := os.MkdirAll(outputDir, 0o755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
		return nil
	})

	return errs.Wait()
}

// connectDriver opens the driver connection used by the announce and verify
// paths. The shell remains the primary transport, so a failure here only
// degrades those paths to their shell fallbacks.
func connectDriver(ctx context.Context, conn *connstr.Descriptor) *mongo.Client {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(conn.URI()))
	if err != nil {
		slog.Warn("driver connection unavailable, announce/verify degrade to the shell", "error", err)
		return nil
	}
	return client
}

// applyConfigFile overlays TOML values onto flags the user did not set.
func applyConfigFile(cmd *cli.Command, path string) error {
	cfg, err := environment.ReadConfigFile(path)
	if err != nil {
		return err
	}

	stringVals := map[string]string{
		"corpus-dir":        cfg.CorpusDir,
		"shell":             cfg.Shell,
		"connection-string": cfg.ConnectionString,
		"manifest":          cfg.Manifest,
		"common-setup":      cfg.CommonSetup,
		"ssl-helper":        cfg.SSLHelper,
		"output-dir":        cfg.OutputDir,
		"filter":            cfg.Filter,
		"pg-host":           cfg.PgHost,
		"pg-port":           cfg.PgPort,
		"pg-user":           cfg.PgUser,
		"pg-database":       cfg.PgDatabase,
		"publish-nats":      cfg.PublishNats,
		"nats-subject":      cfg.NatsSubject,
		"publish-sqs":       cfg.PublishSqs,
	}
	for name, val := range stringVals {
		if val != "" && !cmd.IsSet(name) {
			if err := cmd.Set(name, val); err != nil {
				return fmt.Errorf("failed to apply config value %s: %w", name, err)
			}
		}
	}

	boolVals := map[string]bool{
		"verbose":             cfg.Verbose,
		"no-drop-collections": cfg.NoDrop,
		"no-retries":          cfg.NoRetries,
		"verify-cleanup":      cfg.VerifyCleanup,
		"leak-check":          cfg.LeakCheck,
	}
	for name, val := range boolVals {
		if val && !cmd.IsSet(name) {
			if err := cmd.Set(name, "true"); err != nil {
				return fmt.Errorf("failed to apply config value %s: %w", name, err)
			}
		}
	}
	return nil
}
