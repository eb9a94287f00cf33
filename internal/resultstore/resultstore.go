// Package resultstore persists detailed attempt logs for non-matching test
// records. Writes happen on a background goroutine so the run loop is never
// stalled on disk; Drain blocks until everything scheduled has landed.
package resultstore

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/documentdb-conformance/harness/internal"
)

// compressThreshold is the payload size above which a log is stored
// zstd-compressed. Corpus tests can dump tens of megabytes of shell output.
const compressThreshold = 1 << 20

type Store struct {
	outputDir string
	queue     chan *internal.TestRecord
	written   *xsync.MapOf[string, string]
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// New creates the output directory and the store over it.
func New(outputDir string) (*Store, error) {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory %s: %w", outputDir, err)
	}
	return &Store{
		outputDir: outputDir,
		queue:     make(chan *internal.TestRecord, 1024),
		written:   xsync.NewMapOf[string, string](),
	}, nil
}

// Start launches the background writer.
func (s *Store) Start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for rec := range s.queue {
			path, err := s.write(rec)
			if err != nil {
				slog.Warn("failed to persist test log", "test", rec.Descriptor.Name, "error", err)
				continue
			}
			s.written.Store(rec.Descriptor.Name, path)
		}
	}()
}

// Schedule queues one record for persistence.
func (s *Store) Schedule(rec *internal.TestRecord) {
	s.queue <- rec
}

// Drain stops accepting records and blocks until pending writes finish.
func (s *Store) Drain() {
	s.closeOnce.Do(func() { close(s.queue) })
	s.wg.Wait()
}

// WrittenPath reports where a test's log landed, if it has been written yet.
func (s *Store) WrittenPath(testName string) (string, bool) {
	return s.written.Load(testName)
}

// LogFileName flattens the declared test name into a single path component.
func LogFileName(testName string) string {
	return strings.ReplaceAll(testName, "/", "_") + ".log"
}

func (s *Store) write(rec *internal.TestRecord) (string, error) {
	stdout, stderr := rec.CombinedOutput()

	var b strings.Builder
	fmt.Fprintf(&b, "Test: %s\n", rec.Descriptor.Name)
	fmt.Fprintf(&b, "Expected: %s\n", rec.Descriptor.Expected)
	fmt.Fprintf(&b, "Result: %s\n", rec.Status)
	if len(rec.Attempts) > 0 {
		last := rec.Attempts[len(rec.Attempts)-1]
		fmt.Fprintf(&b, "Exit Code: %d\n", last.ExitCode)
	}
	fmt.Fprintf(&b, "Attempts: %d\n", len(rec.Attempts))
	fmt.Fprintf(&b, "Duration: %dms\n", rec.Duration().Milliseconds())
	fmt.Fprintf(&b, "Matches Expectation: %t\n", rec.MatchesExpectation)
	if rec.Err != "" {
		fmt.Fprintf(&b, "Error: %s\n", rec.Err)
	}
	fmt.Fprintf(&b, "\n=== STDOUT ===\n%s\n", stdout)
	fmt.Fprintf(&b, "\n=== STDERR ===\n%s\n", stderr)

	payload := []byte(b.String())
	path := filepath.Join(s.outputDir, LogFileName(rec.Descriptor.Name))

	if len(payload) > compressThreshold {
		return s.writeCompressed(path+".zst", payload)
	}
	if err := os.WriteFile(path, payload, 0o644); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", path, err)
	}
	return path, nil
}

func (s *Store) writeCompressed(path string, payload []byte) (string, error) {
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer f.Close()

	enc, err := zstd.NewWriter(f)
	if err != nil {
		return "", fmt.Errorf("failed to create zstd writer: %w", err)
	}
	if _, err := enc.Write(payload); err != nil {
		enc.Close()
		return "", fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := enc.Close(); err != nil {
		return "", fmt.Errorf("failed to finish %s: %w", path, err)
	}
	return path, nil
}
