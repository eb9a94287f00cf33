package manifest

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/documentdb-conformance/harness/internal"
)

// corpusRootPrefix marks manifest names declared relative to the repository
// that CONTAINS the corpus directory rather than to the corpus itself.
const corpusRootPrefix = "jstests/"

// Load reads a test manifest and returns descriptors in file order.
//
// The manifest is CSV with a header row carrying at least test_name and
// expected_outcome. Blank lines and #-comments are stripped before the CSV
// parse; rows with an empty test name are formatting noise and are skipped.
// An unrecognized expected_outcome aborts the load.
func Load(path string, corpusDir string, filter *regexp.Regexp) ([]internal.TestDescriptor, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest %s: %w", path, err)
	}

	var kept []string
	for _, line := range strings.Split(string(raw), "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		kept = append(kept, line)
	}
	if len(kept) == 0 {
		return nil, fmt.Errorf("manifest %s has no header row", path)
	}

	reader := csv.NewReader(strings.NewReader(strings.Join(kept, "\n")))
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse manifest %s: %w", path, err)
	}

	nameCol, outcomeCol := -1, -1
	for i, col := range rows[0] {
		switch strings.TrimSpace(col) {
		case "test_name":
			nameCol = i
		case "expected_outcome":
			outcomeCol = i
		}
	}
	if nameCol < 0 || outcomeCol < 0 {
		return nil, fmt.Errorf("manifest %s header must contain test_name and expected_outcome", path)
	}

	var tests []internal.TestDescriptor
	for _, row := range rows[1:] {
		if nameCol >= len(row) || strings.TrimSpace(row[nameCol]) == "" {
			continue
		}
		name := strings.TrimSpace(row[nameCol])

		if outcomeCol >= len(row) {
			return nil, fmt.Errorf("manifest row for %q is missing expected_outcome", name)
		}
		expected, err := internal.ParseExpected(row[outcomeCol])
		if err != nil {
			return nil, fmt.Errorf("manifest row for %q: %w", name, err)
		}

		if filter != nil && !filter.MatchString(name) {
			continue
		}

		tests = append(tests, internal.TestDescriptor{
			Name:       name,
			Expected:   expected,
			ScriptPath: ResolveScriptPath(corpusDir, name),
		})
	}

	return tests, nil
}

// ResolveScriptPath maps a declared test name to a script path. Names carrying
// the jstests/ prefix resolve against the parent of the corpus directory so
// repository-root-relative rows keep working; everything else is a child of
// the corpus directory.
func ResolveScriptPath(corpusDir string, name string) string {
	if strings.HasPrefix(name, corpusRootPrefix) {
		return filepath.Join(filepath.Dir(corpusDir), filepath.FromSlash(name))
	}
	return filepath.Join(corpusDir, filepath.FromSlash(name))
}
