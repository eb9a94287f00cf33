package api

import (
	"time"

	"github.com/documentdb-conformance/harness/internal"
)

// MsgType is a message type for streamed run events.
type MsgType string

const (
	StartRunMsg   MsgType = "run_start"
	StartTestMsg  MsgType = "test_start"
	FinishTestMsg MsgType = "test_finish"
	FinishRunMsg  MsgType = "run_finish"
)

// Captured output size constraints for streamed messages. Full output lives
// in the on-disk logs; the stream only carries enough to orient a reader.
const (
	MaxOutputHeight = 40
	MaxOutputWidth  = 120
)

// Header is the common header for all streamed run event messages.
type Header struct {
	RunUuid string  `json:"run_uuid"`
	MsgType MsgType `json:"msg_type"`
}

// StartRun message sent once when the harness begins executing tests.
type StartRun struct {
	Header
	ManifestPath string `json:"manifest_path"`
	TotalTests   int    `json:"total_tests"`
	StartedTime  string `json:"started_time"`
}

// StartTest message sent when a test is reached.
type StartTest struct {
	Header
	TestName string `json:"test_name"`
}

// FinishTest message sent when a test reaches a terminal state.
type FinishTest struct {
	Header
	TestName string `json:"test_name"`
	Expected string `json:"expected"`
	Status   string `json:"status"`
	Label    string `json:"label"`
	Matches  bool   `json:"matches_expectation"`
	Attempts int    `json:"attempts"`

	ExitCode   int64 `json:"exit_code"`
	DurationMs int64 `json:"duration_ms"`

	Stdout string `json:"stdout"`
	Stderr string `json:"stderr"`
}

// FinishRun message sent once, after the last test.
type FinishRun struct {
	Header
	Total          int `json:"total"`
	Passed         int `json:"passed"`
	Failed         int `json:"failed"`
	Skipped        int `json:"skipped"`
	UnexpectedPass int `json:"unexpected_pass"`
	UnexpectedFail int `json:"unexpected_fail"`

	UnexpectedFailNames []string `json:"unexpected_fail_names"`
	UnexpectedPassNames []string `json:"unexpected_pass_names"`

	DurationMs int64 `json:"duration_ms"`
	ExitCode   int   `json:"exit_code"`
}

// Helper function to create a header
func NewHeader(runUuid string, msgType MsgType) Header {
	return Header{
		RunUuid: runUuid,
		MsgType: msgType,
	}
}

func NewStartRun(runUuid, manifestPath string, totalTests int) StartRun {
	return StartRun{
		Header:       NewHeader(runUuid, StartRunMsg),
		ManifestPath: manifestPath,
		TotalTests:   totalTests,
		StartedTime:  time.Now().Format(time.RFC3339),
	}
}

func NewStartTest(runUuid, testName string) StartTest {
	return StartTest{
		Header:   NewHeader(runUuid, StartTestMsg),
		TestName: testName,
	}
}

func NewFinishTest(runUuid string, rec *internal.TestRecord) FinishTest {
	stdout, stderr := rec.CombinedOutput()
	msg := FinishTest{
		Header:     NewHeader(runUuid, FinishTestMsg),
		TestName:   rec.Descriptor.Name,
		Expected:   string(rec.Descriptor.Expected),
		Status:     string(rec.Status),
		Label:      rec.Label(),
		Matches:    rec.MatchesExpectation,
		Attempts:   len(rec.Attempts),
		DurationMs: rec.Duration().Milliseconds(),
		Stdout:     trimStrToRect(stdout, MaxOutputHeight, MaxOutputWidth),
		Stderr:     trimStrToRect(stderr, MaxOutputHeight, MaxOutputWidth),
	}
	if n := len(rec.Attempts); n > 0 {
		msg.ExitCode = rec.Attempts[n-1].ExitCode
	}
	return msg
}

func NewFinishRun(runUuid string, sum *internal.RunSummary) FinishRun {
	return FinishRun{
		Header:              NewHeader(runUuid, FinishRunMsg),
		Total:               sum.Total,
		Passed:              sum.Passed,
		Failed:              sum.Failed,
		Skipped:             sum.Skipped,
		UnexpectedPass:      sum.UnexpectedPass,
		UnexpectedFail:      sum.UnexpectedFail,
		UnexpectedFailNames: sum.UnexpectedFailNames,
		UnexpectedPassNames: sum.UnexpectedPassNames,
		DurationMs:          sum.Duration.Milliseconds(),
		ExitCode:            sum.ExitCode(),
	}
}
