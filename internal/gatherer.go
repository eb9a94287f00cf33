package internal

// RunInfo describes one harness invocation for gatherers.
type RunInfo struct {
	ManifestPath     string
	ShellPath        string
	ConnectionString string
	OutputDir        string
	TotalTests       int
}

// RunGatherer receives the result stream of a run. Implementations stream to
// the terminal, to NATS, or to SQS; the runner does not care which.
type RunGatherer interface {
	StartRun(info RunInfo)
	StartTest(name string)
	FinishTest(rec *TestRecord)
	FinishRun(sum *RunSummary)
}
