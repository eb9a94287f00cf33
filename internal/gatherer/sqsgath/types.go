package sqsgath

import (
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/documentdb-conformance/harness/api"
	"github.com/documentdb-conformance/harness/internal"
)

type sqsGatherer struct {
	sqsClient *sqs.Client
	queueUrl  string
	runUuid   string
}

func (s *sqsGatherer) StartRun(info internal.RunInfo) {
	s.send(api.NewStartRun(s.runUuid, info.ManifestPath, info.TotalTests))
}

func (s *sqsGatherer) StartTest(name string) {
	s.send(api.NewStartTest(s.runUuid, name))
}

func (s *sqsGatherer) FinishTest(rec *internal.TestRecord) {
	s.send(api.NewFinishTest(s.runUuid, rec))
}

func (s *sqsGatherer) FinishRun(sum *internal.RunSummary) {
	s.send(api.NewFinishRun(s.runUuid, sum))
}
