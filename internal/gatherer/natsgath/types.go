package natsgath

import (
	"github.com/nats-io/nats.go"

	"github.com/documentdb-conformance/harness/api"
	"github.com/documentdb-conformance/harness/internal"
)

type natsGatherer struct {
	nc      *nats.Conn
	subject string
	runUuid string
}

func (s *natsGatherer) StartRun(info internal.RunInfo) {
	s.send(api.NewStartRun(s.runUuid, info.ManifestPath, info.TotalTests))
}

func (s *natsGatherer) StartTest(name string) {
	s.send(api.NewStartTest(s.runUuid, name))
}

func (s *natsGatherer) FinishTest(rec *internal.TestRecord) {
	s.send(api.NewFinishTest(s.runUuid, rec))
}

func (s *natsGatherer) FinishRun(sum *internal.RunSummary) {
	s.send(api.NewFinishRun(s.runUuid, sum))
}
