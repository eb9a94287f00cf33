// Package multigath fans run events out to several gatherers.
package multigath

import (
	"github.com/documentdb-conformance/harness/internal"
)

type multiGatherer struct {
	children []internal.RunGatherer
}

func New(children ...internal.RunGatherer) internal.RunGatherer {
	if len(children) == 1 {
		return children[0]
	}
	return &multiGatherer{children: children}
}

func (m *multiGatherer) StartRun(info internal.RunInfo) {
	for _, c := range m.children {
		c.StartRun(info)
	}
}

func (m *multiGatherer) StartTest(name string) {
	for _, c := range m.children {
		c.StartTest(name)
	}
}

func (m *multiGatherer) FinishTest(rec *internal.TestRecord) {
	for _, c := range m.children {
		c.FinishTest(rec)
	}
}

func (m *multiGatherer) FinishRun(sum *internal.RunSummary) {
	for _, c := range m.children {
		c.FinishRun(sum)
	}
}
