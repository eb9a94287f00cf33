package multigath_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/documentdb-conformance/harness/internal"
	"github.com/documentdb-conformance/harness/internal/gatherer/multigath"
)

type recorder struct {
	events []string
}

func (r *recorder) StartRun(info internal.RunInfo)      { r.events = append(r.events, "start_run") }
func (r *recorder) StartTest(name string)               { r.events = append(r.events, "start:"+name) }
func (r *recorder) FinishTest(rec *internal.TestRecord) { r.events = append(r.events, "finish_test") }
func (r *recorder) FinishRun(sum *internal.RunSummary)  { r.events = append(r.events, "finish_run") }

func TestFansOutToAllChildren(t *testing.T) {
	a, b := &recorder{}, &recorder{}
	g := multigath.New(a, b)

	g.StartRun(internal.RunInfo{})
	g.StartTest("x.js")
	g.FinishTest(&internal.TestRecord{})
	g.FinishRun(&internal.RunSummary{})

	want := []string{"start_run", "start:x.js", "finish_test", "finish_run"}
	require.Equal(t, want, a.events)
	require.Equal(t, want, b.events)
}

func TestSingleChildIsReturnedDirectly(t *testing.T) {
	a := &recorder{}
	require.Same(t, internal.RunGatherer(a), multigath.New(a))
}
