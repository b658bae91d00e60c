package runtime

import (
	"errors"
	"testing"
	"time"

	"github.com/sbl8/ufoengine/core"
	"github.com/sbl8/ufoengine/model"
	"github.com/sbl8/ufoengine/task"
)

// newTestResourceManager builds a ResourceManager whose pool is usable
// without a real OpenCL platform: the fixture tasks below never touch a
// device, so the zero-value ctx/queues are never dereferenced.
func newTestResourceManager() *ResourceManager {
	return &ResourceManager{pool: make(map[core.OriginID][]*core.Buffer)}
}

// countingGenerator emits limit single-element buffers holding 1, 2, ...,
// limit.
type countingGenerator struct {
	n, limit int
}

func (g *countingGenerator) Setup(task.ResourceManager) error { return nil }
func (g *countingGenerator) Finalize() error                  { return nil }

func (g *countingGenerator) GetRequisition(inputs []*core.Buffer) (core.Dims, error) {
	return core.NewDims(1), nil
}

func (g *countingGenerator) Process(inputs []*core.Buffer, out *core.Buffer) (task.Status, error) {
	return task.StatusNextInput, nil
}

func (g *countingGenerator) Generate(out *core.Buffer) (bool, error) {
	if g.n >= g.limit {
		return false, nil
	}
	g.n++
	if err := out.SetHostData([]float32{float32(g.n)}); err != nil {
		return false, err
	}
	return true, nil
}

// sumSink accumulates every value it receives into total, guarded by the
// single goroutine the scheduler runs it on.
type sumSink struct {
	total float32
	seen  int
}

func (s *sumSink) Setup(task.ResourceManager) error { return nil }
func (s *sumSink) Finalize() error                  { return nil }

func (s *sumSink) GetRequisition(inputs []*core.Buffer) (core.Dims, error) {
	return core.Dims{}, nil
}

func (s *sumSink) Process(inputs []*core.Buffer, out *core.Buffer) (task.Status, error) {
	v, err := inputs[0].GetHostArray()
	if err != nil {
		return task.StatusNextInput, err
	}
	s.total += v[0]
	s.seen++
	return task.StatusNextInput, nil
}

// failingProcessor returns an error on its Nth call, exercising the
// fail-fast completion-propagation path.
type failingProcessor struct {
	calls   int
	failOn  int
	failErr error
}

func (p *failingProcessor) Setup(task.ResourceManager) error { return nil }
func (p *failingProcessor) Finalize() error                  { return nil }

func (p *failingProcessor) GetRequisition(inputs []*core.Buffer) (core.Dims, error) {
	return inputs[0].GetRequisition(), nil
}

func (p *failingProcessor) Process(inputs []*core.Buffer, out *core.Buffer) (task.Status, error) {
	p.calls++
	if p.calls == p.failOn {
		return task.StatusNextInput, p.failErr
	}
	if err := inputs[0].Copy(out); err != nil {
		return task.StatusNextInput, err
	}
	return task.StatusNextInput, nil
}

// buildLinearGraph wires a single generator -> processor -> sink chain,
// the minimal shape every other split/merge graph reduces to.
func buildLinearGraph() *model.Graph {
	return &model.Graph{
		Nodes: []model.Node{
			{ID: 0, Plugin: model.PluginSpec{Plugin: "gen"}, Out: []model.EdgeID{0}},
			{ID: 1, Plugin: model.PluginSpec{Plugin: "proc"}, In: []model.EdgeID{0}, Out: []model.EdgeID{1}},
			{ID: 2, Plugin: model.PluginSpec{Plugin: "sink"}, In: []model.EdgeID{1}},
		},
		Edges: map[model.EdgeID]model.Edge{
			0: {From: 0, To: 1},
			1: {From: 1, To: 2},
		},
	}
}

func TestSchedulerRunCompletesAndPropagatesValues(t *testing.T) {
	gen := &countingGenerator{limit: 5}
	proc := &failingProcessor{failOn: -1}
	sink := &sumSink{}

	factory := func(spec model.PluginSpec) (task.Task, task.Device, error) {
		switch spec.Plugin {
		case "gen":
			return gen, task.CPU, nil
		case "proc":
			return proc, task.CPU, nil
		case "sink":
			return sink, task.CPU, nil
		default:
			return nil, task.CPU, errors.New("unknown plugin")
		}
	}

	rm := newTestResourceManager()
	sched, err := NewScheduler(rm, buildLinearGraph(), factory)
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}

	if err := sched.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if sink.seen != 5 {
		t.Fatalf("sink saw %d values, want 5", sink.seen)
	}
	if sink.total != 1+2+3+4+5 {
		t.Fatalf("sink total = %v, want 15", sink.total)
	}
}

func TestSchedulerRunPropagatesFirstError(t *testing.T) {
	wantErr := errors.New("boom")
	gen := &countingGenerator{limit: 10}
	proc := &failingProcessor{failOn: 3, failErr: wantErr}
	sink := &sumSink{}

	factory := func(spec model.PluginSpec) (task.Task, task.Device, error) {
		switch spec.Plugin {
		case "gen":
			return gen, task.CPU, nil
		case "proc":
			return proc, task.CPU, nil
		case "sink":
			return sink, task.CPU, nil
		default:
			return nil, task.CPU, errors.New("unknown plugin")
		}
	}

	rm := newTestResourceManager()
	sched, err := NewScheduler(rm, buildLinearGraph(), factory)
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}

	err = sched.Run()
	if err == nil {
		t.Fatal("Run: want error, got nil")
	}
	if !errors.Is(err, wantErr) {
		t.Fatalf("Run error = %v, want wrapping %v", err, wantErr)
	}
}

// buildSplitGraph wires a generator through a round-robin copier into two
// parallel sinks: the fan-out half of the shape graphspec.expandSplit
// produces, with no collector behind it.
func buildSplitGraph() (*model.Graph, *countingGenerator, *sumSink, *sumSink) {
	gen := &countingGenerator{limit: 6}
	sinkA := &sumSink{}
	sinkB := &sumSink{}

	g := &model.Graph{
		Nodes: []model.Node{
			{ID: 0, Plugin: model.PluginSpec{Plugin: "gen"}, Out: []model.EdgeID{0}},
			{ID: 1, Plugin: model.PluginSpec{Plugin: "copier"}, In: []model.EdgeID{0}, Out: []model.EdgeID{1, 2}, Split: model.SplitRoundRobin},
			{ID: 2, Plugin: model.PluginSpec{Plugin: "sinkA"}, In: []model.EdgeID{1}},
			{ID: 3, Plugin: model.PluginSpec{Plugin: "sinkB"}, In: []model.EdgeID{2}},
		},
		Edges: map[model.EdgeID]model.Edge{
			0: {From: 0, To: 1},
			1: {From: 1, To: 2},
			2: {From: 1, To: 3},
		},
	}
	return g, gen, sinkA, sinkB
}

func TestSchedulerRoundRobinSplitPartitionsStream(t *testing.T) {
	g, gen, sinkA, sinkB := buildSplitGraph()

	factory := func(spec model.PluginSpec) (task.Task, task.Device, error) {
		switch spec.Plugin {
		case "gen":
			return gen, task.CPU, nil
		case "copier":
			return &passthroughCopier{}, task.CPU, nil
		case "sinkA":
			return sinkA, task.CPU, nil
		case "sinkB":
			return sinkB, task.CPU, nil
		default:
			return nil, task.CPU, errors.New("unknown plugin")
		}
	}

	rm := newTestResourceManager()
	sched, err := NewScheduler(rm, g, factory)
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}
	if err := sched.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if sinkA.seen+sinkB.seen != 6 {
		t.Fatalf("total seen = %d, want 6", sinkA.seen+sinkB.seen)
	}
	if sinkA.seen != 3 || sinkB.seen != 3 {
		t.Fatalf("round-robin split uneven: A=%d B=%d", sinkA.seen, sinkB.seen)
	}
}

// passthroughCopier stands in for the registered ufoengine.copier plugin:
// the split routing itself lives in Scheduler.pushAll, so this only needs
// to pass its single input through.
type passthroughCopier struct{}

func (passthroughCopier) Setup(task.ResourceManager) error { return nil }
func (passthroughCopier) Finalize() error                  { return nil }

func (passthroughCopier) GetRequisition(inputs []*core.Buffer) (core.Dims, error) {
	return inputs[0].GetRequisition(), nil
}

func (passthroughCopier) Process(inputs []*core.Buffer, out *core.Buffer) (task.Status, error) {
	if err := inputs[0].Copy(out); err != nil {
		return task.StatusNextInput, err
	}
	return task.StatusNextInput, nil
}

// delayIdentityTask passes its input through after sleeping delay, used to
// force one split branch to consistently finish behind the other so the
// collector's reordering logic is actually exercised rather than merely
// passing by coincidence.
type delayIdentityTask struct {
	delay time.Duration
}

func (t *delayIdentityTask) Setup(task.ResourceManager) error { return nil }
func (t *delayIdentityTask) Finalize() error                  { return nil }

func (t *delayIdentityTask) GetRequisition(inputs []*core.Buffer) (core.Dims, error) {
	return inputs[0].GetRequisition(), nil
}

func (t *delayIdentityTask) Process(inputs []*core.Buffer, out *core.Buffer) (task.Status, error) {
	time.Sleep(t.delay)
	if err := inputs[0].Copy(out); err != nil {
		return task.StatusNextInput, err
	}
	return task.StatusNextInput, nil
}

// orderedSink records every value it receives in arrival order, so a test
// can assert the exact sequence a collector delivered.
type orderedSink struct {
	values []float32
}

func (s *orderedSink) Setup(task.ResourceManager) error { return nil }
func (s *orderedSink) Finalize() error                  { return nil }

func (s *orderedSink) GetRequisition(inputs []*core.Buffer) (core.Dims, error) {
	return core.Dims{}, nil
}

func (s *orderedSink) Process(inputs []*core.Buffer, out *core.Buffer) (task.Status, error) {
	v, err := inputs[0].GetHostArray()
	if err != nil {
		return task.StatusNextInput, err
	}
	s.values = append(s.values, v[0])
	return task.StatusNextInput, nil
}

// TestSchedulerRoundRobinSplitMergeRestoresOrder is the S4 scenario from
// spec.md §8: a source emits 1..6, a round-robin split fans to two
// branches (one artificially slower), and the collector must restore the
// original order before the sink, deterministically, even though the
// branches complete out of order.
func TestSchedulerRoundRobinSplitMergeRestoresOrder(t *testing.T) {
	gen := &countingGenerator{limit: 6}
	slow := &delayIdentityTask{delay: 15 * time.Millisecond}
	fast := &delayIdentityTask{delay: 0}
	sink := &orderedSink{}

	g := &model.Graph{
		Nodes: []model.Node{
			{ID: 0, Plugin: model.PluginSpec{Plugin: "gen"}, Out: []model.EdgeID{0}},
			{ID: 1, Plugin: model.PluginSpec{Plugin: "copier"}, In: []model.EdgeID{0}, Out: []model.EdgeID{1, 2}, Split: model.SplitRoundRobin},
			{ID: 2, Plugin: model.PluginSpec{Plugin: "slow"}, In: []model.EdgeID{1}, Out: []model.EdgeID{3}},
			{ID: 3, Plugin: model.PluginSpec{Plugin: "fast"}, In: []model.EdgeID{2}, Out: []model.EdgeID{4}},
			{ID: 4, Plugin: model.PluginSpec{Plugin: collectorPluginName}, In: []model.EdgeID{3, 4}, Out: []model.EdgeID{5}},
			{ID: 5, Plugin: model.PluginSpec{Plugin: "sink"}, In: []model.EdgeID{5}},
		},
		Edges: map[model.EdgeID]model.Edge{
			0: {From: 0, To: 1},
			1: {From: 1, To: 2},
			2: {From: 1, To: 3},
			3: {From: 2, To: 4},
			4: {From: 3, To: 4},
			5: {From: 4, To: 5},
		},
	}

	factory := func(spec model.PluginSpec) (task.Task, task.Device, error) {
		switch spec.Plugin {
		case "gen":
			return gen, task.CPU, nil
		case "copier":
			return &passthroughCopier{}, task.CPU, nil
		case "slow":
			return slow, task.CPU, nil
		case "fast":
			return fast, task.CPU, nil
		case collectorPluginName:
			return &collectorTaskStub{}, task.CPU, nil
		case "sink":
			return sink, task.CPU, nil
		default:
			return nil, task.CPU, errors.New("unknown plugin")
		}
	}

	rm := newTestResourceManager()
	sched, err := NewScheduler(rm, g, factory)
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}
	if err := sched.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}

	want := []float32{1, 2, 3, 4, 5, 6}
	if len(sink.values) != len(want) {
		t.Fatalf("sink received %v values, want %v", sink.values, want)
	}
	for i := range want {
		if sink.values[i] != want[i] {
			t.Fatalf("sink order = %v, want %v", sink.values, want)
		}
	}
}

// collectorTaskStub stands in for filters.collectorTask: Scheduler.runInstance
// recognizes the "ufoengine.collector" plugin name and routes to
// runCollector directly, so this Process body is never actually invoked.
type collectorTaskStub struct{}

func (collectorTaskStub) Setup(task.ResourceManager) error { return nil }
func (collectorTaskStub) Finalize() error                  { return nil }

func (collectorTaskStub) GetRequisition(inputs []*core.Buffer) (core.Dims, error) {
	return core.Dims{}, nil
}

func (collectorTaskStub) Process(inputs []*core.Buffer, out *core.Buffer) (task.Status, error) {
	return task.StatusNextInput, nil
}
