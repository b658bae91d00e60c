package runtime

import (
	"errors"
	"fmt"
	"log"
	"math/rand"
	"sort"
	"sync"

	"github.com/sbl8/ufoengine/core"
	"github.com/sbl8/ufoengine/model"
	"github.com/sbl8/ufoengine/task"
)

// ExecutionStats tracks aggregate scheduler performance, in the same spirit
// as the teacher's Engine.stats but keyed by task instance rather than
// kernel opcode (there is no fixed opcode catalog in this engine; a task's
// identity is its graph position).
type ExecutionStats struct {
	mu          sync.Mutex
	UnitsByTask map[string]int64
}

func newExecutionStats() *ExecutionStats {
	return &ExecutionStats{UnitsByTask: make(map[string]int64)}
}

func (s *ExecutionStats) record(name string) {
	s.mu.Lock()
	s.UnitsByTask[name]++
	s.mu.Unlock()
}

// Snapshot returns a copy safe for concurrent reading.
func (s *ExecutionStats) Snapshot() map[string]int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int64, len(s.UnitsByTask))
	for k, v := range s.UnitsByTask {
		out[k] = v
	}
	return out
}

// instance binds one expanded graph node to its live task plugin, resource
// queue, and the channels wired to its ports.
type instance struct {
	node      *model.Node
	task      task.Task
	device    task.Device
	inputs    []*Channel
	outputs   []*Channel
	rrCounter uint32
	seqOut    uint64 // next sequence number a copier (len(outputs) > 1) attaches
}

// Scheduler drives a validated, expanded model.Graph to completion: one
// worker goroutine per task instance, pushing/popping core.Buffer values
// over runtime.Channel edges, exactly the "one goroutine per task instance"
// concurrency model from the spec, grounded in the teacher's
// `go e.worker(...)` per-worker-goroutine pattern (runtime/runtime.go,
// since removed) generalized from a fixed worker pool pulling off one
// shared ready-queue to one goroutine per graph node pulling off its own
// input channels.
type Scheduler struct {
	rm        *ResourceManager
	instances []*instance
	stats     *ExecutionStats
	profiler  *Profiler

	errOnce sync.Once
	errCh   chan error
}

// NewScheduler builds a scheduler for graph g, instantiating a task plugin
// per node via the given factory and wiring a bounded Channel per edge.
func NewScheduler(rm *ResourceManager, g *model.Graph, factory func(spec model.PluginSpec) (task.Task, task.Device, error)) (*Scheduler, error) {
	s := &Scheduler{
		rm:    rm,
		stats: newExecutionStats(),
		errCh: make(chan error, 1),
	}
	if ProfilingEnabled() {
		s.profiler = NewProfiler()
	}

	byID := make(map[uint16]*instance, len(g.Nodes))
	for i := range g.Nodes {
		n := &g.Nodes[i]
		t, dev, err := factory(n.Plugin)
		if err != nil {
			return nil, fmt.Errorf("instantiate node %d (%s): %w", n.ID, n.Plugin.Plugin, err)
		}
		if err := t.Setup(rm); err != nil {
			return nil, fmt.Errorf("setup node %d (%s): %w", n.ID, n.Plugin.Plugin, err)
		}
		inst := &instance{node: n, task: t, device: dev}
		s.instances = append(s.instances, inst)
		byID[n.ID] = inst
	}

	// Wire one Channel per edge; an edge connects (producer, outPort) to
	// (consumer, inPort). Each producer's output slot and each consumer's
	// input slot hold exactly one Channel, shared between the two ends.
	edgeChannels := make(map[model.EdgeID]*Channel)
	for i := range g.Nodes {
		n := &g.Nodes[i]
		for _, e := range n.Out {
			ch := NewChannel(DefaultCapacity)
			edgeChannels[e] = ch
			byID[n.ID].outputs = append(byID[n.ID].outputs, ch)
		}
	}
	for i := range g.Nodes {
		n := &g.Nodes[i]
		for _, e := range n.In {
			ch, ok := edgeChannels[e]
			if !ok {
				return nil, fmt.Errorf("node %d references unknown edge %v", n.ID, e)
			}
			byID[n.ID].inputs = append(byID[n.ID].inputs, ch)
		}
	}

	return s, nil
}

// Run starts one worker goroutine per task instance and blocks until every
// instance has terminated. It returns the first error observed from any
// instance (fail-fast: a failing instance closes its output channels so
// downstream consumers see end-of-stream rather than hanging).
func (s *Scheduler) Run() error {
	var wg sync.WaitGroup
	wg.Add(len(s.instances))

	for _, inst := range s.instances {
		inst := inst
		go func() {
			defer wg.Done()
			if err := s.runInstance(inst); err != nil {
				s.reportError(inst, err)
			}
		}()
	}

	wg.Wait()

	select {
	case err := <-s.errCh:
		return err
	default:
		return nil
	}
}

func (s *Scheduler) reportError(inst *instance, err error) {
	log.Printf("ufoengine: task %q (node %d) failed: %v", inst.node.Plugin.Plugin, inst.node.ID, err)
	s.errOnce.Do(func() {
		s.errCh <- fmt.Errorf("node %d (%s): %w", inst.node.ID, inst.node.Plugin.Plugin, err)
	})
}

// runInstance is the per-task driver loop: for a Generator it calls
// Generate until end-of-stream; for everything else it pulls one buffer per
// declared input port, calls Process, and loops on StatusContinue without
// advancing inputs (exactly the spec's Process/Generate state machine). A
// Flusher additionally gets one terminal Process-shaped call (Flush) after
// its upstream closes, for REDUCTOR tasks that only ever accumulate.
// Channel closure is the only end-of-stream signal; closing every output
// channel on exit propagates completion (or failure) downstream regardless
// of which branch caused it.
func (s *Scheduler) runInstance(inst *instance) (err error) {
	defer func() {
		for _, out := range inst.outputs {
			out.Close()
		}
		// Closing the inputs unblocks any upstream producer still pushing to
		// this instance; whatever was already queued goes back to the pool.
		for _, in := range inst.inputs {
			in.Close()
			for {
				buf, ok := in.Pop()
				if !ok {
					break
				}
				s.rm.ReleaseBuffer(buf)
			}
		}
		// A push to a closed downstream channel is a normal termination.
		var closed *ClosedError
		if errors.As(err, &closed) {
			err = nil
		}
		if ferr := inst.task.Finalize(); ferr != nil && err == nil {
			err = ferr
		}
	}()

	if gen, ok := inst.task.(task.Generator); ok {
		return s.runGenerator(inst, gen)
	}
	if inst.node.Plugin.Plugin == collectorPluginName && len(inst.inputs) > 1 {
		return s.runCollector(inst)
	}
	return s.runConsumer(inst)
}

// collectorPluginName is the built-in merge node graphspec inserts for
// every Split (filters.init registers its task under this name).
const collectorPluginName = "ufoengine.collector"

// runCollector re-serializes a fanned-out split back into one stream. A
// lockstep popAll (one buffer per input channel per round) is correct only
// when every branch receives every buffer (the broadcast split policy);
// round-robin and randomize route each buffer to exactly one branch, so
// the other branches' channels may have nothing to offer that round and a
// lockstep pop would deadlock. Instead each branch gets its own reader
// goroutine fanning buffers into a shared merge point; arrivals land in
// whatever order the branches happen to finish in, but every buffer
// carries the sequence number its copier attached on entry (see pushAll),
// so the collector holds back any buffer that arrives ahead of its turn
// and releases buffers downstream in strict sequence order, restoring the
// pre-split stream exactly as spec.md §4.5 and model.Node's doc comment
// require (testable property 6, scenario S4).
func (s *Scheduler) runCollector(inst *instance) error {
	type arrival struct {
		buf *core.Buffer
		err error
	}
	merged := make(chan arrival)
	var wg sync.WaitGroup
	wg.Add(len(inst.inputs))
	for _, in := range inst.inputs {
		in := in
		go func() {
			defer wg.Done()
			for {
				buf, ok := in.Pop()
				if !ok {
					return
				}
				merged <- arrival{buf: buf}
			}
		}()
	}
	go func() {
		wg.Wait()
		close(merged)
	}()

	pending := make(map[uint64]*core.Buffer)
	var nextSeq uint64

	emit := func(buf *core.Buffer) error {
		s.stats.record(inst.node.Plugin.Plugin)
		return s.pushAll(inst, buf)
	}

	for a := range merged {
		if a.err != nil {
			return a.err
		}

		seq, ok := a.buf.Sequence()
		if !ok {
			// No copier tagged this buffer (the collector has a single
			// input, or ran standalone in a test): nothing to reorder.
			if err := emit(a.buf); err != nil {
				return err
			}
			continue
		}

		pending[seq] = a.buf
		for {
			buf, ok := pending[nextSeq]
			if !ok {
				break
			}
			delete(pending, nextSeq)
			nextSeq++
			if err := emit(buf); err != nil {
				return err
			}
		}
	}

	// Every branch has closed; flush whatever is left in arrival order of
	// sequence number. Non-empty only if a sequence number was skipped
	// (a graph-construction bug upstream), but draining here still
	// returns every buffer to the pool instead of leaking it.
	if len(pending) > 0 {
		rest := make([]uint64, 0, len(pending))
		for seq := range pending {
			rest = append(rest, seq)
		}
		sort.Slice(rest, func(i, j int) bool { return rest[i] < rest[j] })
		for _, seq := range rest {
			if err := emit(pending[seq]); err != nil {
				return err
			}
		}
	}

	return nil
}

func (s *Scheduler) runGenerator(inst *instance, gen task.Generator) error {
	for {
		dims, err := gen.GetRequisition(nil)
		if err != nil {
			return err
		}
		out, err := s.rm.RequestBuffer(dims)
		if err != nil {
			return err
		}

		more, err := s.timedGenerate(inst, gen, out)
		if err != nil {
			s.rm.ReleaseBuffer(out)
			return err
		}
		if !more {
			s.rm.ReleaseBuffer(out)
			return nil
		}

		s.stats.record(inst.node.Plugin.Plugin)
		if err := s.pushAll(inst, out); err != nil {
			return err
		}
	}
}

// runFlush drives a REDUCTOR-mode task's terminal emission once every
// upstream channel has closed: GetRequisition(nil) reports the shape
// (a Flusher tracks its own last-known dims, mirroring how runGenerator
// calls GetRequisition with no inputs), then Flush reports whether it
// has anything to emit.
func (s *Scheduler) runFlush(inst *instance, fl task.Flusher) error {
	dims, err := inst.task.GetRequisition(nil)
	if err != nil {
		return err
	}
	out, err := s.rm.RequestBuffer(dims)
	if err != nil {
		return err
	}

	ok, err := fl.Flush(out)
	if err != nil {
		s.rm.ReleaseBuffer(out)
		return err
	}
	if !ok {
		s.rm.ReleaseBuffer(out)
		return nil
	}

	s.stats.record(inst.node.Plugin.Plugin)
	return s.pushAll(inst, out)
}

func (s *Scheduler) runConsumer(inst *instance) error {
	for {
		inputs, ok := s.popAll(inst)
		if !ok {
			if fl, ok := inst.task.(task.Flusher); ok {
				return s.runFlush(inst, fl)
			}
			return nil
		}

		dims, err := inst.task.GetRequisition(inputs)
		if err != nil {
			s.releaseAll(inputs)
			return err
		}
		out, err := s.rm.RequestBuffer(dims)
		if err != nil {
			s.releaseAll(inputs)
			return err
		}
		// Carry a copier's split-order tag through a branch task so the
		// collector downstream can restore the pre-split order.
		if len(inputs) == 1 {
			if seq, ok := inputs[0].Sequence(); ok {
				out.SetSequence(seq)
			}
		}

		for {
			status, err := s.timedProcess(inst, inputs, out)
			if err != nil {
				s.releaseAll(inputs)
				s.rm.ReleaseBuffer(out)
				return err
			}

			s.stats.record(inst.node.Plugin.Plugin)

			switch status {
			case task.StatusAccumulate:
				s.rm.ReleaseBuffer(out)
				s.releaseAll(inputs)
			case task.StatusContinue:
				nextDims, err := inst.task.GetRequisition(inputs)
				if err != nil {
					s.releaseAll(inputs)
					s.rm.ReleaseBuffer(out)
					return err
				}
				if err := s.pushAll(inst, out); err != nil {
					s.releaseAll(inputs)
					return err
				}
				out, err = s.rm.RequestBuffer(nextDims)
				if err != nil {
					s.releaseAll(inputs)
					return err
				}
				continue
			case task.StatusNextInput:
				if err := s.pushAll(inst, out); err != nil {
					s.releaseAll(inputs)
					return err
				}
				s.releaseAll(inputs)
			case task.StatusFinished:
				if err := s.pushAll(inst, out); err != nil {
					s.releaseAll(inputs)
					return err
				}
				s.releaseAll(inputs)
				return nil
			}
			break
		}
	}
}

func (s *Scheduler) timedGenerate(inst *instance, gen task.Generator, out *core.Buffer) (bool, error) {
	if s.profiler == nil {
		return gen.Generate(out)
	}
	stop := s.profiler.Begin(inst.node.Plugin.Plugin)
	more, err := gen.Generate(out)
	stop()
	return more, err
}

func (s *Scheduler) timedProcess(inst *instance, inputs []*core.Buffer, out *core.Buffer) (task.Status, error) {
	if s.profiler == nil {
		return inst.task.Process(inputs, out)
	}
	stop := s.profiler.Begin(inst.node.Plugin.Plugin)
	status, err := inst.task.Process(inputs, out)
	stop()
	return status, err
}

// popAll pulls one buffer from every input channel. If any channel is
// closed-and-drained, every buffer already popped this round is released
// and ok is false: a multi-input task ends as soon as any one of its
// producers ends, per the spec's split/merge balance invariant.
func (s *Scheduler) popAll(inst *instance) ([]*core.Buffer, bool) {
	bufs := make([]*core.Buffer, 0, len(inst.inputs))
	for _, in := range inst.inputs {
		buf, ok := in.Pop()
		if !ok {
			s.releaseAll(bufs)
			return nil, false
		}
		bufs = append(bufs, buf)
	}
	return bufs, true
}

// pushAll delivers one produced buffer to every channel wired to this
// instance's output port, per the node's split policy. A single-output
// node is the common case and always takes the broadcast path trivially
// (one recipient). A copier node (len(outputs) > 1) routes per Split:
// broadcast clones the buffer so each downstream consumer owns an
// independent instance it can release on its own schedule; round-robin and
// randomize instead pick exactly one recipient per call, since those
// policies partition the stream rather than replicate it. Every buffer a
// copier emits is tagged with a monotonically increasing sequence number
// ("sequence numbers attached on entry", spec.md §4.5) so the paired
// collector can restore the pre-split order regardless of how unevenly the
// branches complete.
func (s *Scheduler) pushAll(inst *instance, out *core.Buffer) error {
	if len(inst.outputs) == 0 {
		// SINK mode: nothing downstream, return the buffer to the pool
		// immediately instead of leaking it until Finalize.
		s.rm.ReleaseBuffer(out)
		return nil
	}

	if len(inst.outputs) == 1 {
		return inst.outputs[0].Push(out)
	}

	seq := inst.seqOut
	inst.seqOut++
	out.SetSequence(seq)

	switch inst.node.Split {
	case model.SplitRoundRobin:
		idx := int(inst.rrCounter) % len(inst.outputs)
		inst.rrCounter++
		return inst.outputs[idx].Push(out)
	case model.SplitRandomize:
		idx := rand.Intn(len(inst.outputs))
		return inst.outputs[idx].Push(out)
	default: // model.SplitBroadcast
		for i, o := range inst.outputs {
			buf := out
			if i > 0 {
				clone, err := s.rm.RequestBuffer(out.GetRequisition())
				if err != nil {
					return err
				}
				if err := out.Copy(clone); err != nil {
					s.rm.ReleaseBuffer(clone)
					return err
				}
				clone.SetSequence(seq)
				buf = clone
			}
			if err := o.Push(buf); err != nil {
				return err
			}
		}
		return nil
	}
}

func (s *Scheduler) releaseAll(bufs []*core.Buffer) {
	for _, b := range bufs {
		s.rm.ReleaseBuffer(b)
	}
}

// Stats returns the per-task unit-processed counters accumulated so far.
func (s *Scheduler) Stats() map[string]int64 {
	return s.stats.Snapshot()
}

// Profiler returns the scheduler's profiler, or nil if ENGINE_PROFILE was
// not set when this scheduler was constructed.
func (s *Scheduler) Profiler() *Profiler {
	return s.profiler
}
