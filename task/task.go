// Package task defines the plugin contract the engine drives. A task
// plugin is opaque behind this interface set — the engine never inspects
// task-internal state.
package task

import "github.com/sbl8/ufoengine/core"

// Mode is a task's data role. Its preferred compute device is the separate
// Device type.
type Mode int

const (
	GeneratorMode Mode = iota
	Processor
	Reductor
	Sink
)

func (m Mode) String() string {
	switch m {
	case GeneratorMode:
		return "GENERATOR"
	case Processor:
		return "PROCESSOR"
	case Reductor:
		return "REDUCTOR"
	case Sink:
		return "SINK"
	default:
		return "UNKNOWN"
	}
}

// Device is the compute device a task instance prefers.
type Device int

const (
	CPU Device = iota
	GPU
)

func (d Device) String() string {
	if d == GPU {
		return "GPU"
	}
	return "CPU"
}

// Status is Process's report of progress against its current input set.
type Status int

const (
	// StatusContinue means more output is expected from the current
	// inputs; the engine will call Process again without advancing input.
	StatusContinue Status = iota
	// StatusNextInput means this call consumed the inputs; the engine
	// advances to the next set of inputs.
	StatusNextInput
	// StatusFinished means emit this output, then terminate the task.
	StatusFinished
	// StatusAccumulate means this call folded the inputs into internal
	// state without producing output; the engine advances to the next
	// set of inputs and discards out unpushed. REDUCTOR tasks use this
	// to defer every emission to Flush, at upstream close.
	StatusAccumulate
)

// PropertyKind is the type tag of a declared plugin property.
type PropertyKind int

const (
	PropertyInt PropertyKind = iota
	PropertyFloat
	PropertyString
	PropertyBool
)

// PropertySchema describes one named, typed, bounded configuration knob a
// plugin accepts.
type PropertySchema struct {
	Name    string
	Kind    PropertyKind
	Min     float64
	Max     float64
	Default interface{}
}

// ResourceManager is the subset of runtime.ResourceManager a plugin's
// Setup needs. Declared here (rather than imported from runtime) so that
// task has no dependency on runtime, avoiding an import cycle since
// runtime depends on task to drive plugins.
type ResourceManager interface {
	// GetKernel compiles (or returns a cached) kernel. GPU plugins that
	// need the concrete OpenCL handle type-assert the returned
	// KernelHandle back to *runtime.Kernel.
	GetKernel(source, entry, buildFlags string) (KernelHandle, error)
	// GetDevices lists the names of devices this resource manager spans.
	GetDevices() []string
}

// KernelHandle is an opaque compiled-kernel reference. Its only portable
// operation is Name; GPU plugins recover the concrete *runtime.Kernel via
// a type assertion to dispatch it.
type KernelHandle interface {
	Name() string
}

// Task is the capability set every plugin implements regardless of Mode.
// GENERATOR tasks additionally implement Generator; all tasks implement
// Task itself, including generators (Process is simply unused for them).
type Task interface {
	// Setup is called once, before the first Process/Generate call, with
	// a resource manager handle the plugin may use to compile kernels and
	// allocate persistent auxiliary buffers.
	Setup(rm ResourceManager) error

	// GetRequisition reports the shape of the task's next output, given
	// its current inputs (empty for a GENERATOR).
	GetRequisition(inputs []*core.Buffer) (core.Dims, error)

	// Process consumes inputs and fills out with one unit of work.
	Process(inputs []*core.Buffer, out *core.Buffer) (Status, error)

	// Finalize releases plugin-owned resources. Called exactly once.
	Finalize() error
}

// Generator is implemented additionally by GENERATOR-mode tasks, which
// produce output without consuming any input.
type Generator interface {
	Task
	// Generate fills out and returns true while more data remains, false
	// to signal end of stream.
	Generate(out *core.Buffer) (bool, error)
}

// Flusher is implemented additionally by REDUCTOR-mode tasks that hold
// state across the whole stream (Process returns StatusAccumulate on
// every call) and must emit exactly once, after the last input has been
// consumed and every upstream channel has closed.
type Flusher interface {
	Task
	// Flush reports the terminal output buffer. ok is false if the task
	// never accumulated anything (e.g. the stream was empty), in which
	// case nothing is emitted.
	Flush(out *core.Buffer) (ok bool, err error)
}

// Spec is the static description of a task instance as declared in a
// graph: which plugin to instantiate, its mode/device, its declared port
// arities, and its configuration properties.
type Spec struct {
	Plugin     string
	Mode       Mode
	Device     Device
	InArity    int
	OutArity   int
	InputRank  []int // declared dimension count per input port
	Properties map[string]interface{}
}
