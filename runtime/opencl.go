package runtime

import (
	"unsafe"

	"github.com/jgillich/go-opencl/cl"

	"github.com/sbl8/ufoengine/core"
)

// Device describes one enumerated OpenCL device.
type Device struct {
	cl    *cl.Device
	Name  string
	Index int
}

// Queue wraps one device's OpenCL command queue and implements
// core.CommandQueue, so core.Buffer can lazily transfer without core
// importing the OpenCL bindings directly.
type Queue struct {
	ctx   *cl.Context
	queue *cl.CommandQueue
	dev   *Device
}

// DeviceBuffer wraps an OpenCL memory object.
type DeviceBuffer struct {
	mem  *cl.MemObject
	size int
}

func (d *DeviceBuffer) Size() int { return d.size }
func (d *DeviceBuffer) Release() {
	if d.mem != nil {
		d.mem.Release()
		d.mem = nil
	}
}

// AllocDeviceMem reserves a read-write device buffer of the given size.
func (q *Queue) AllocDeviceMem(size int) (core.DeviceMem, error) {
	mem, err := q.ctx.CreateEmptyBuffer(cl.MemReadWrite, size)
	if err != nil {
		return nil, err
	}
	return &DeviceBuffer{mem: mem, size: size}, nil
}

// EnqueueWrite blocks until src has been uploaded into dst.
func (q *Queue) EnqueueWrite(dst core.DeviceMem, src []byte) error {
	if len(src) == 0 {
		return nil
	}
	db := dst.(*DeviceBuffer)
	ptr := unsafe.Pointer(&src[0])
	_, err := q.queue.EnqueueWriteBuffer(db.mem, true, 0, len(src), ptr, nil)
	return err
}

// EnqueueRead blocks until dst has been populated from src.
func (q *Queue) EnqueueRead(src core.DeviceMem, dst []byte) error {
	if len(dst) == 0 {
		return nil
	}
	db := src.(*DeviceBuffer)
	ptr := unsafe.Pointer(&dst[0])
	_, err := q.queue.EnqueueReadBuffer(db.mem, true, 0, len(dst), ptr, nil)
	return err
}

// EnqueueCopy performs a device-to-device copy via a round-trip through a
// pinned host staging buffer (go-opencl/cl exposes read/write buffer
// primitives but no direct device-to-device copy call in the surface this
// engine binds against).
func (q *Queue) EnqueueCopy(dst, src core.DeviceMem) error {
	staging := make([]byte, src.Size())
	if err := q.EnqueueRead(src, staging); err != nil {
		return err
	}
	return q.EnqueueWrite(dst, staging)
}

// Finish blocks until every previously enqueued operation on this queue
// has completed. Called on shutdown per the spec's suspension points.
func (q *Queue) Finish() error {
	return q.queue.Finish()
}

// Release releases the underlying OpenCL command queue.
func (q *Queue) Release() {
	if q.queue != nil {
		q.queue.Release()
		q.queue = nil
	}
}

// Kernel is a reference-counted compiled OpenCL kernel, cached by
// (source, entry, build flags) in the resource manager. It implements
// task.KernelHandle so ResourceManager.GetKernel can satisfy the
// task.ResourceManager contract without task importing runtime.
type Kernel struct {
	entry   string
	program *cl.Program
	kernel  *cl.Kernel
	refs    int
}

// Name returns the kernel's entry-point name (task.KernelHandle).
func (k *Kernel) Name() string { return k.entry }

// CL returns the underlying *cl.Kernel for a plugin that needs to set
// arguments and enqueue it directly.
func (k *Kernel) CL() *cl.Kernel { return k.kernel }

func (k *Kernel) release() {
	if k.kernel != nil {
		k.kernel.Release()
	}
	if k.program != nil {
		k.program.Release()
	}
}
