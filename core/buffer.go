// Package core provides the fundamental data primitives of the dataflow
// engine: the residency-tracked image Buffer and the cache-alignment
// helpers its pool relies on.
//
// A Buffer is a handle to a rectangular array of 32-bit floats (1 to 3
// dimensions) that can live on the host, on a device, or both. Reads and
// writes lazily trigger the minimal host<->device transfer required to
// keep the two sides consistent; see Residency for the exact state
// machine.
package core

import (
	"sync"
	"unsafe"
)

// Residency describes which side of a Buffer currently holds valid data.
type Residency int

const (
	// Empty means neither side holds valid data (just issued from the pool).
	Empty Residency = iota
	// HostValid means the host array holds valid data; the device side may
	// be stale or unallocated.
	HostValid
	// DeviceValid means the device memory object holds valid data; the
	// host array may be stale.
	DeviceValid
	// BothValid means host and device agree. It holds only between a
	// successful transfer and the next write on either side.
	BothValid
)

func (r Residency) String() string {
	switch r {
	case Empty:
		return "EMPTY"
	case HostValid:
		return "HOST_VALID"
	case DeviceValid:
		return "DEVICE_VALID"
	case BothValid:
		return "BOTH_VALID"
	default:
		return "UNKNOWN"
	}
}

// Dims is a 1-to-3 dimensional shape, extents in element count (not bytes).
type Dims struct {
	Rank    int
	Extents [3]int
}

// NewDims builds a Dims from 1 to 3 extents.
func NewDims(extents ...int) Dims {
	var d Dims
	d.Rank = len(extents)
	for i, e := range extents {
		if i >= 3 {
			break
		}
		d.Extents[i] = e
	}
	return d
}

// Count returns the total element count (product of extents).
func (d Dims) Count() int {
	n := 1
	for i := 0; i < d.Rank; i++ {
		n *= d.Extents[i]
	}
	return n
}

// ByteSize returns Count()*4, the invariant size of a Buffer with this shape.
func (d Dims) ByteSize() int { return d.Count() * 4 }

func (d Dims) key() shapeKey {
	return shapeKey{d.Rank, d.Extents}
}

type shapeKey struct {
	rank    int
	extents [3]int
}

// CommandQueue is the minimal device-transfer surface a Buffer needs.
// runtime.Queue implements this over github.com/jgillich/go-opencl/cl so
// that core never imports the OpenCL bindings (and runtime, which does,
// never needs to import core for anything but this interface's argument
// and return types).
type CommandQueue interface {
	// AllocDeviceMem reserves a device allocation of the given byte size.
	AllocDeviceMem(size int) (DeviceMem, error)
	// EnqueueWrite blocks until host data has been uploaded to dst.
	EnqueueWrite(dst DeviceMem, src []byte) error
	// EnqueueRead blocks until dst has been populated from device memory.
	EnqueueRead(src DeviceMem, dst []byte) error
	// EnqueueCopy performs a device-to-device copy, both same size.
	EnqueueCopy(dst, src DeviceMem) error
}

// DeviceMem is an opaque device memory object (an OpenCL image or buffer).
type DeviceMem interface {
	Size() int
	Release()
}

// Buffer is a handle to a rectangular float32 array with tri-state
// host/device residency. A Buffer is held by exactly one task at a time
// (in-flight) or by the pool (idle); it is never aliased.
type Buffer struct {
	mu sync.Mutex

	dims     Dims
	residency Residency

	host   []byte // owned host allocation, may be nil
	device DeviceMem
	queue  CommandQueue

	// origin identifies which pool free-list this buffer should be
	// returned to on release. It is an opaque token, not a pointer back to
	// the resource manager, so Buffer never creates a reference cycle.
	origin OriginID

	poison error // set once a ClError occurs; every op but Release returns it

	seq    uint64 // sequence number attached by a copier, read by its collector
	hasSeq bool
}

// OriginID identifies the pool a Buffer should be released back to.
type OriginID struct {
	Rank    int
	Extents [3]int
}

// NewBuffer constructs an EMPTY buffer of the given shape, tagged with the
// pool it was issued from. Called only by the resource manager's pool.
func NewBuffer(dims Dims, origin OriginID) *Buffer {
	return &Buffer{
		dims:      dims,
		residency: Empty,
		origin:    origin,
	}
}

// Origin reports which pool free-list this buffer belongs to.
func (b *Buffer) Origin() OriginID { return b.origin }

// GetRequisition is a pure accessor for the buffer's shape.
func (b *Buffer) GetRequisition() Dims {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dims
}

// Residency reports the current residency state.
func (b *Buffer) Residency() Residency {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.residency
}

// Reset returns the buffer to EMPTY without discarding its backing
// allocations, so a later consumer of the same shape can reuse them. It
// does not clear poison; poisoned buffers must not be reused by the pool.
// It does clear any attached sequence number: that tag is meaningful only
// for the lifetime of one split/merge round trip, never across reissue.
func (b *Buffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.residency = Empty
	b.seq = 0
	b.hasSeq = false
}

// SetSequence tags the buffer with a split-order sequence number, attached
// by a copier node on entry to a split so its paired collector can
// stable-sort branch arrivals back into the original order on exit
// (spec.md §4.5).
func (b *Buffer) SetSequence(n uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.seq = n
	b.hasSeq = true
}

// Sequence reports the sequence number attached by SetSequence, and
// whether one was ever attached.
func (b *Buffer) Sequence() (uint64, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.seq, b.hasSeq
}

// Poisoned reports whether the buffer is in the poisoned (ClError) state.
func (b *Buffer) Poisoned() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.poison
}

// GetHostArray returns the host-side float32 view, downloading from device
// memory first if necessary.
func (b *Buffer) GetHostArray() ([]float32, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.poison != nil {
		return nil, b.poison
	}

	if b.host == nil {
		b.host = AlignedBytes(b.dims.ByteSize())
	}

	if b.residency == DeviceValid {
		if err := b.queue.EnqueueRead(b.device, b.host); err != nil {
			clErr := &ClError{Op: "get_host_array", Err: err}
			b.poison = clErr
			return nil, clErr
		}
		b.residency = BothValid
	}

	return bytesToFloat32(b.host), nil
}

// GetDeviceArray returns a device memory object holding valid data,
// uploading from the host first if necessary.
func (b *Buffer) GetDeviceArray(queue CommandQueue) (DeviceMem, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.poison != nil {
		return nil, b.poison
	}

	b.queue = queue

	if b.device == nil {
		mem, err := queue.AllocDeviceMem(b.dims.ByteSize())
		if err != nil {
			return nil, &ClError{Op: "alloc_device_mem", Err: err}
		}
		b.device = mem
	}

	if b.residency == HostValid {
		if err := queue.EnqueueWrite(b.device, b.host); err != nil {
			clErr := &ClError{Op: "get_device_array", Err: err}
			b.poison = clErr
			return nil, clErr
		}
		b.residency = BothValid
	}

	return b.device, nil
}

// GetDeviceImage is the same lazy upload as GetDeviceArray, bound as a
// 2-D image view for kernels declared against an image argument. The
// engine itself treats this identically to GetDeviceArray; the image-vs-
// buffer distinction is purely an OpenCL-side binding concern left to the
// task plugin that requested it.
func (b *Buffer) GetDeviceImage(queue CommandQueue) (DeviceMem, error) {
	return b.GetDeviceArray(queue)
}

// SetHostData copies n*4 bytes from src into the host array, transitioning
// residency to HOST_VALID. Fails with WrongSizeError if n*4 exceeds the
// buffer's byte size.
func (b *Buffer) SetHostData(src []float32) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.poison != nil {
		return b.poison
	}

	n := len(src) * 4
	if n > b.dims.ByteSize() {
		return &WrongSizeError{Requested: n, Capacity: b.dims.ByteSize()}
	}

	if b.host == nil {
		b.host = AlignedBytes(b.dims.ByteSize())
	}

	dst := bytesToFloat32(b.host)
	copy(dst, src)
	b.residency = HostValid
	return nil
}

// SetHostBytes copies src verbatim into the host array, transitioning
// residency to HOST_VALID without any float32 reinterpretation. This is
// the producer path for narrow-integer samples (8- or 16-bit) destined
// for Reinterpret: src holds n*(depth/8) packed sample bytes at the
// front of the buffer, not n float32s. Fails with WrongSizeError if
// len(src) exceeds the buffer's byte size.
func (b *Buffer) SetHostBytes(src []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.poison != nil {
		return b.poison
	}

	if len(src) > b.dims.ByteSize() {
		return &WrongSizeError{Requested: len(src), Capacity: b.dims.ByteSize()}
	}

	if b.host == nil {
		b.host = AlignedBytes(b.dims.ByteSize())
	}

	copy(b.host, src)
	b.residency = HostValid
	return nil
}

// BitDepth is the narrow integer sample width Reinterpret expands from.
type BitDepth int

const (
	Depth8  BitDepth = 8
	Depth16 BitDepth = 16
	Depth32 BitDepth = 32
)

// Reinterpret expands n narrow integer samples (8- or 16-bit) held at the
// front of the host buffer into n 32-bit normalized floats occupying the
// same allocation, iterating back-to-front so no second allocation is
// required: each source element is no wider than half the destination
// element, so writing index i of the destination never clobbers an
// unread source element at index > i.
func (b *Buffer) Reinterpret(depth BitDepth, n int, normalize bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.poison != nil {
		return b.poison
	}
	if b.residency != HostValid && b.residency != BothValid {
		return &WrongSizeError{Requested: 0, Capacity: 0}
	}

	dst := bytesToFloat32(b.host)
	if len(dst) < n {
		return &WrongSizeError{Requested: n * 4, Capacity: len(b.host)}
	}

	switch depth {
	case Depth8:
		src := b.host
		var max float32 = 255
		for i := n - 1; i >= 0; i-- {
			v := float32(src[i])
			if normalize {
				v /= max
			}
			dst[i] = v
		}
	case Depth16:
		src := b.host
		var max float32 = 65535
		for i := n - 1; i >= 0; i-- {
			lo, hi := src[2*i], src[2*i+1]
			raw := uint16(lo) | uint16(hi)<<8
			v := float32(raw)
			if normalize {
				v /= max
			}
			dst[i] = v
		}
	default:
		return &WrongSizeError{Requested: int(depth), Capacity: 32}
	}

	b.residency = HostValid
	return nil
}

// Copy duplicates src's contents into dst, which must already be the same
// shape. When src's valid data is on the device only (DEVICE_VALID, with a
// queue attached) it copies device-side, allocating dst's device memory if
// needed; otherwise it copies src's host array, if it has one.
func (b *Buffer) Copy(dst *Buffer) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.poison != nil {
		return b.poison
	}
	if dst.dims != b.dims {
		return &WrongSizeError{Requested: b.dims.ByteSize(), Capacity: dst.dims.ByteSize()}
	}

	if b.residency == DeviceValid && b.queue != nil {
		if dst.device == nil {
			mem, err := b.queue.AllocDeviceMem(dst.dims.ByteSize())
			if err != nil {
				return &ClError{Op: "copy_alloc", Err: err}
			}
			dst.device = mem
			dst.queue = b.queue
		}
		if err := b.queue.EnqueueCopy(dst.device, b.device); err != nil {
			return &ClError{Op: "copy", Err: err}
		}
		dst.residency = DeviceValid
		return nil
	}

	if b.host != nil {
		if dst.host == nil {
			dst.host = AlignedBytes(dst.dims.ByteSize())
		}
		copy(dst.host, b.host)
		dst.residency = HostValid
	}
	return nil
}

// Release returns any device allocation and clears poison; the pool calls
// this once a poisoned or finished buffer is retired rather than recycled.
func (b *Buffer) Release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.device != nil {
		b.device.Release()
		b.device = nil
	}
	b.poison = nil
	b.residency = Empty
}

func bytesToFloat32(b []byte) []float32 {
	if len(b) == 0 {
		return nil
	}
	return unsafe.Slice((*float32)(unsafe.Pointer(&b[0])), len(b)/4)
}
