// Package runtime implements the scheduler, the buffer pool, and the
// OpenCL resource manager: the three pieces that drive a constructed
// graph to completion.
package runtime

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/jgillich/go-opencl/cl"

	"github.com/sbl8/ufoengine/core"
	"github.com/sbl8/ufoengine/task"
)

// ResourceManager owns the OpenCL context, one command queue per device,
// the compiled-kernel cache, and the buffer pool. It lives for the
// lifetime of the scheduler that constructed it (spec: "one instance per
// scheduler", replacing the teacher's process-wide singleton pattern).
type ResourceManager struct {
	cfg Configuration

	ctx     *cl.Context
	devices []*Device
	queues  []*Queue

	kernelMu sync.RWMutex
	kernels  map[kernelKey]*Kernel

	poolMu sync.Mutex
	pool   map[core.OriginID][]*core.Buffer
}

type kernelKey struct {
	source, entry, flags string
}

// NewResourceManager enumerates OpenCL platforms/devices per cfg, creates
// a context spanning the matching devices, and one command queue per
// device.
func NewResourceManager(cfg Configuration) (*ResourceManager, error) {
	platforms, err := cl.GetPlatforms()
	if err != nil {
		return nil, err
	}
	if cfg.PlatformIndex < 0 || cfg.PlatformIndex >= len(platforms) {
		cfg.PlatformIndex = 0
	}
	if len(platforms) == 0 {
		return nil, &OutOfMemoryError{Shape: "platform", Err: err}
	}

	clDevices, err := platforms[cfg.PlatformIndex].GetDevices(clDeviceType(cfg.DeviceType))
	if err != nil {
		return nil, err
	}

	ctx, err := cl.CreateContext(clDevices)
	if err != nil {
		return nil, err
	}

	rm := &ResourceManager{
		cfg:     cfg,
		ctx:     ctx,
		kernels: make(map[kernelKey]*Kernel),
		pool:    make(map[core.OriginID][]*core.Buffer),
	}

	for i, d := range clDevices {
		q, err := ctx.CreateCommandQueue(d, 0)
		if err != nil {
			rm.Close()
			return nil, err
		}
		dev := &Device{cl: d, Name: d.Name(), Index: i}
		rm.devices = append(rm.devices, dev)
		rm.queues = append(rm.queues, &Queue{ctx: ctx, queue: q, dev: dev})
	}

	return rm, nil
}

func clDeviceType(t DeviceType) cl.DeviceType {
	switch t {
	case DeviceTypeCPU:
		return cl.DeviceTypeCPU
	case DeviceTypeGPU:
		return cl.DeviceTypeGPU
	default:
		return cl.DeviceTypeAll
	}
}

// GetContext returns the shared OpenCL context.
func (rm *ResourceManager) GetContext() *cl.Context { return rm.ctx }

// Devices enumerates the devices this resource manager spans.
func (rm *ResourceManager) Devices() []*Device { return rm.devices }

// GetDevices lists device names, satisfying task.ResourceManager.
func (rm *ResourceManager) GetDevices() []string {
	names := make([]string, len(rm.devices))
	for i, d := range rm.devices {
		names[i] = d.Name
	}
	return names
}

// GetCommandQueue returns the queue bound to the given device index.
func (rm *ResourceManager) GetCommandQueue(deviceIndex int) (*Queue, error) {
	if deviceIndex < 0 || deviceIndex >= len(rm.queues) {
		return nil, &KernelNotFoundError{Source: "device", Paths: nil}
	}
	return rm.queues[deviceIndex], nil
}

// SetConfiguration updates accepted runtime options; kernel-path changes
// take effect on the next GetKernel call.
func (rm *ResourceManager) SetConfiguration(cfg Configuration) {
	rm.cfg = cfg
}

// GetKernel compiles (or returns a cached) kernel identified by
// (source, entry, buildFlags). source is resolved against the configured
// kernel-path list. The returned task.KernelHandle's concrete type is
// always *Kernel; GPU plugins type-assert it to dispatch the kernel.
func (rm *ResourceManager) GetKernel(source, entry, buildFlags string) (task.KernelHandle, error) {
	key := kernelKey{source, entry, buildFlags}

	rm.kernelMu.RLock()
	if k, ok := rm.kernels[key]; ok {
		k.refs++
		rm.kernelMu.RUnlock()
		return k, nil
	}
	rm.kernelMu.RUnlock()

	path, err := rm.resolveKernelSource(source)
	if err != nil {
		return nil, err
	}

	src, err := os.ReadFile(path)
	if err != nil {
		return nil, &KernelNotFoundError{Source: source, Paths: rm.cfg.KernelPaths}
	}

	program, err := rm.ctx.CreateProgramWithSource([]string{string(src)})
	if err != nil {
		return nil, err
	}

	if err := program.BuildProgram(nil, buildFlags); err != nil {
		return nil, &KernelBuildError{Source: source, Entry: entry, Log: err.Error()}
	}

	kernel, err := program.CreateKernel(entry)
	if err != nil {
		return nil, &KernelBuildError{Source: source, Entry: entry, Log: err.Error()}
	}

	k := &Kernel{entry: entry, program: program, kernel: kernel, refs: 1}

	rm.kernelMu.Lock()
	rm.kernels[key] = k
	rm.kernelMu.Unlock()

	return k, nil
}

func (rm *ResourceManager) resolveKernelSource(source string) (string, error) {
	if filepath.IsAbs(source) {
		if _, err := os.Stat(source); err == nil {
			return source, nil
		}
	}
	for _, dir := range rm.cfg.KernelPaths {
		candidate := filepath.Join(dir, source)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	return "", &KernelNotFoundError{Source: source, Paths: rm.cfg.KernelPaths}
}

// RequestBuffer returns a pooled buffer of the given shape, allocating a
// fresh one if the free-list for that shape is empty. Residency is EMPTY
// on first issue, per spec.
//
// Pool policy: one free-list per (dim_count, dim_values) tuple, guarded by
// a single mutex. The critical section is O(1) (pop/push on a small
// slice); the teacher's BufferPool/SublatePool channel-backed pools
// informed this shape, generalized from a single fixed size class to a
// map of shape classes.
func (rm *ResourceManager) RequestBuffer(dims core.Dims) (*core.Buffer, error) {
	origin := core.OriginID{Rank: dims.Rank, Extents: dims.Extents}

	rm.poolMu.Lock()
	free := rm.pool[origin]
	if len(free) > 0 {
		buf := free[len(free)-1]
		rm.pool[origin] = free[:len(free)-1]
		rm.poolMu.Unlock()
		buf.Reset()
		return buf, nil
	}
	rm.poolMu.Unlock()

	buf := core.NewBuffer(dims, origin)
	return buf, nil
}

// ReleaseBuffer returns buf to the free-list for its origin shape. A
// poisoned buffer is released (its device allocation freed) rather than
// recycled, so a later consumer never observes a cached ClError.
func (rm *ResourceManager) ReleaseBuffer(buf *core.Buffer) {
	if buf.Poisoned() != nil {
		buf.Release()
		return
	}

	origin := buf.Origin()
	rm.poolMu.Lock()
	rm.pool[origin] = append(rm.pool[origin], buf)
	rm.poolMu.Unlock()
}

// InUseCount reports buffers issued but not yet returned to any free-list;
// used to test the no-leaks invariant (spec §8.3). It is exact only when
// called after Scheduler.Run has returned, since it does not account for
// buffers the scheduler has not yet handed back.
func (rm *ResourceManager) InUseCount(issued int) int {
	rm.poolMu.Lock()
	defer rm.poolMu.Unlock()
	pooled := 0
	for _, free := range rm.pool {
		pooled += len(free)
	}
	return issued - pooled
}

// PoolFootprint reports the total aligned host-side memory, in bytes,
// currently held idle across every shape's free-list, using
// core.BufferAlignedFootprint per buffer. Read by `ufoinfo -mode=devices`
// to surface how much memory the pool is holding onto between runs.
func (rm *ResourceManager) PoolFootprint() int {
	rm.poolMu.Lock()
	defer rm.poolMu.Unlock()
	total := 0
	for _, free := range rm.pool {
		for _, buf := range free {
			total += core.BufferAlignedFootprint(buf)
		}
	}
	return total
}

// Close releases every cached kernel, drains the pool (releasing each idle
// buffer's device allocation), finishes and releases every queue, and
// finally releases the context.
func (rm *ResourceManager) Close() {
	rm.kernelMu.Lock()
	for _, k := range rm.kernels {
		k.release()
	}
	rm.kernels = nil
	rm.kernelMu.Unlock()

	rm.poolMu.Lock()
	for _, free := range rm.pool {
		for _, buf := range free {
			buf.Release()
		}
	}
	rm.pool = make(map[core.OriginID][]*core.Buffer)
	rm.poolMu.Unlock()

	for _, q := range rm.queues {
		_ = q.Finish()
		q.Release()
	}
	rm.queues = nil

	if rm.ctx != nil {
		rm.ctx.Release()
		rm.ctx = nil
	}
}
