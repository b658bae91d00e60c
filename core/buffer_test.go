package core

import (
	"errors"
	"testing"
)

type fakeMem struct{ size int }

func (m *fakeMem) Size() int { return m.size }
func (m *fakeMem) Release()  {}

type fakeQueue struct {
	data      map[*fakeMem][]byte
	failWrite bool
	failRead  bool
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{data: make(map[*fakeMem][]byte)}
}

func (q *fakeQueue) AllocDeviceMem(size int) (DeviceMem, error) {
	m := &fakeMem{size: size}
	q.data[m] = make([]byte, size)
	return m, nil
}

func (q *fakeQueue) EnqueueWrite(dst DeviceMem, src []byte) error {
	if q.failWrite {
		return errors.New("write failed")
	}
	m := dst.(*fakeMem)
	copy(q.data[m], src)
	return nil
}

func (q *fakeQueue) EnqueueRead(src DeviceMem, dst []byte) error {
	if q.failRead {
		return errors.New("read failed")
	}
	m := src.(*fakeMem)
	copy(dst, q.data[m])
	return nil
}

func (q *fakeQueue) EnqueueCopy(dst, src DeviceMem) error {
	d, s := dst.(*fakeMem), src.(*fakeMem)
	copy(q.data[d], q.data[s])
	return nil
}

func TestDimsByteSize(t *testing.T) {
	t.Parallel()
	tests := []struct {
		dims Dims
		want int
	}{
		{NewDims(2, 2), 16},
		{NewDims(3, 1), 12},
		{NewDims(4, 4, 4), 256},
	}
	for _, tt := range tests {
		if got := tt.dims.ByteSize(); got != tt.want {
			t.Errorf("Dims(%v).ByteSize() = %d, want %d", tt.dims, got, tt.want)
		}
	}
}

func TestBufferHostWriteRead(t *testing.T) {
	t.Parallel()
	b := NewBuffer(NewDims(2, 2), OriginID{Rank: 2, Extents: [3]int{2, 2, 0}})
	if b.Residency() != Empty {
		t.Fatalf("new buffer residency = %v, want EMPTY", b.Residency())
	}

	in := []float32{1, 2, 3, 4}
	if err := b.SetHostData(in); err != nil {
		t.Fatalf("SetHostData: %v", err)
	}
	if b.Residency() != HostValid {
		t.Fatalf("residency after SetHostData = %v, want HOST_VALID", b.Residency())
	}

	out, err := b.GetHostArray()
	if err != nil {
		t.Fatalf("GetHostArray: %v", err)
	}
	for i, v := range in {
		if out[i] != v {
			t.Errorf("out[%d] = %v, want %v", i, out[i], v)
		}
	}
}

func TestBufferOversizeSetHostData(t *testing.T) {
	t.Parallel()
	b := NewBuffer(NewDims(2, 2), OriginID{Rank: 2, Extents: [3]int{2, 2, 0}})
	err := b.SetHostData([]float32{1, 2, 3, 4, 5})
	var wrongSize *WrongSizeError
	if !errors.As(err, &wrongSize) {
		t.Fatalf("SetHostData oversize: got %v, want *WrongSizeError", err)
	}
}

// TestBufferResidencyRoundTrip exercises S3 from the spec: host write,
// forced device upload, then forced host download observes the same data
// the device side holds (here the fake queue is transparent, so device
// write followed by host read must observe device data).
func TestBufferResidencyRoundTrip(t *testing.T) {
	t.Parallel()
	q := newFakeQueue()
	b := NewBuffer(NewDims(2, 2), OriginID{Rank: 2, Extents: [3]int{2, 2, 0}})

	if err := b.SetHostData([]float32{1, 2, 3, 4}); err != nil {
		t.Fatalf("SetHostData: %v", err)
	}

	mem, err := b.GetDeviceArray(q)
	if err != nil {
		t.Fatalf("GetDeviceArray: %v", err)
	}
	if b.Residency() != BothValid {
		t.Fatalf("residency after upload = %v, want BOTH_VALID", b.Residency())
	}

	// Simulate a kernel zeroing the device buffer directly.
	zero := make([]byte, mem.Size())
	q.data[mem.(*fakeMem)] = zero
	b.device = mem
	b.residency = DeviceValid

	host, err := b.GetHostArray()
	if err != nil {
		t.Fatalf("GetHostArray: %v", err)
	}
	for i, v := range host {
		if v != 0 {
			t.Errorf("host[%d] = %v, want 0 after device zero-fill", i, v)
		}
	}
}

func TestBufferClErrorPoisons(t *testing.T) {
	t.Parallel()
	q := newFakeQueue()
	q.failWrite = true
	b := NewBuffer(NewDims(1, 1), OriginID{Rank: 2, Extents: [3]int{1, 1, 0}})
	if err := b.SetHostData([]float32{1}); err != nil {
		t.Fatalf("SetHostData: %v", err)
	}

	if _, err := b.GetDeviceArray(q); err == nil {
		t.Fatal("expected ClError from failing write")
	}

	var clErr *ClError
	if !errors.As(b.Poisoned(), &clErr) {
		t.Fatalf("buffer not poisoned after failed transfer")
	}

	if _, err := b.GetHostArray(); !errors.As(err, &clErr) {
		t.Fatalf("poisoned buffer should return cached ClError, got %v", err)
	}
}

func TestReinterpret8Bit(t *testing.T) {
	t.Parallel()
	b := NewBuffer(NewDims(3, 1), OriginID{Rank: 2, Extents: [3]int{3, 1, 0}})
	if err := b.SetHostBytes([]byte{0, 128, 255}); err != nil {
		t.Fatalf("SetHostBytes: %v", err)
	}

	if err := b.Reinterpret(Depth8, 3, true); err != nil {
		t.Fatalf("Reinterpret: %v", err)
	}

	out, err := b.GetHostArray()
	if err != nil {
		t.Fatalf("GetHostArray: %v", err)
	}

	want := []float32{0.0, 128.0 / 255.0, 1.0}
	for i := range want {
		if diff := out[i] - want[i]; diff > 1e-6 || diff < -1e-6 {
			t.Errorf("out[%d] = %v, want %v", i, out[i], want[i])
		}
	}
}

func TestCopyHostFallback(t *testing.T) {
	t.Parallel()
	src := NewBuffer(NewDims(2, 2), OriginID{Rank: 2, Extents: [3]int{2, 2, 0}})
	dst := NewBuffer(NewDims(2, 2), OriginID{Rank: 2, Extents: [3]int{2, 2, 0}})

	if err := src.SetHostData([]float32{1, 2, 3, 4}); err != nil {
		t.Fatalf("SetHostData: %v", err)
	}
	if err := src.Copy(dst); err != nil {
		t.Fatalf("Copy: %v", err)
	}

	out, err := dst.GetHostArray()
	if err != nil {
		t.Fatalf("GetHostArray: %v", err)
	}
	want := []float32{1, 2, 3, 4}
	for i := range want {
		if out[i] != want[i] {
			t.Errorf("dst[%d] = %v, want %v", i, out[i], want[i])
		}
	}
}
