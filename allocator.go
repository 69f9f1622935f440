package zinvul

import (
	"fmt"
	"sync"
)

// Heap indices reported by PeakMemoryUsage and TotalMemoryUsage.
const (
	// HeapHost is the only heap of a CPU device.
	HeapHost = 0

	// HeapDeviceLocal is GPU memory not visible to the host.
	HeapDeviceLocal = 0

	// HeapHostVisible is GPU memory the host can map.
	HeapHostVisible = 1
)

// Allocator tracks byte usage per memory heap of a device. It is shared by
// every buffer created from the device.
type Allocator struct {
	mu    sync.Mutex
	heaps []heapUsage
}

type heapUsage struct {
	total uint64
	peak  uint64
}

func newAllocator(numHeaps int) *Allocator {
	return &Allocator{heaps: make([]heapUsage, numHeaps)}
}

// NumHeaps returns the number of heaps tracked.
func (a *Allocator) NumHeaps() int {
	return len(a.heaps)
}

// Total returns the bytes currently allocated from heap.
// It panics if heap is out of range.
func (a *Allocator) Total(heap int) uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.heap(heap).total
}

// Peak returns the highest byte count ever allocated from heap at once.
// It panics if heap is out of range.
func (a *Allocator) Peak(heap int) uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.heap(heap).peak
}

func (a *Allocator) allocate(heap int, bytes uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	h := a.heap(heap)
	h.total += bytes
	h.peak = max(h.peak, h.total)
}

func (a *Allocator) release(heap int, bytes uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	h := a.heap(heap)
	if bytes > h.total {
		bytes = h.total
	}
	h.total -= bytes
}

func (a *Allocator) heap(i int) *heapUsage {
	if i < 0 || i >= len(a.heaps) {
		panic(fmt.Sprintf("zinvul: heap index %d out of range [0,%d)", i, len(a.heaps)))
	}
	return &a.heaps[i]
}

// allocSlice allocates a host slice of n elements and accounts for it on heap.
func allocSlice[T any](a *Allocator, heap, n int) []T {
	s := make([]T, n)
	a.allocate(heap, uint64(n)*uint64(sizeOf[T]()))
	return s
}

// freeSlice releases the accounting for s on heap.
func freeSlice[T any](a *Allocator, heap int, s []T) {
	a.release(heap, uint64(len(s))*uint64(sizeOf[T]()))
}
