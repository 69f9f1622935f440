package zinvul

import (
	"cmp"
	"sync"
)

// WorkGroup is the dispatch context passed to a CPU entry point. It
// identifies the current work-group within the launch grid. On the CPU
// backend every work-group has a local size of one.
type WorkGroup struct {
	id   [3]uint32
	grid [3]uint32
	mu   *sync.Mutex
}

// ID returns the work-group index along dim.
func (wg *WorkGroup) ID(dim int) uint32 { return wg.id[dim] }

// NumGroups returns the grid extent along dim.
func (wg *WorkGroup) NumGroups(dim int) uint32 { return wg.grid[dim] }

// LocalSize returns the work-group extent along dim.
func (wg *WorkGroup) LocalSize(int) uint32 { return 1 }

// LocalID returns the invocation index inside the work-group along dim.
func (wg *WorkGroup) LocalID(int) uint32 { return 0 }

// GlobalID returns the global invocation index along dim.
func (wg *WorkGroup) GlobalID(dim int) uint32 { return wg.id[dim] }

// LinearID returns the row-major flattened work-group index.
func (wg *WorkGroup) LinearID() uint64 {
	return uint64(wg.id[0]) + uint64(wg.grid[0])*(uint64(wg.id[1])+uint64(wg.grid[1])*uint64(wg.id[2]))
}

// unflatten converts a flat work-group index to grid coordinates.
func unflatten(i uint64, grid [3]uint32) [3]uint32 {
	x := uint64(grid[0])
	y := uint64(grid[1])
	return [3]uint32{uint32(i % x), uint32(i / x % y), uint32(i / (x * y))}
}

// Number is the set of element types the atomic builtins accept.
type Number interface {
	~int8 | ~int16 | ~int32 | ~int64 | ~int |
		~uint8 | ~uint16 | ~uint32 | ~uint64 | ~uint |
		~float32 | ~float64
}

// AtomicAdd adds v to *p and returns the previous value. All atomic
// builtins of one dispatch share a lock.
func AtomicAdd[T Number](wg *WorkGroup, p *T, v T) T {
	wg.mu.Lock()
	defer wg.mu.Unlock()
	old := *p
	*p = old + v
	return old
}

// AtomicMin stores min(*p, v) and returns the previous value.
func AtomicMin[T cmp.Ordered](wg *WorkGroup, p *T, v T) T {
	wg.mu.Lock()
	defer wg.mu.Unlock()
	old := *p
	*p = min(old, v)
	return old
}

// AtomicMax stores max(*p, v) and returns the previous value.
func AtomicMax[T cmp.Ordered](wg *WorkGroup, p *T, v T) T {
	wg.mu.Lock()
	defer wg.mu.Unlock()
	old := *p
	*p = max(old, v)
	return old
}

// AtomicExchange stores v and returns the previous value.
func AtomicExchange[T any](wg *WorkGroup, p *T, v T) T {
	wg.mu.Lock()
	defer wg.mu.Unlock()
	old := *p
	*p = v
	return old
}

// Args holds the values bound to each kernel parameter, indexed by
// parameter position.
type Args struct {
	slots []any
}

// BufferArg returns the slice bound to global parameter i. Writes go
// straight to the buffer.
func BufferArg[T any](a *Args, i int) []T {
	return a.slots[i].([]T)
}

// PodArg returns the value bound to pod parameter i.
func PodArg[T any](a *Args, i int) T {
	return a.slots[i].(T)
}

// LocalArg returns the scratch slice of local parameter i. Every
// work-group gets a freshly allocated, zeroed slice that is never shared
// with another work-group.
func LocalArg[T any](a *Args, i int) []T {
	return a.slots[i].([]T)
}
