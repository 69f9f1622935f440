package zinvul

import (
	"fmt"
	"reflect"
)

// BufferUsage states how the host intends to access a buffer.
type BufferUsage uint8

const (
	// UsageDeviceOnly buffers are only touched by kernels and copies.
	UsageDeviceOnly BufferUsage = 0

	// UsageHostRead buffers are read back with Read.
	UsageHostRead BufferUsage = 1 << 0

	// UsageHostWrite buffers are filled with Write.
	UsageHostWrite BufferUsage = 1 << 1

	// UsageHostReadWrite combines UsageHostRead and UsageHostWrite.
	UsageHostReadWrite = UsageHostRead | UsageHostWrite
)

// HostAccess reports whether the host reads or writes the buffer.
func (u BufferUsage) HostAccess() bool {
	return u&UsageHostReadWrite != 0
}

func (u BufferUsage) String() string {
	switch u {
	case UsageDeviceOnly:
		return "device-only"
	case UsageHostRead:
		return "host-read"
	case UsageHostWrite:
		return "host-write"
	case UsageHostReadWrite:
		return "host-read-write"
	default:
		return fmt.Sprintf("BufferUsage(%d)", uint8(u))
	}
}

// Argument is a value that can be bound to a global kernel parameter.
// Every Buffer is an Argument.
type Argument interface {
	Identity() *Identity
	Backend() Backend
	Size() int
	DescriptorKind() DescriptorKind

	elemType() reflect.Type
	device() Device

	// hostSlot returns the value a CPU entry point receives for this
	// argument: the backing slice, or element 0 for pod parameters.
	hostSlot(rep Representation) any
}

// Buffer is a typed, resizable array owned by a device. The descriptor
// kind and element type are fixed at creation.
type Buffer[T any] interface {
	Argument

	// Usage returns the host access intent given at creation.
	Usage() BufferUsage

	// SetSize reallocates the buffer to exactly n elements. Previous contents
	// are not preserved. It panics if n is negative.
	SetSize(n int) error

	// Clear releases the backing storage. It is safe to call more than once.
	Clear()

	// Read copies len(dst) elements starting at element offset into dst.
	Read(dst []T, offset, queue int) error

	// Write copies src into the buffer starting at element offset.
	Write(src []T, offset, queue int) error

	// CopyTo copies count elements from srcOffset to dst at dstOffset.
	CopyTo(dst Buffer[T], count, srcOffset, dstOffset, queue int) error
}

// NewBuffer creates an empty buffer of T on dev. Call SetSize to allocate.
func NewBuffer[T any](dev Device, kind DescriptorKind, usage BufferUsage) (Buffer[T], error) {
	if dev == nil {
		panic("zinvul: NewBuffer called with nil device")
	}
	if err := dev.base().checkAlive(); err != nil {
		return nil, err
	}
	switch dev.Backend() {
	case BackendCPU:
		return newCPUBuffer[T](dev, kind, usage), nil
	case BackendGPU:
		return newGPUBuffer[T](dev, kind, usage)
	default:
		return nil, fmt.Errorf("zinvul: unknown backend %d", dev.Backend())
	}
}

// checkResize panics on a negative element count.
func checkResize(n int) {
	if n < 0 {
		panic(fmt.Sprintf("zinvul: buffer size %d is negative", n))
	}
}

// checkRange panics when [offset, offset+count) does not fit in size.
func checkRange(op string, offset, count, size int) {
	if offset < 0 || count < 0 || offset+count > size {
		panic(fmt.Sprintf("zinvul: %s range [%d,%d) out of bounds for size %d", op, offset, offset+count, size))
	}
}
