package zinvul

import (
	"fmt"
	"reflect"
)

// CPUBuffer is a Buffer backed by a host slice.
type CPUBuffer[T any] struct {
	resource
	kind  DescriptorKind
	usage BufferUsage
	data  []T
}

func newCPUBuffer[T any](dev Device, kind DescriptorKind, usage BufferUsage) *CPUBuffer[T] {
	b := &CPUBuffer[T]{kind: kind, usage: usage}
	b.attach(dev, "")
	return b
}

// DescriptorKind returns the descriptor kind given at creation.
func (b *CPUBuffer[T]) DescriptorKind() DescriptorKind { return b.kind }

// Usage returns the host access intent.
func (b *CPUBuffer[T]) Usage() BufferUsage { return b.usage }

// Size returns the element count.
func (b *CPUBuffer[T]) Size() int { return len(b.data) }

// Data returns the backing slice. Kernels receive the same slice.
func (b *CPUBuffer[T]) Data() []T { return b.data }

// ConstData returns the backing slice for read-only use.
func (b *CPUBuffer[T]) ConstData() []T { return b.data }

func (b *CPUBuffer[T]) elemType() reflect.Type { return typeOf[T]() }

func (b *CPUBuffer[T]) hostSlot(rep Representation) any {
	if rep == RepPod {
		if len(b.data) == 0 {
			panic(fmt.Sprintf("zinvul: pod argument %s is empty", b.ident.String()))
		}
		return b.data[0]
	}
	return b.data
}

// SetSize releases the current slice and allocates n zeroed elements.
func (b *CPUBuffer[T]) SetSize(n int) error {
	checkResize(n)
	if err := b.device().base().checkAlive(); err != nil {
		return err
	}
	b.Clear()
	if n > 0 {
		b.data = allocSlice[T](b.allocator(), HeapHost, n)
	}
	b.logger().Debug("cpu buffer resized", "buffer", b.ident.String(), "elements", n)
	return nil
}

// Clear releases the backing slice.
func (b *CPUBuffer[T]) Clear() {
	if b.data == nil {
		return
	}
	freeSlice(b.allocator(), HeapHost, b.data)
	b.data = nil
}

// Read copies len(dst) elements starting at offset into dst.
func (b *CPUBuffer[T]) Read(dst []T, offset, _ int) error {
	if b.debug() {
		checkRange("read", offset, len(dst), len(b.data))
	}
	copy(dst, b.data[offset:offset+len(dst)])
	return nil
}

// Write copies src into the buffer starting at offset.
func (b *CPUBuffer[T]) Write(src []T, offset, _ int) error {
	if b.debug() {
		checkRange("write", offset, len(src), len(b.data))
	}
	copy(b.data[offset:offset+len(src)], src)
	return nil
}

// CopyTo copies count elements into dst. A GPU destination is written
// through its host staging path.
func (b *CPUBuffer[T]) CopyTo(dst Buffer[T], count, srcOffset, dstOffset, queue int) error {
	if b.debug() {
		checkRange("copy source", srcOffset, count, len(b.data))
		checkRange("copy destination", dstOffset, count, dst.Size())
	}
	src := b.data[srcOffset : srcOffset+count]
	switch d := dst.(type) {
	case *CPUBuffer[T]:
		copy(d.data[dstOffset:dstOffset+count], src)
		return nil
	default:
		if dst.Backend() != BackendGPU {
			return fmt.Errorf("copy to %s buffer: %w", dst.Backend(), ErrBackendMismatch)
		}
		return dst.Write(src, dstOffset, queue)
	}
}
