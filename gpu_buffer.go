//go:build !nogpu

package zinvul

import (
	"fmt"
	"reflect"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

// copyAlign is the byte alignment of buffer copies and mapped ranges.
const copyAlign = 4

func alignDown(v uint64) uint64 { return v &^ (copyAlign - 1) }
func alignUp(v uint64) uint64   { return (v + copyAlign - 1) &^ (copyAlign - 1) }

// GPUBuffer is a Buffer backed by a hal buffer. Buffers the host accesses
// live in mappable memory when the device prefers it; otherwise Read and
// Write go through a temporary staging buffer on the transfer queue.
type GPUBuffer[T any] struct {
	resource
	dev   *GPUDevice
	kind  DescriptorKind
	usage BufferUsage

	buf         hal.Buffer
	size        int
	allocBytes  uint64
	hostVisible bool
}

func newGPUBuffer[T any](dev Device, kind DescriptorKind, usage BufferUsage) (Buffer[T], error) {
	gd, ok := dev.(*GPUDevice)
	if !ok {
		return nil, fmt.Errorf("zinvul: %T is not a GPU device: %w", dev, ErrBackendMismatch)
	}
	b := &GPUBuffer[T]{
		dev:         gd,
		kind:        kind,
		usage:       usage,
		hostVisible: usage.HostAccess() && gd.hostLocal,
	}
	b.attach(dev, "")
	return b, nil
}

// DescriptorKind returns the descriptor kind given at creation.
func (b *GPUBuffer[T]) DescriptorKind() DescriptorKind { return b.kind }

// Usage returns the host access intent.
func (b *GPUBuffer[T]) Usage() BufferUsage { return b.usage }

// Size returns the element count.
func (b *GPUBuffer[T]) Size() int { return b.size }

// HostVisible reports whether the allocation is mappable by the host.
func (b *GPUBuffer[T]) HostVisible() bool { return b.hostVisible }

func (b *GPUBuffer[T]) elemType() reflect.Type      { return typeOf[T]() }
func (b *GPUBuffer[T]) hostSlot(Representation) any { return nil }
func (b *GPUBuffer[T]) halBuffer() hal.Buffer       { return b.buf }
func (b *GPUBuffer[T]) byteSize() uint64            { return b.allocBytes }

func (b *GPUBuffer[T]) heap() int {
	if b.hostVisible {
		return HeapHostVisible
	}
	return HeapDeviceLocal
}

func (b *GPUBuffer[T]) halUsage() gputypes.BufferUsage {
	u := gputypes.BufferUsageStorage | gputypes.BufferUsageCopySrc | gputypes.BufferUsageCopyDst
	if b.kind == DescriptorUniform {
		u |= gputypes.BufferUsageUniform
	}
	if b.hostVisible {
		if b.usage&UsageHostRead != 0 {
			u |= gputypes.BufferUsageMapRead
		}
		if b.usage&UsageHostWrite != 0 {
			u |= gputypes.BufferUsageMapWrite
		}
	}
	return u
}

// SetSize destroys the current allocation and creates one of n elements.
func (b *GPUBuffer[T]) SetSize(n int) error {
	checkResize(n)
	if err := b.dev.checkAlive(); err != nil {
		return err
	}
	b.Clear()
	if n == 0 {
		return nil
	}

	bytes := alignUp(uint64(n) * uint64(sizeOf[T]()))
	buf, err := b.dev.device.CreateBuffer(&hal.BufferDescriptor{
		Label: b.ident.String(),
		Size:  bytes,
		Usage: b.halUsage(),
	})
	if err != nil {
		return fmt.Errorf("zinvul: allocate %d bytes for buffer %s: %w", bytes, b.ident.String(), err)
	}
	b.buf = buf
	b.size = n
	b.allocBytes = bytes
	b.allocator().allocate(b.heap(), bytes)
	b.ident.SetHandle(0, buf.NativeHandle())
	b.logger().Debug("gpu buffer allocated",
		"buffer", b.ident.String(),
		"elements", n,
		"bytes", bytes,
		"host_visible", b.hostVisible)
	return nil
}

// Clear destroys the allocation.
func (b *GPUBuffer[T]) Clear() {
	if b.buf == nil {
		return
	}
	if b.dev.checkAlive() == nil {
		b.dev.device.DestroyBuffer(b.buf)
	}
	b.allocator().release(b.heap(), b.allocBytes)
	b.buf = nil
	b.size = 0
	b.allocBytes = 0
	b.ident.SetHandle(0, 0)
}

// Read copies len(dst) elements starting at offset into dst. Device-local
// buffers are read through a staging buffer and block until the transfer
// completes.
func (b *GPUBuffer[T]) Read(dst []T, offset, _ int) error {
	if b.debug() {
		checkRange("read", offset, len(dst), b.size)
	}
	if len(dst) == 0 {
		return nil
	}
	if err := b.dev.checkAlive(); err != nil {
		return err
	}
	return b.readBytes(uint64(offset)*uint64(sizeOf[T]()), asBytes(dst))
}

// Write copies src into the buffer starting at offset.
func (b *GPUBuffer[T]) Write(src []T, offset, _ int) error {
	if b.debug() {
		checkRange("write", offset, len(src), b.size)
	}
	if len(src) == 0 {
		return nil
	}
	if err := b.dev.checkAlive(); err != nil {
		return err
	}

	data := asBytes(src)
	start := uint64(offset) * uint64(sizeOf[T]())
	lo, hi := alignDown(start), alignUp(start+uint64(len(data)))
	if lo == start && hi == start+uint64(len(data)) {
		return b.writeAligned(lo, data)
	}

	// Preserve the bytes that share a word with the edges of the range.
	span := make([]byte, hi-lo)
	if err := b.readBytes(lo, span); err != nil {
		return err
	}
	copy(span[start-lo:], data)
	return b.writeAligned(lo, span)
}

// CopyTo copies count elements into dst. GPU destinations on the same
// device are copied on the transfer queue; CPU destinations are read into
// directly.
func (b *GPUBuffer[T]) CopyTo(dst Buffer[T], count, srcOffset, dstOffset, queue int) error {
	if b.debug() {
		checkRange("copy source", srcOffset, count, b.size)
		checkRange("copy destination", dstOffset, count, dst.Size())
	}
	if count == 0 {
		return nil
	}

	switch d := dst.(type) {
	case *CPUBuffer[T]:
		return b.Read(d.Data()[dstOffset:dstOffset+count], srcOffset, queue)
	case *GPUBuffer[T]:
		if d.dev != b.dev {
			return fmt.Errorf("copy between devices: %w", ErrBackendMismatch)
		}
		esz := uint64(sizeOf[T]())
		src, dstOff, n := uint64(srcOffset)*esz, uint64(dstOffset)*esz, uint64(count)*esz
		if src%copyAlign == 0 && dstOff%copyAlign == 0 && n%copyAlign == 0 {
			return b.dev.copyAndWait("zinvul_copy", b.buf, d.buf, src, dstOff, n)
		}
		tmp := make([]T, count)
		if err := b.Read(tmp, srcOffset, queue); err != nil {
			return err
		}
		return d.Write(tmp, dstOffset, queue)
	default:
		return fmt.Errorf("copy to %T: %w", dst, ErrBackendMismatch)
	}
}

// readBytes fills out from the buffer starting at byte offset start.
func (b *GPUBuffer[T]) readBytes(start uint64, out []byte) error {
	lo, hi := alignDown(start), alignUp(start+uint64(len(out)))
	if b.hostVisible && b.usage&UsageHostRead != 0 {
		return b.dev.mapCopy(b.buf, lo, hi-lo, func(m []byte) { copy(out, m[start-lo:]) })
	}

	staging, err := b.dev.stagingBuffer(hi-lo, false)
	if err != nil {
		return err
	}
	defer b.dev.releaseStaging(staging, hi-lo)

	if err := b.dev.copyAndWait("zinvul_read", b.buf, staging, lo, 0, hi-lo); err != nil {
		return err
	}
	return b.dev.mapCopy(staging, 0, hi-lo, func(m []byte) { copy(out, m[start-lo:]) })
}

// writeAligned stores data at the word-aligned byte offset lo.
func (b *GPUBuffer[T]) writeAligned(lo uint64, data []byte) error {
	n := uint64(len(data))
	if b.hostVisible && b.usage&UsageHostWrite != 0 {
		return b.dev.mapCopy(b.buf, lo, n, func(m []byte) { copy(m, data) })
	}

	staging, err := b.dev.stagingBuffer(n, true)
	if err != nil {
		return err
	}
	defer b.dev.releaseStaging(staging, n)

	if err := b.dev.mapCopy(staging, 0, n, func(m []byte) { copy(m, data) }); err != nil {
		return err
	}
	return b.dev.copyAndWait("zinvul_write", staging, b.buf, 0, lo, n)
}

// stagingBuffer creates a host-visible transfer buffer of size bytes.
func (d *GPUDevice) stagingBuffer(size uint64, upload bool) (hal.Buffer, error) {
	usage := gputypes.BufferUsageMapRead | gputypes.BufferUsageCopyDst
	label := "zinvul_staging_read"
	if upload {
		usage = gputypes.BufferUsageMapWrite | gputypes.BufferUsageCopySrc
		label = "zinvul_staging_write"
	}
	buf, err := d.device.CreateBuffer(&hal.BufferDescriptor{Label: label, Size: size, Usage: usage})
	if err != nil {
		return nil, fmt.Errorf("zinvul: create staging buffer: %w", err)
	}
	d.alloc.allocate(HeapHostVisible, size)
	return buf, nil
}

func (d *GPUDevice) releaseStaging(buf hal.Buffer, size uint64) {
	d.device.DestroyBuffer(buf)
	d.alloc.release(HeapHostVisible, size)
}

// mapCopy maps [offset, offset+size) of buf and hands the bytes to fn.
func (d *GPUDevice) mapCopy(buf hal.Buffer, offset, size uint64, fn func([]byte)) error {
	m, err := d.device.MapBuffer(buf, offset, size)
	if err != nil {
		return fmt.Errorf("zinvul: map buffer: %w", err)
	}
	fn(bytesAt(m.Ptr, size))
	if err := d.device.UnmapBuffer(buf); err != nil {
		return fmt.Errorf("zinvul: unmap buffer: %w", err)
	}
	return nil
}

// copyAndWait records a one-shot buffer copy, submits it on the transfer
// queue and blocks until it completes.
func (d *GPUDevice) copyAndWait(label string, src, dst hal.Buffer, srcOffset, dstOffset, size uint64) error {
	enc, err := d.device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: label})
	if err != nil {
		return fmt.Errorf("zinvul: create command encoder: %w", err)
	}
	defer enc.Destroy()

	if err := enc.BeginEncoding(label); err != nil {
		return fmt.Errorf("zinvul: begin encoding: %w", err)
	}
	enc.CopyBufferToBuffer(src, dst, []hal.BufferCopy{
		{SrcOffset: srcOffset, DstOffset: dstOffset, Size: size},
	})
	cmd, err := enc.EndEncoding()
	if err != nil {
		return fmt.Errorf("zinvul: end encoding: %w", err)
	}
	defer d.device.FreeCommandBuffer(cmd)

	idx, err := d.submit(d.transferQueue(), cmd)
	if err != nil {
		return err
	}
	return d.waitIndex(idx)
}
