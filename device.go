package zinvul

import (
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/google/uuid"
)

// QueueType groups the logical queues of a device.
type QueueType uint8

const (
	// QueueCompute queues run kernel dispatches.
	QueueCompute QueueType = iota

	// QueueTransfer queues run buffer reads, writes and copies.
	QueueTransfer
)

// String returns the queue type name.
func (t QueueType) String() string {
	switch t {
	case QueueCompute:
		return "compute"
	case QueueTransfer:
		return "transfer"
	default:
		return "unknown"
	}
}

// Device is an execution context for buffers and kernels. The concrete
// type is either *CPUDevice or *GPUDevice.
//
// Every buffer and kernel created from a device must be destroyed before
// the device itself.
type Device interface {
	// Identity returns the device identity. Child ids are issued by the device.
	Identity() *Identity

	// Backend returns the backend tag.
	Backend() Backend

	// Allocator returns the memory accounting shared by all device resources.
	Allocator() *Allocator

	// NumQueues returns the number of logical compute queues.
	NumQueues() int

	// PeakMemoryUsage returns the highest byte count allocated from heap.
	PeakMemoryUsage(heap int) uint64

	// TotalMemoryUsage returns the bytes currently allocated from heap.
	TotalMemoryUsage(heap int) uint64

	// Debug reports whether debug checks are enabled.
	Debug() bool

	// Options returns the options the device was created with.
	Options() Options

	// Wait blocks until all submitted work on every queue has completed.
	Wait() error

	// WaitQueueType blocks until all work on queues of type t has completed.
	WaitQueueType(t QueueType) error

	// WaitQueue blocks until all work on compute queue index has completed.
	WaitQueue(index int) error

	// Destroy releases the device. It is safe to call more than once.
	Destroy()

	base() *deviceBase
}

// deviceBase holds the state shared by both device variants.
type deviceBase struct {
	ident     Identity
	backend   Backend
	ids       atomic.Uint64
	alloc     *Allocator
	opts      Options
	tag       uuid.UUID
	destroyed atomic.Bool
}

func newDeviceBase(backend Backend, name string, numHeaps int, opts Options) deviceBase {
	return deviceBase{
		ident:   newIdentity(0, name),
		backend: backend,
		alloc:   newAllocator(numHeaps),
		opts:    opts,
		tag:     uuid.New(),
	}
}

func (b *deviceBase) base() *deviceBase { return b }

// issueID returns the next child id.
func (b *deviceBase) issueID() uint64 {
	return b.ids.Add(1)
}

// Identity returns the device identity.
func (b *deviceBase) Identity() *Identity { return &b.ident }

// Backend returns the backend tag.
func (b *deviceBase) Backend() Backend { return b.backend }

// Allocator returns the device memory accounting.
func (b *deviceBase) Allocator() *Allocator { return b.alloc }

// PeakMemoryUsage returns the highest byte count allocated from heap.
func (b *deviceBase) PeakMemoryUsage(heap int) uint64 { return b.alloc.Peak(heap) }

// TotalMemoryUsage returns the bytes currently allocated from heap.
func (b *deviceBase) TotalMemoryUsage(heap int) uint64 { return b.alloc.Total(heap) }

// Debug reports whether debug checks are enabled.
func (b *deviceBase) Debug() bool { return b.opts.Debug }

// Options returns the creation options.
func (b *deviceBase) Options() Options { return b.opts }

// UUID returns the instance tag attached to this device's log records.
func (b *deviceBase) UUID() uuid.UUID { return b.tag }

func (b *deviceBase) logger() *slog.Logger {
	return Logger().With("backend", b.backend.String(), "device", b.tag.String())
}

// checkAlive returns ErrDeviceDestroyed after Destroy.
func (b *deviceBase) checkAlive() error {
	if b.destroyed.Load() {
		return ErrDeviceDestroyed
	}
	return nil
}

// DeviceInfo describes one enumerated device.
type DeviceInfo struct {
	Backend Backend
	Ordinal int
	Name    string
	Vendor  string
	Kind    string
}

// String formats the info as "backend:ordinal name".
func (i DeviceInfo) String() string {
	return fmt.Sprintf("%s:%d %s", i.Backend, i.Ordinal, i.Name)
}

// Enumerate lists the available devices. The CPU device is always first at
// ordinal 0, followed by every GPU adapter the configured hal backend
// reports. GPU failures are logged and yield no GPU entries.
func Enumerate(opts ...Option) []DeviceInfo {
	o := buildOptions(opts)
	infos := []DeviceInfo{cpuDeviceInfo()}
	return append(infos, enumerateGPUs(o)...)
}

// NewDevice creates the device described by info.
func NewDevice(info DeviceInfo, opts ...Option) (Device, error) {
	switch info.Backend {
	case BackendCPU:
		d, err := NewCPUDevice(opts...)
		if err != nil {
			return nil, err
		}
		return d, nil
	case BackendGPU:
		d, err := NewGPUDevice(info.Ordinal, opts...)
		if err != nil {
			return nil, err
		}
		return d, nil
	default:
		return nil, fmt.Errorf("zinvul: unknown backend %d", info.Backend)
	}
}
