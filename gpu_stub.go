//go:build nogpu

package zinvul

import "github.com/gogpu/gpucontext"

// GPUDevice is unavailable in builds with the nogpu tag.
type GPUDevice struct {
	deviceBase
}

// NewGPUDevice always fails with ErrNoGPU.
func NewGPUDevice(int, ...Option) (*GPUDevice, error) {
	return nil, ErrNoGPU
}

// NewGPUDeviceFromProvider always fails with ErrNoGPU.
func NewGPUDeviceFromProvider(gpucontext.DeviceProvider, ...Option) (*GPUDevice, error) {
	return nil, ErrNoGPU
}

func (d *GPUDevice) NumQueues() int                { return 0 }
func (d *GPUDevice) Wait() error                   { return ErrNoGPU }
func (d *GPUDevice) WaitQueueType(QueueType) error { return ErrNoGPU }
func (d *GPUDevice) WaitQueue(int) error           { return ErrNoGPU }
func (d *GPUDevice) Destroy()                      {}

// LocalSize returns zeros; no GPU dispatch is possible.
func (d *GPUDevice) LocalSize(int) [3]uint32 { return [3]uint32{} }

func enumerateGPUs(Options) []DeviceInfo { return nil }

func newGPUBuffer[T any](Device, DescriptorKind, BufferUsage) (Buffer[T], error) {
	return nil, ErrNoGPU
}

func newGPUKernel(Device, KernelDef, Classification) (Kernel, error) {
	return nil, ErrNoGPU
}
