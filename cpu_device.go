package zinvul

import (
	"runtime"
	"strings"

	"github.com/klauspost/cpuid/v2"
	"golang.org/x/sys/cpu"

	"github.com/byzin/Zinvul-sub001/internal/parallel"
)

// CPUDevice runs kernels on a worker pool. Dispatch is synchronous, so all
// wait operations return immediately.
type CPUDevice struct {
	deviceBase

	pool      *parallel.WorkerPool
	batchSize int
	vendor    string
	model     string
	features  []string
}

// NewCPUDevice creates a CPU device with a worker pool sized by
// Options.Threads.
func NewCPUDevice(opts ...Option) (*CPUDevice, error) {
	o := buildOptions(opts)
	info := cpuDeviceInfo()

	d := &CPUDevice{
		deviceBase: newDeviceBase(BackendCPU, info.Name, 1, o),
		pool:       parallel.NewWorkerPool(o.Threads),
		batchSize:  max(1, o.TaskBatchSize),
		vendor:     info.Vendor,
		model:      strings.TrimSpace(cpuid.CPU.BrandName),
		features:   simdFeatures(),
	}
	d.logger().Info("cpu device created",
		"app", o.AppName,
		"version", o.AppVersion,
		"model", d.model,
		"threads", d.pool.Workers(),
		"batch", d.batchSize,
		"simd", strings.Join(d.features, ","))
	return d, nil
}

// NumQueues returns 1; the CPU backend has a single implicit queue.
func (d *CPUDevice) NumQueues() int { return 1 }

// Threads returns the worker count.
func (d *CPUDevice) Threads() int { return d.pool.Workers() }

// TaskBatchSize returns the number of work-groups claimed per fetch.
func (d *CPUDevice) TaskBatchSize() int { return d.batchSize }

// Vendor returns the CPU vendor string, or "" if it could not be probed.
func (d *CPUDevice) Vendor() string { return d.vendor }

// Model returns the CPU brand string, or "" if it could not be probed.
func (d *CPUDevice) Model() string { return d.model }

// Features returns the detected SIMD extensions.
func (d *CPUDevice) Features() []string { return d.features }

// Wait returns immediately.
func (d *CPUDevice) Wait() error { return d.checkAlive() }

// WaitQueueType returns immediately.
func (d *CPUDevice) WaitQueueType(QueueType) error { return d.checkAlive() }

// WaitQueue returns immediately.
func (d *CPUDevice) WaitQueue(int) error { return d.checkAlive() }

// Destroy stops the worker pool after its queued work has run.
func (d *CPUDevice) Destroy() {
	if !d.destroyed.CompareAndSwap(false, true) {
		return
	}
	if n := d.pool.QueuedWork(); n > 0 {
		d.logger().Debug("draining cpu work queues", "items", n)
	}
	d.pool.Close()
	d.logger().Info("cpu device destroyed", "peak_bytes", d.PeakMemoryUsage(HeapHost))
}

func cpuDeviceInfo() DeviceInfo {
	name := strings.TrimSpace(cpuid.CPU.BrandName)
	if name == "" {
		name = "CPU (" + runtime.GOARCH + ")"
	}
	return DeviceInfo{
		Backend: BackendCPU,
		Ordinal: 0,
		Name:    name,
		Vendor:  cpuid.CPU.VendorString,
		Kind:    "cpu",
	}
}

func simdFeatures() []string {
	var f []string
	add := func(ok bool, name string) {
		if ok {
			f = append(f, name)
		}
	}
	add(cpu.X86.HasSSE41, "sse4.1")
	add(cpu.X86.HasAVX, "avx")
	add(cpu.X86.HasAVX2, "avx2")
	add(cpu.X86.HasFMA, "fma")
	add(cpu.X86.HasAVX512F, "avx512f")
	add(cpu.ARM64.HasASIMD, "asimd")
	add(cpu.ARM64.HasATOMICS, "lse")
	add(cpu.ARM64.HasSVE, "sve")
	return f
}
