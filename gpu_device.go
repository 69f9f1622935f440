//go:build !nogpu

package zinvul

import (
	"fmt"
	"sync"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
	_ "github.com/gogpu/wgpu/hal/vulkan" // register the Vulkan backend
)

// logicalQueue tracks the last submission made on behalf of one logical
// queue. All logical queues share the hal queue of the device.
type logicalQueue struct {
	kind QueueType
	last uint64
}

// GPUDevice runs kernels as compute pipelines on a hal device. Submission
// is asynchronous; use the wait methods before reading kernel results.
type GPUDevice struct {
	deviceBase

	instance hal.Instance
	adapter  hal.Adapter
	info     gputypes.AdapterInfo
	limits   gputypes.Limits
	device   hal.Device
	queue    hal.Queue
	owned    bool

	localSizes [3][3]uint32
	hostLocal  bool

	// mu guards queues and shaders.
	mu      sync.Mutex
	queues  []logicalQueue
	shaders map[shaderKey]shaderEntry
}

// shaderKey identifies a shader module specialized for one entry point and
// dispatch dimension.
type shaderKey struct {
	id    ModuleID
	entry string
	dim   int
}

type shaderEntry struct {
	module hal.ShaderModule
	words  []uint32
}

// NewGPUDevice opens the GPU adapter at ordinal as reported by Enumerate.
func NewGPUDevice(ordinal int, opts ...Option) (*GPUDevice, error) {
	o := buildOptions(opts)
	inst, adapters, err := openInstance(o)
	if err != nil {
		return nil, err
	}
	if ordinal < 0 || ordinal >= len(adapters) {
		inst.Destroy()
		return nil, fmt.Errorf("gpu ordinal %d of %d: %w", ordinal, len(adapters), ErrNoGPU)
	}
	exposed := adapters[ordinal]

	open, err := exposed.Adapter.Open(gputypes.Features(0), gputypes.DefaultLimits())
	if err != nil {
		inst.Destroy()
		return nil, fmt.Errorf("zinvul: open %s: %w", exposed.Info.Name, err)
	}

	d := newGPUDevice(open.Device, open.Queue, exposed.Info, exposed.Capabilities.Limits, o)
	d.instance = inst
	d.adapter = exposed.Adapter
	d.owned = true
	d.logger().Info("gpu device created",
		"app", o.AppName,
		"version", o.AppVersion,
		"adapter", exposed.Info.Name,
		"type", exposed.Info.DeviceType.String(),
		"hal", exposed.Info.Backend.String(),
		"queues", d.NumQueues())
	return d, nil
}

// halDeviceProvider is implemented by providers that expose hal objects,
// such as the gogpu application context.
type halDeviceProvider interface {
	HalDevice() any
	HalQueue() any
}

// NewGPUDeviceFromProvider wraps a device owned by a host application. The
// provider must expose a hal.Device and hal.Queue either directly or via
// HalDevice/HalQueue. Destroy leaves the provided device open.
func NewGPUDeviceFromProvider(p gpucontext.DeviceProvider, opts ...Option) (*GPUDevice, error) {
	if p == nil {
		panic("zinvul: NewGPUDeviceFromProvider called with nil provider")
	}
	var dev, q any = p.Device(), p.Queue()
	if hp, ok := p.(halDeviceProvider); ok {
		dev, q = hp.HalDevice(), hp.HalQueue()
	}
	halDev, ok := dev.(hal.Device)
	if !ok {
		return nil, fmt.Errorf("zinvul: provider device %T is not a hal.Device: %w", dev, ErrNoGPU)
	}
	halQueue, ok := q.(hal.Queue)
	if !ok {
		return nil, fmt.Errorf("zinvul: provider queue %T is not a hal.Queue: %w", q, ErrNoGPU)
	}

	ai := p.AdapterInfo()
	info := gputypes.AdapterInfo{Name: ai.Name, DeviceType: deviceTypeFromContext(ai.Type)}
	d := newGPUDevice(halDev, halQueue, info, gputypes.DefaultLimits(), buildOptions(opts))
	d.logger().Info("gpu device adopted", "adapter", ai.Name, "type", ai.Type.String())
	return d, nil
}

func newGPUDevice(dev hal.Device, q hal.Queue, info gputypes.AdapterInfo, limits gputypes.Limits, o Options) *GPUDevice {
	d := &GPUDevice{
		deviceBase: newDeviceBase(BackendGPU, info.Name, 2, o),
		info:       info,
		limits:     limits,
		device:     dev,
		queue:      q,
		localSizes: resolveLocalSizes(o.LocalSizes, limits),
		hostLocal:  o.PreferHostVisible || unifiedMemory(info.DeviceType),
		shaders:    make(map[shaderKey]shaderEntry),
	}
	d.queues = make([]logicalQueue, o.QueueCount+1)
	d.queues[o.QueueCount].kind = QueueTransfer
	return d
}

// resolveLocalSizes fills unset entries of override from the defaults and
// clamps every size to the adapter limits.
func resolveLocalSizes(override [3][3]uint32, limits gputypes.Limits) [3][3]uint32 {
	maxAxis := [3]uint32{limits.MaxComputeWorkgroupSizeX, limits.MaxComputeWorkgroupSizeY, limits.MaxComputeWorkgroupSizeZ}
	var out [3][3]uint32
	for d := range 3 {
		size := defaultLocalSizes[d]
		if override[d] != ([3]uint32{}) {
			size = override[d]
		}
		total := uint32(1)
		for a := range 3 {
			s := max(size[a], 1)
			if maxAxis[a] > 0 {
				s = min(s, maxAxis[a])
			}
			if limits.MaxComputeInvocationsPerWorkgroup > 0 {
				s = min(s, max(limits.MaxComputeInvocationsPerWorkgroup/total, 1))
			}
			total *= s
			out[d][a] = s
		}
	}
	return out
}

// unifiedMemory reports whether buffers the host accesses should live in
// mappable memory on this adapter type.
func unifiedMemory(t gputypes.DeviceType) bool {
	return t != gputypes.DeviceTypeDiscreteGPU
}

func deviceTypeFromContext(t gpucontext.AdapterType) gputypes.DeviceType {
	switch t {
	case gpucontext.AdapterTypeDiscrete:
		return gputypes.DeviceTypeDiscreteGPU
	case gpucontext.AdapterTypeIntegrated:
		return gputypes.DeviceTypeIntegratedGPU
	case gpucontext.AdapterTypeSoftware:
		return gputypes.DeviceTypeCPU
	default:
		return gputypes.DeviceTypeOther
	}
}

func deviceKind(t gputypes.DeviceType) string {
	switch t {
	case gputypes.DeviceTypeDiscreteGPU:
		return "discrete"
	case gputypes.DeviceTypeIntegratedGPU:
		return "integrated"
	case gputypes.DeviceTypeVirtualGPU:
		return "virtual"
	case gputypes.DeviceTypeCPU:
		return "software"
	default:
		return "other"
	}
}

// openInstance creates a hal instance for the configured backend and lists
// its adapters.
func openInstance(o Options) (hal.Instance, []hal.ExposedAdapter, error) {
	backend, ok := hal.GetBackend(o.GPUBackend)
	if !ok {
		return nil, nil, fmt.Errorf("hal backend %s not registered: %w", o.GPUBackend, ErrNoGPU)
	}
	flags := gputypes.InstanceFlagsNone
	if o.Debug {
		flags = gputypes.InstanceFlagsDebug | gputypes.InstanceFlagsValidation
	}
	inst, err := backend.CreateInstance(&hal.InstanceDescriptor{Flags: flags})
	if err != nil {
		return nil, nil, fmt.Errorf("create %s instance: %w", o.GPUBackend, err)
	}
	adapters := inst.EnumerateAdapters(nil)
	if len(adapters) == 0 {
		inst.Destroy()
		return nil, nil, ErrNoGPU
	}
	return inst, adapters, nil
}

// enumerateGPUs lists GPU adapters. Failures are logged and produce no entries.
func enumerateGPUs(o Options) []DeviceInfo {
	inst, adapters, err := openInstance(o)
	if err != nil {
		Logger().Warn("gpu enumeration failed", "hal", o.GPUBackend.String(), "err", err)
		return nil
	}
	defer inst.Destroy()

	infos := make([]DeviceInfo, 0, len(adapters))
	for i, a := range adapters {
		infos = append(infos, DeviceInfo{
			Backend: BackendGPU,
			Ordinal: i,
			Name:    a.Info.Name,
			Vendor:  a.Info.Vendor,
			Kind:    deviceKind(a.Info.DeviceType),
		})
	}
	return infos
}

// NumQueues returns the number of logical compute queues.
func (d *GPUDevice) NumQueues() int { return len(d.queues) - 1 }

// QueueFamily returns the queue family index of the device's hal queue.
// hal opens a single queue and picks its family internally without
// reporting it, so the index is always 0 and names that one queue.
func (d *GPUDevice) QueueFamily() int { return 0 }

// LocalSize returns the local work-group size used for dispatches of dim.
func (d *GPUDevice) LocalSize(dim int) [3]uint32 {
	if dim < 1 || dim > 3 {
		panic(fmt.Sprintf("zinvul: dimension %d out of range [1,3]", dim))
	}
	return d.localSizes[dim-1]
}

// AdapterName returns the adapter name reported by the driver.
func (d *GPUDevice) AdapterName() string { return d.info.Name }

// HostVisibleByDefault reports whether host-accessible buffers are
// allocated in mappable memory.
func (d *GPUDevice) HostVisibleByDefault() bool { return d.hostLocal }

// Device returns the hal device. Part of gpucontext.DeviceProvider.
func (d *GPUDevice) Device() gpucontext.Device { return d.device }

// Queue returns the hal queue. Part of gpucontext.DeviceProvider.
func (d *GPUDevice) Queue() gpucontext.Queue { return d.queue }

// Adapter returns the hal adapter, or nil for adopted devices.
func (d *GPUDevice) Adapter() gpucontext.Adapter { return d.adapter }

// SurfaceFormat returns TextureFormatUndefined; compute devices are headless.
func (d *GPUDevice) SurfaceFormat() gputypes.TextureFormat {
	return gputypes.TextureFormatUndefined
}

// AdapterInfo returns adapter metadata. Part of gpucontext.DeviceProvider.
func (d *GPUDevice) AdapterInfo() gpucontext.AdapterInfo {
	t := gpucontext.AdapterTypeUnknown
	switch d.info.DeviceType {
	case gputypes.DeviceTypeDiscreteGPU:
		t = gpucontext.AdapterTypeDiscrete
	case gputypes.DeviceTypeIntegratedGPU:
		t = gpucontext.AdapterTypeIntegrated
	case gputypes.DeviceTypeCPU:
		t = gpucontext.AdapterTypeSoftware
	}
	return gpucontext.AdapterInfo{Name: d.info.Name, Type: t}
}

// HalDevice returns the hal device.
func (d *GPUDevice) HalDevice() any { return d.device }

// HalQueue returns the hal queue.
func (d *GPUDevice) HalQueue() any { return d.queue }

func (d *GPUDevice) transferQueue() int { return len(d.queues) - 1 }

// submit sends cmd on logical queue q and records the submission index.
func (d *GPUDevice) submit(q int, cmd hal.CommandBuffer) (uint64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	idx, err := d.queue.Submit([]hal.CommandBuffer{cmd})
	if err != nil {
		return 0, fmt.Errorf("zinvul: submit to %s queue %d: %w", d.queues[q].kind, q, err)
	}
	d.queues[q].last = idx
	return idx, nil
}

// waitIndex blocks until submission idx has completed.
func (d *GPUDevice) waitIndex(idx uint64) error {
	if idx == 0 || d.queue.PollCompleted() >= idx {
		return nil
	}
	if err := d.device.WaitIdle(); err != nil {
		return fmt.Errorf("zinvul: wait idle: %w", err)
	}
	return nil
}

// Wait blocks until every queue is idle.
func (d *GPUDevice) Wait() error {
	if err := d.checkAlive(); err != nil {
		return err
	}
	if err := d.device.WaitIdle(); err != nil {
		return fmt.Errorf("zinvul: wait idle: %w", err)
	}
	return nil
}

// WaitQueueType blocks until every queue of type t has completed its
// submissions.
func (d *GPUDevice) WaitQueueType(t QueueType) error {
	if err := d.checkAlive(); err != nil {
		return err
	}
	d.mu.Lock()
	var last uint64
	for _, q := range d.queues {
		if q.kind == t {
			last = max(last, q.last)
		}
	}
	d.mu.Unlock()
	return d.waitIndex(last)
}

// WaitQueue blocks until compute queue index has completed its submissions.
func (d *GPUDevice) WaitQueue(index int) error {
	if err := d.checkAlive(); err != nil {
		return err
	}
	if index < 0 || index >= d.NumQueues() {
		return fmt.Errorf("wait queue %d of %d: %w", index, d.NumQueues(), ErrQueueIndex)
	}
	d.mu.Lock()
	last := d.queues[index].last
	d.mu.Unlock()
	return d.waitIndex(last)
}

// shaderModule returns the shader module of id whose entry point runs
// with the local size of dim, building it on first use.
func (d *GPUDevice) shaderModule(id ModuleID, entry string, dim int) (hal.ShaderModule, error) {
	key := shaderKey{id: id, entry: entry, dim: dim}
	d.mu.Lock()
	defer d.mu.Unlock()
	if e, ok := d.shaders[key]; ok {
		return e.module, nil
	}
	m, err := lookupModule(id)
	if err != nil {
		return nil, err
	}
	words, err := m.compile(d.localSizes)
	if err != nil {
		return nil, err
	}
	local := d.localSizes[dim-1]
	if declared, err := spirvLocalSize(words, entry); err == nil && declared != local {
		d.logger().Debug("overriding module local size",
			"module", id,
			"entry", entry,
			"declared", declared,
			"local_size", local)
	}
	words, err = specializeLocalSize(words, entry, local)
	if err != nil {
		return nil, fmt.Errorf("module %d (%s): %w", id, m.name, err)
	}
	sm, err := d.device.CreateShaderModule(&hal.ShaderModuleDescriptor{
		Label:  m.name,
		Source: hal.ShaderSource{SPIRV: words},
	})
	if err != nil {
		return nil, fmt.Errorf("zinvul: create shader module %d (%s): %w", id, m.name, err)
	}
	d.shaders[key] = shaderEntry{module: sm, words: words}
	d.logger().Debug("shader module built",
		"module", id,
		"name", m.name,
		"entry", entry,
		"local_size", local,
		"words", len(words))
	return sm, nil
}

// NumShaderModules returns the number of cached shader modules, one per
// module, entry point and dimension in use.
func (d *GPUDevice) NumShaderModules() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.shaders)
}

// Destroy waits for outstanding work, releases cached shader modules and
// closes the hal device if this device opened it.
func (d *GPUDevice) Destroy() {
	if !d.destroyed.CompareAndSwap(false, true) {
		return
	}
	if err := d.device.WaitIdle(); err != nil {
		d.logger().Warn("wait idle on destroy", "err", err)
	}
	d.mu.Lock()
	for key, e := range d.shaders {
		d.device.DestroyShaderModule(e.module)
		delete(d.shaders, key)
	}
	d.mu.Unlock()

	if d.owned {
		d.device.Destroy()
		if d.instance != nil {
			d.instance.Destroy()
		}
	}
	d.logger().Info("gpu device destroyed",
		"peak_device_bytes", d.PeakMemoryUsage(HeapDeviceLocal),
		"peak_host_bytes", d.PeakMemoryUsage(HeapHostVisible))
}
