//go:build !nogpu

package zinvul

import (
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

// gpuKernelState tracks how far pipeline construction has progressed.
// Teardown walks the states in reverse.
type gpuKernelState uint8

const (
	stateUninitialized gpuKernelState = iota
	stateLayoutBuilt
	statePoolBuilt
	stateSetAllocated
	statePipelineLayoutBuilt
	statePipelineBuilt
	stateCommandBufferAllocated
	stateReady
)

var gpuKernelStateNames = [...]string{
	"uninitialized",
	"layout-built",
	"pool-built",
	"set-allocated",
	"pipeline-layout-built",
	"pipeline-built",
	"command-buffer-allocated",
	"ready",
}

func (s gpuKernelState) String() string {
	if int(s) < len(gpuKernelStateNames) {
		return gpuKernelStateNames[s]
	}
	return fmt.Sprintf("gpuKernelState(%d)", uint8(s))
}

// gpuArgument is implemented by GPU buffers of every element type.
type gpuArgument interface {
	Argument
	halBuffer() hal.Buffer
	byteSize() uint64
}

// gpuKernel dispatches a compute pipeline. It retains one bind group and
// one command buffer; dispatching again before the previous dispatch has
// completed must be prevented by the caller.
type gpuKernel struct {
	resource
	dev   *GPUDevice
	def   KernelDef
	class Classification
	state gpuKernelState

	bindLayout     hal.BindGroupLayout
	entries        []gputypes.BindGroupEntry
	bindGroup      hal.BindGroup
	pipelineLayout hal.PipelineLayout
	pipeline       hal.ComputePipeline
	encoder        hal.CommandEncoder
	cmd            hal.CommandBuffer

	lastSubmission uint64
	lastGroups     [3]uint32
}

func newGPUKernel(dev Device, def KernelDef, class Classification) (Kernel, error) {
	k := &gpuKernel{dev: dev.(*GPUDevice)}
	k.attach(dev, def.Name)
	if err := k.build(def, class); err != nil {
		return nil, err
	}
	return k, nil
}

func (k *gpuKernel) Dimension() int                 { return k.def.Dimension }
func (k *gpuKernel) NumOfArgs() int                 { return k.class.NumParams() }
func (k *gpuKernel) Classification() Classification { return k.class }

func (k *gpuKernel) MakeOptions() LaunchOptions {
	return LaunchOptions{WorkSize: [3]uint32{1, 1, 1}}
}

// build walks the state machine from Uninitialized to Ready. On failure the
// partially built resources are released.
func (k *gpuKernel) build(def KernelDef, class Classification) error {
	k.def = def
	k.class = class
	k.ident.SetName(def.Name)

	if err := k.buildStages(); err != nil {
		k.teardown()
		return fmt.Errorf("kernel %s: %s: %w", k.ident.String(), k.state, err)
	}
	k.logger().Debug("gpu kernel ready",
		"kernel", k.ident.String(),
		"module", def.Module,
		"entry", def.EntryPoint,
		"bindings", k.class.NumGlobal)
	return nil
}

func (k *gpuKernel) buildStages() error {
	device := k.dev.device
	label := k.ident.String()

	layoutEntries := make([]gputypes.BindGroupLayoutEntry, 0, k.class.NumGlobal)
	for _, idx := range k.class.GlobalIndices {
		layoutEntries = append(layoutEntries, gputypes.BindGroupLayoutEntry{
			Binding:    uint32(idx),
			Visibility: gputypes.ShaderStageCompute,
			Buffer:     &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeStorage},
		})
	}
	layout, err := device.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
		Label:   label + "_layout",
		Entries: layoutEntries,
	})
	if err != nil {
		return fmt.Errorf("create bind group layout: %w", err)
	}
	k.bindLayout = layout
	k.state = stateLayoutBuilt

	k.entries = make([]gputypes.BindGroupEntry, 0, k.class.NumGlobal)
	k.state = statePoolBuilt

	// The bind group itself is created by Run once buffers are known.
	k.bindGroup = nil
	k.state = stateSetAllocated

	pl, err := device.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
		Label:            label + "_pipeline_layout",
		BindGroupLayouts: []hal.BindGroupLayout{layout},
	})
	if err != nil {
		return fmt.Errorf("create pipeline layout: %w", err)
	}
	k.pipelineLayout = pl
	k.state = statePipelineLayoutBuilt

	shader, err := k.dev.shaderModule(k.def.Module, k.def.EntryPoint, k.def.Dimension)
	if err != nil {
		return err
	}
	pipeline, err := device.CreateComputePipeline(&hal.ComputePipelineDescriptor{
		Label:  label + "_pipeline",
		Layout: pl,
		Compute: hal.ComputeState{
			Module:     shader,
			EntryPoint: k.def.EntryPoint,
		},
	})
	if err != nil {
		return fmt.Errorf("create compute pipeline: %w", err)
	}
	k.pipeline = pipeline
	k.state = statePipelineBuilt

	enc, err := device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: label + "_encoder"})
	if err != nil {
		return fmt.Errorf("create command encoder: %w", err)
	}
	k.encoder = enc
	k.state = stateCommandBufferAllocated

	k.state = stateReady
	return nil
}

// teardown releases every resource built so far, newest first, after the
// last dispatch has completed.
func (k *gpuKernel) teardown() {
	if k.dev.checkAlive() != nil {
		k.state = stateUninitialized
		return
	}
	if k.lastSubmission != 0 {
		if err := k.dev.waitIndex(k.lastSubmission); err != nil {
			k.logger().Warn("wait before kernel teardown", "kernel", k.ident.String(), "err", err)
		}
	}
	device := k.dev.device
	if k.encoder != nil {
		if k.cmd != nil {
			k.encoder.ResetAll([]hal.CommandBuffer{k.cmd})
			k.cmd = nil
		}
		k.encoder.Destroy()
		k.encoder = nil
	}
	if k.pipeline != nil {
		device.DestroyComputePipeline(k.pipeline)
		k.pipeline = nil
	}
	if k.pipelineLayout != nil {
		device.DestroyPipelineLayout(k.pipelineLayout)
		k.pipelineLayout = nil
	}
	if k.bindGroup != nil {
		device.DestroyBindGroup(k.bindGroup)
		k.bindGroup = nil
	}
	k.entries = nil
	if k.bindLayout != nil {
		device.DestroyBindGroupLayout(k.bindLayout)
		k.bindLayout = nil
	}
	k.lastSubmission = 0
	k.state = stateUninitialized
}

// Reinit tears the pipeline down and rebuilds it from def.
func (k *gpuKernel) Reinit(def KernelDef) error {
	class, err := validateDef(def, BackendGPU)
	if err != nil {
		return err
	}
	k.teardown()
	return k.build(def, class)
}

// Destroy releases the pipeline resources.
func (k *gpuKernel) Destroy() {
	if k.state == stateUninitialized {
		return
	}
	k.teardown()
	k.logger().Debug("gpu kernel destroyed", "kernel", k.ident.String())
}

// Run binds args, records the dispatch and submits it to the compute queue
// selected by opts.QueueIndex. It returns without waiting for completion.
func (k *gpuKernel) Run(opts LaunchOptions, args ...Argument) error {
	if err := k.dev.checkAlive(); err != nil {
		return err
	}
	if k.state != stateReady {
		return fmt.Errorf("kernel %s is %s", k.ident.String(), k.state)
	}
	if err := checkArgs(k.class, BackendGPU, k.debug(), args); err != nil {
		return fmt.Errorf("kernel %s: %w", k.ident.String(), err)
	}
	if opts.QueueIndex < 0 || opts.QueueIndex >= k.dev.NumQueues() {
		return fmt.Errorf("kernel %s: queue %d: %w", k.ident.String(), opts.QueueIndex, ErrQueueIndex)
	}

	grid := opts.grid(k.def.Dimension)
	if grid[0] == 0 || grid[1] == 0 || grid[2] == 0 {
		return nil
	}
	groups := dispatchGroups(grid, k.dev.LocalSize(k.def.Dimension))

	if err := k.bind(args); err != nil {
		return fmt.Errorf("kernel %s: %w", k.ident.String(), err)
	}
	cmd, err := k.record(groups)
	if err != nil {
		return fmt.Errorf("kernel %s: %w", k.ident.String(), err)
	}
	idx, err := k.dev.submit(opts.QueueIndex, cmd)
	if err != nil {
		return fmt.Errorf("kernel %s: %w", k.ident.String(), err)
	}
	k.lastSubmission = idx
	k.lastGroups = groups
	return nil
}

// bind replaces the retained bind group with one referencing args.
func (k *gpuKernel) bind(args []Argument) error {
	k.entries = k.entries[:0]
	for i, arg := range args {
		ga, ok := arg.(gpuArgument)
		if !ok || ga.device() != Device(k.dev) {
			return fmt.Errorf("argument %d: %w", i, ErrBackendMismatch)
		}
		buf := ga.halBuffer()
		if buf == nil {
			panic(fmt.Sprintf("zinvul: argument %d (%s) has no allocation", i, arg.Identity()))
		}
		k.entries = append(k.entries, gputypes.BindGroupEntry{
			Binding: uint32(k.class.GlobalIndices[i]),
			Resource: gputypes.BufferBinding{
				Buffer: buf.NativeHandle(),
				Offset: 0,
				Size:   ga.byteSize(),
			},
		})
	}

	if k.bindGroup != nil {
		k.dev.device.DestroyBindGroup(k.bindGroup)
		k.bindGroup = nil
	}
	bg, err := k.dev.device.CreateBindGroup(&hal.BindGroupDescriptor{
		Label:   k.ident.String() + "_bind_group",
		Layout:  k.bindLayout,
		Entries: k.entries,
	})
	if err != nil {
		return fmt.Errorf("create bind group: %w", err)
	}
	k.bindGroup = bg
	return nil
}

// record re-records the retained command buffer with one dispatch.
func (k *gpuKernel) record(groups [3]uint32) (hal.CommandBuffer, error) {
	if k.cmd != nil {
		k.encoder.ResetAll([]hal.CommandBuffer{k.cmd})
		k.cmd = nil
	}
	label := k.ident.String()
	if err := k.encoder.BeginEncoding(label); err != nil {
		return nil, fmt.Errorf("begin encoding: %w", err)
	}
	pass := k.encoder.BeginComputePass(&hal.ComputePassDescriptor{Label: label})
	pass.SetPipeline(k.pipeline)
	pass.SetBindGroup(0, k.bindGroup, nil)
	pass.Dispatch(groups[0], groups[1], groups[2])
	pass.End()

	cmd, err := k.encoder.EndEncoding()
	if err != nil {
		return nil, fmt.Errorf("end encoding: %w", err)
	}
	k.cmd = cmd
	return cmd, nil
}
