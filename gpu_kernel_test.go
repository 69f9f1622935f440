//go:build !nogpu

package zinvul

import (
	"errors"
	"fmt"
	"testing"
)

const (
	testFakeModule ModuleID = 100 + iota
	testCopyModule
	testBrokenModule
)

func registerTestModules(t *testing.T) {
	t.Helper()
	RegisterModule(testFakeModule, "fake", func() []uint32 {
		return computeSPIRV("main", [3]uint32{1, 1, 1})
	})
	RegisterWGSL(testCopyModule, "copy", copyWGSL)
	RegisterModule(testBrokenModule, "broken", func() []uint32 { return []uint32{0xdeadbeef} })
	t.Cleanup(func() {
		UnregisterModule(testFakeModule)
		UnregisterModule(testCopyModule)
		UnregisterModule(testBrokenModule)
	})
}

func copyKernelDef(module ModuleID) KernelDef {
	return KernelDef{
		Name:       "copy",
		Dimension:  1,
		Params:     []Param{ConstGlobalParam[uint32](), GlobalParam[uint32]()},
		Module:     module,
		EntryPoint: "main",
	}
}

func newTestGPUKernel(t *testing.T, dev *GPUDevice, def KernelDef) *gpuKernel {
	t.Helper()
	k, err := NewKernel(dev, def)
	if err != nil {
		t.Fatalf("NewKernel: %v", err)
	}
	t.Cleanup(k.Destroy)
	return k.(*gpuKernel)
}

func TestGPUKernel_BuildsToReady(t *testing.T) {
	registerTestModules(t)
	dev := newTestGPUDevice(t)
	k := newTestGPUKernel(t, dev, copyKernelDef(testFakeModule))

	if k.state != stateReady {
		t.Fatalf("state = %v, want %v", k.state, stateReady)
	}
	if k.bindLayout == nil || k.pipelineLayout == nil || k.pipeline == nil || k.encoder == nil {
		t.Error("ready kernel is missing pipeline resources")
	}
	if k.NumOfArgs() != 2 || k.Dimension() != 1 {
		t.Errorf("NumOfArgs/Dimension = %d/%d, want 2/1", k.NumOfArgs(), k.Dimension())
	}
	if k.Backend() != BackendGPU {
		t.Errorf("Backend() = %v, want gpu", k.Backend())
	}
}

func TestGPUKernel_WGSLModule(t *testing.T) {
	registerTestModules(t)
	dev := newTestGPUDevice(t, WithLocalSize(1, [3]uint32{32, 1, 1}))

	newTestGPUKernel(t, dev, copyKernelDef(testCopyModule))
	newTestGPUKernel(t, dev, copyKernelDef(testCopyModule))
	newTestGPUKernel(t, dev, copyKernelDef(testFakeModule))

	if got := dev.NumShaderModules(); got != 2 {
		t.Errorf("NumShaderModules() = %d, want 2", got)
	}
}

func TestGPUKernel_Run(t *testing.T) {
	registerTestModules(t)
	dev := newTestGPUDevice(t, WithQueueCount(2))
	k := newTestGPUKernel(t, dev, copyKernelDef(testFakeModule))

	src := newTestGPUBuffer[uint32](t, dev, DescriptorStorage, UsageHostWrite, 100)
	dst := newTestGPUBuffer[uint32](t, dev, DescriptorStorage, UsageHostRead, 100)

	opts := k.MakeOptions()
	opts.WorkSize[0] = 100
	opts.QueueIndex = 1
	if err := k.Run(opts, src, dst); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got, want := k.lastGroups, [3]uint32{2, 1, 1}; got != want {
		t.Errorf("dispatched groups = %v, want %v", got, want)
	}
	if k.lastSubmission == 0 {
		t.Error("Run did not record a submission")
	}
	if len(k.entries) != 2 || k.entries[1].Binding != 1 {
		t.Errorf("bind group entries = %+v, want bindings 0 and 1", k.entries)
	}
	if err := dev.WaitQueue(1); err != nil {
		t.Errorf("WaitQueue(1): %v", err)
	}

	// A second dispatch re-records the retained command buffer.
	if err := k.Run(opts, src, dst); err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if err := dev.Wait(); err != nil {
		t.Errorf("Wait: %v", err)
	}
}

func TestGPUKernel_RunErrors(t *testing.T) {
	registerTestModules(t)
	dev := newTestGPUDevice(t)
	k := newTestGPUKernel(t, dev, copyKernelDef(testFakeModule))
	src := newTestGPUBuffer[uint32](t, dev, DescriptorStorage, UsageHostWrite, 4)
	dst := newTestGPUBuffer[uint32](t, dev, DescriptorStorage, UsageHostRead, 4)

	opts := k.MakeOptions()
	opts.QueueIndex = 1
	if err := k.Run(opts, src, dst); !errors.Is(err, ErrQueueIndex) {
		t.Errorf("Run on queue 1 of 1 = %v, want ErrQueueIndex", err)
	}

	cpu := newTestCPUDevice(t)
	host := newTestCPUBuffer[uint32](t, cpu, 4)
	if err := k.Run(k.MakeOptions(), host, dst); !errors.Is(err, ErrBackendMismatch) {
		t.Errorf("Run with a cpu buffer = %v, want ErrBackendMismatch", err)
	}
	if err := k.Run(k.MakeOptions(), src); !errors.Is(err, ErrArgumentCount) {
		t.Errorf("Run with one argument = %v, want ErrArgumentCount", err)
	}

	other := newTestGPUDevice(t)
	foreign := newTestGPUBuffer[uint32](t, other, DescriptorStorage, UsageHostRead, 4)
	if err := k.Run(k.MakeOptions(), src, foreign); !errors.Is(err, ErrBackendMismatch) {
		t.Errorf("Run with a buffer of another device = %v, want ErrBackendMismatch", err)
	}
}

func TestCPUKernel_RejectsGPUBuffer(t *testing.T) {
	cpu := newTestCPUDevice(t)
	gpu := newTestGPUDevice(t)

	k, err := NewKernel(cpu, KernelDef{
		Dimension: 1,
		Params:    []Param{GlobalParam[float32]()},
		Entry:     func(*WorkGroup, *Args) {},
	})
	if err != nil {
		t.Fatalf("NewKernel: %v", err)
	}
	g := newTestGPUBuffer[float32](t, gpu, DescriptorStorage, UsageHostReadWrite, 4)
	if err := k.Run(k.MakeOptions(), g); !errors.Is(err, ErrBackendMismatch) {
		t.Errorf("Run with a gpu buffer = %v, want ErrBackendMismatch", err)
	}
}

func TestGPUKernel_BuildFailures(t *testing.T) {
	registerTestModules(t)
	dev := newTestGPUDevice(t)

	if _, err := NewKernel(dev, copyKernelDef(ModuleID(4242))); !errors.Is(err, ErrUnknownModule) {
		t.Errorf("NewKernel with unknown module = %v, want ErrUnknownModule", err)
	}
	if _, err := NewKernel(dev, copyKernelDef(testBrokenModule)); err == nil {
		t.Error("NewKernel with non-SPIR-V bytecode succeeded")
	}
	def := copyKernelDef(testFakeModule)
	def.EntryPoint = ""
	if _, err := NewKernel(dev, def); !errors.Is(err, ErrMissingEntry) {
		t.Errorf("NewKernel without entry point = %v, want ErrMissingEntry", err)
	}
	def.EntryPoint = "nosuch"
	if _, err := NewKernel(dev, def); !errors.Is(err, ErrMissingEntry) {
		t.Errorf("NewKernel with an entry point the module lacks = %v, want ErrMissingEntry", err)
	}
	if got := dev.NumShaderModules(); got != 0 {
		t.Errorf("NumShaderModules() = %d after failed builds, want 0", got)
	}
}

func TestGPUKernel_ReinitAndDestroy(t *testing.T) {
	registerTestModules(t)
	dev := newTestGPUDevice(t)
	k := newTestGPUKernel(t, dev, copyKernelDef(testFakeModule))
	src := newTestGPUBuffer[uint32](t, dev, DescriptorStorage, UsageHostWrite, 64)
	dst := newTestGPUBuffer[uint32](t, dev, DescriptorStorage, UsageHostRead, 64)

	if err := k.Run(LaunchOptions{WorkSize: [3]uint32{64}}, src, dst); err != nil {
		t.Fatalf("Run: %v", err)
	}

	def := copyKernelDef(testCopyModule)
	def.Name = "copy2"
	if err := k.Reinit(def); err != nil {
		t.Fatalf("Reinit: %v", err)
	}
	if k.state != stateReady || k.lastSubmission != 0 || k.bindGroup != nil {
		t.Errorf("after Reinit state=%v lastSubmission=%d bindGroup=%v", k.state, k.lastSubmission, k.bindGroup)
	}
	if k.Identity().Name() != "copy2" {
		t.Errorf("name after Reinit = %q, want copy2", k.Identity().Name())
	}

	bad := def
	bad.Dimension = 0
	if err := k.Reinit(bad); !errors.Is(err, ErrInvalidDimension) {
		t.Errorf("Reinit with dimension 0 = %v, want ErrInvalidDimension", err)
	}
	if k.state != stateReady {
		t.Errorf("failed validation changed state to %v", k.state)
	}

	k.Destroy()
	k.Destroy()
	if k.state != stateUninitialized || k.pipeline != nil || k.encoder != nil {
		t.Errorf("after Destroy state=%v, resources not released", k.state)
	}
	if err := k.Run(LaunchOptions{WorkSize: [3]uint32{1}}, src, dst); err == nil {
		t.Error("Run after Destroy succeeded")
	}
}

func TestGPUKernelStateNames(t *testing.T) {
	for s := stateUninitialized; s <= stateReady; s++ {
		if s.String() != gpuKernelStateNames[s] {
			t.Errorf("state %d String() = %q", s, s.String())
		}
	}
	if got := gpuKernelState(99).String(); got != "gpuKernelState(99)" {
		t.Errorf("unknown state String() = %q", got)
	}
}

func TestGPUKernel_LocalSizeOverride(t *testing.T) {
	registerTestModules(t)
	dev := newTestGPUDevice(t, WithLocalSize(2, [3]uint32{16, 4, 1}))
	def := copyKernelDef(testFakeModule)
	def.Dimension = 2
	k := newTestGPUKernel(t, dev, def)
	src := newTestGPUBuffer[uint32](t, dev, DescriptorStorage, UsageHostWrite, 1)
	dst := newTestGPUBuffer[uint32](t, dev, DescriptorStorage, UsageHostRead, 1)

	if err := k.Run(LaunchOptions{WorkSize: [3]uint32{33, 9, 7}}, src, dst); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got, want := k.lastGroups, [3]uint32{3, 3, 1}; got != want {
		t.Errorf("dispatched groups = %v, want %v", got, want)
	}
}

func TestGPUKernel_SPIRVModuleLocalSize(t *testing.T) {
	const id ModuleID = 150
	RegisterModule(id, "fixed32", func() []uint32 {
		return computeSPIRV("main", [3]uint32{32, 1, 1})
	})
	t.Cleanup(func() { UnregisterModule(id) })

	const work = 256
	tests := []struct {
		local  [3]uint32
		groups uint32
	}{
		{[3]uint32{128, 1, 1}, 2},
		{[3]uint32{48, 1, 1}, 6},
		{[3]uint32{7, 1, 1}, 37},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("local=%d", tt.local[0]), func(t *testing.T) {
			dev := newTestGPUDevice(t, WithLocalSize(1, tt.local))
			k := newTestGPUKernel(t, dev, copyKernelDef(id))
			src := newTestGPUBuffer[uint32](t, dev, DescriptorStorage, UsageHostWrite, work)
			dst := newTestGPUBuffer[uint32](t, dev, DescriptorStorage, UsageHostRead, work)

			if err := k.Run(LaunchOptions{WorkSize: [3]uint32{work, 1, 1}}, src, dst); err != nil {
				t.Fatalf("Run: %v", err)
			}

			dev.mu.Lock()
			entry, ok := dev.shaders[shaderKey{id: id, entry: "main", dim: 1}]
			dev.mu.Unlock()
			if !ok {
				t.Fatal("shader module not cached for entry main, dimension 1")
			}
			local, err := spirvLocalSize(entry.words, "main")
			if err != nil {
				t.Fatalf("spirvLocalSize: %v", err)
			}
			if want := dev.LocalSize(1); local != want || local != tt.local {
				t.Errorf("shader local size = %v, want device local size %v", local, want)
			}
			if got, want := k.lastGroups, [3]uint32{tt.groups, 1, 1}; got != want {
				t.Errorf("dispatched groups = %v, want %v", got, want)
			}
			if covered := k.lastGroups[0] * local[0]; covered < work {
				t.Errorf("dispatch covers %d of %d items", covered, work)
			}
		})
	}
}

func TestGPUKernel_ShaderPerDimension(t *testing.T) {
	registerTestModules(t)
	dev := newTestGPUDevice(t)

	def := copyKernelDef(testFakeModule)
	newTestGPUKernel(t, dev, def)
	def.Dimension = 2
	newTestGPUKernel(t, dev, def)

	dev.mu.Lock()
	defer dev.mu.Unlock()
	if len(dev.shaders) != 2 {
		t.Fatalf("cached %d shader modules, want one per dimension", len(dev.shaders))
	}
	for key, e := range dev.shaders {
		local, err := spirvLocalSize(e.words, key.entry)
		if err != nil {
			t.Fatalf("spirvLocalSize: %v", err)
		}
		if want := dev.localSizes[key.dim-1]; local != want {
			t.Errorf("dimension %d shader local size = %v, want %v", key.dim, local, want)
		}
	}
}
