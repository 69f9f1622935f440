//go:build !nogpu

package zinvul

import (
	"fmt"
	"os"
	"testing"

	"github.com/gogpu/gputypes"
)

const multiplyWGSL = `
@group(0) @binding(0) var<storage, read_write> data: array<f32>;
@group(0) @binding(1) var<storage, read> factor: array<f32>;

@compute @workgroup_size(LOCAL_SIZE_1D_X, LOCAL_SIZE_1D_Y, LOCAL_SIZE_1D_Z)
fn multiply(@builtin(global_invocation_id) id: vec3<u32>) {
    if (id.x < arrayLength(&data)) {
        data[id.x] = data[id.x] * factor[0];
    }
}
`

// TestVulkan_MultiplyInPlace dispatches a real compute pipeline that scales
// a storage array in place. The result must not depend on the device local
// size, including sizes that do not divide the work size. It needs a Vulkan
// driver and runs only when ZINVUL_TEST_VULKAN is set.
func TestVulkan_MultiplyInPlace(t *testing.T) {
	if os.Getenv("ZINVUL_TEST_VULKAN") == "" {
		t.Skip("set ZINVUL_TEST_VULKAN=1 to run against a Vulkan driver")
	}
	infos := Enumerate(WithGPUBackend(gputypes.BackendVulkan))
	if len(infos) < 2 {
		t.Skip("no Vulkan adapter")
	}

	const id ModuleID = 300
	RegisterWGSL(id, "multiply", multiplyWGSL)
	t.Cleanup(func() { UnregisterModule(id) })

	for _, local := range [][3]uint32{{64, 1, 1}, {48, 1, 1}, {7, 1, 1}} {
		t.Run(fmt.Sprintf("local=%d", local[0]), func(t *testing.T) {
			multiplyInPlace(t, infos[1], id, local)
		})
	}
}

func multiplyInPlace(t *testing.T, info DeviceInfo, id ModuleID, local [3]uint32) {
	const (
		n          = 1000
		multiplier = float32(3)
	)
	dev, err := NewDevice(info,
		WithGPUBackend(gputypes.BackendVulkan),
		WithDebug(true),
		WithLocalSize(1, local),
	)
	if err != nil {
		t.Fatalf("NewDevice: %v", err)
	}
	defer dev.Destroy()
	if got := dev.(*GPUDevice).LocalSize(1); got != local {
		t.Fatalf("LocalSize(1) = %v, want %v", got, local)
	}

	data, err := NewBuffer[float32](dev, DescriptorStorage, UsageHostReadWrite)
	if err != nil {
		t.Fatalf("NewBuffer: %v", err)
	}
	defer data.Clear()
	factor, err := NewBuffer[float32](dev, DescriptorUniform, UsageHostWrite)
	if err != nil {
		t.Fatalf("NewBuffer: %v", err)
	}
	defer factor.Clear()
	if err := data.SetSize(n); err != nil {
		t.Fatalf("SetSize: %v", err)
	}
	if err := factor.SetSize(1); err != nil {
		t.Fatalf("SetSize: %v", err)
	}

	original := make([]float32, n)
	for i := range original {
		original[i] = float32(i) + 0.5
	}
	if err := data.Write(original, 0, 0); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := factor.Write([]float32{multiplier}, 0, 0); err != nil {
		t.Fatalf("Write: %v", err)
	}

	k, err := NewKernel(dev, KernelDef{
		Name:       "multiply",
		Dimension:  1,
		Params:     []Param{GlobalParam[float32](), PodParam[float32]()},
		Module:     id,
		EntryPoint: "multiply",
	})
	if err != nil {
		t.Fatalf("NewKernel: %v", err)
	}
	defer k.Destroy()

	opts := k.MakeOptions()
	opts.WorkSize[0] = n
	if err := k.Run(opts, data, factor); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if err := dev.WaitQueue(0); err != nil {
		t.Fatalf("WaitQueue: %v", err)
	}

	got := make([]float32, n)
	if err := data.Read(got, 0, 0); err != nil {
		t.Fatalf("Read: %v", err)
	}
	for i, v := range got {
		if want := multiplier * original[i]; v != want {
			t.Fatalf("data[%d] = %v, want %v", i, v, want)
		}
	}
}
