//go:build !nogpu

package zinvul

import (
	"errors"
	"testing"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/google/go-cmp/cmp"

	_ "github.com/gogpu/wgpu/hal/noop" // register the noop backend
)

// newTestGPUDevice opens the noop hal adapter. Buffers keep real host
// storage, while copies and dispatches are recorded but not executed.
func newTestGPUDevice(t testing.TB, opts ...Option) *GPUDevice {
	t.Helper()
	opts = append([]Option{WithDebug(true), WithGPUBackend(gputypes.BackendEmpty)}, opts...)
	dev, err := NewGPUDevice(0, opts...)
	if err != nil {
		t.Fatalf("NewGPUDevice: %v", err)
	}
	t.Cleanup(dev.Destroy)
	return dev
}

func TestEnumerate_Noop(t *testing.T) {
	infos := Enumerate(WithGPUBackend(gputypes.BackendEmpty))
	if len(infos) != 2 {
		t.Fatalf("Enumerate() = %v, want cpu and one gpu", infos)
	}
	want := DeviceInfo{Backend: BackendGPU, Ordinal: 0, Name: "Noop Adapter", Vendor: infos[1].Vendor, Kind: "other"}
	if diff := cmp.Diff(want, infos[1]); diff != "" {
		t.Errorf("gpu info mismatch (-want +got):\n%s", diff)
	}

	dev, err := NewDevice(infos[1], WithGPUBackend(gputypes.BackendEmpty))
	if err != nil {
		t.Fatalf("NewDevice: %v", err)
	}
	defer dev.Destroy()
	if dev.Backend() != BackendGPU {
		t.Errorf("Backend() = %v, want gpu", dev.Backend())
	}
}

func TestNewGPUDevice_BadOrdinal(t *testing.T) {
	_, err := NewGPUDevice(3, WithGPUBackend(gputypes.BackendEmpty))
	if !errors.Is(err, ErrNoGPU) {
		t.Errorf("NewGPUDevice(3) = %v, want ErrNoGPU", err)
	}
}

func TestGPUDevice_Basics(t *testing.T) {
	dev := newTestGPUDevice(t, WithQueueCount(3))

	if got := dev.NumQueues(); got != 3 {
		t.Errorf("NumQueues() = %d, want 3", got)
	}
	if got := dev.Allocator().NumHeaps(); got != 2 {
		t.Errorf("NumHeaps() = %d, want 2", got)
	}
	if dev.AdapterName() != "Noop Adapter" {
		t.Errorf("AdapterName() = %q", dev.AdapterName())
	}
	if !dev.HostVisibleByDefault() {
		t.Error("HostVisibleByDefault() = false for a non-discrete adapter")
	}
	if dev.QueueFamily() != 0 {
		t.Errorf("QueueFamily() = %d, want 0", dev.QueueFamily())
	}
	if got := dev.LocalSize(2); got != [3]uint32{8, 8, 1} {
		t.Errorf("LocalSize(2) = %v, want [8 8 1]", got)
	}
	if dev.SurfaceFormat() != gputypes.TextureFormatUndefined {
		t.Errorf("SurfaceFormat() = %v, want undefined", dev.SurfaceFormat())
	}
	if dev.AdapterInfo().Type != gpucontext.AdapterTypeUnknown {
		t.Errorf("AdapterInfo().Type = %v, want unknown", dev.AdapterInfo().Type)
	}
}

func TestGPUDevice_Waits(t *testing.T) {
	dev := newTestGPUDevice(t, WithQueueCount(2))

	if err := dev.Wait(); err != nil {
		t.Errorf("Wait() = %v", err)
	}
	for _, qt := range []QueueType{QueueCompute, QueueTransfer} {
		if err := dev.WaitQueueType(qt); err != nil {
			t.Errorf("WaitQueueType(%v) = %v", qt, err)
		}
	}
	for i := range 2 {
		if err := dev.WaitQueue(i); err != nil {
			t.Errorf("WaitQueue(%d) = %v", i, err)
		}
	}
	for _, i := range []int{-1, 2} {
		if err := dev.WaitQueue(i); !errors.Is(err, ErrQueueIndex) {
			t.Errorf("WaitQueue(%d) = %v, want ErrQueueIndex", i, err)
		}
	}
}

func TestGPUDevice_Destroy(t *testing.T) {
	dev, err := NewGPUDevice(0, WithGPUBackend(gputypes.BackendEmpty))
	if err != nil {
		t.Fatalf("NewGPUDevice: %v", err)
	}
	dev.Destroy()
	dev.Destroy()
	if err := dev.Wait(); !errors.Is(err, ErrDeviceDestroyed) {
		t.Errorf("Wait() after Destroy = %v, want ErrDeviceDestroyed", err)
	}
}

func TestNewGPUDeviceFromProvider(t *testing.T) {
	owner := newTestGPUDevice(t)

	var p gpucontext.DeviceProvider = owner
	adopted, err := NewGPUDeviceFromProvider(p, WithQueueCount(2))
	if err != nil {
		t.Fatalf("NewGPUDeviceFromProvider: %v", err)
	}
	if adopted.NumQueues() != 2 {
		t.Errorf("NumQueues() = %d, want 2", adopted.NumQueues())
	}
	if adopted.AdapterName() != owner.AdapterName() {
		t.Errorf("AdapterName() = %q, want %q", adopted.AdapterName(), owner.AdapterName())
	}
	if adopted.Adapter() != nil {
		t.Errorf("adopted Adapter() = %v, want nil", adopted.Adapter())
	}

	adopted.Destroy()

	// The owner keeps working after the adopted view is gone.
	b, err := NewBuffer[uint32](owner, DescriptorStorage, UsageHostReadWrite)
	if err != nil {
		t.Fatalf("NewBuffer on owner: %v", err)
	}
	if err := b.SetSize(4); err != nil {
		t.Fatalf("SetSize on owner: %v", err)
	}
	b.Clear()
}

type fakeProvider struct{}

func (fakeProvider) Device() gpucontext.Device             { return "device" }
func (fakeProvider) Queue() gpucontext.Queue               { return "queue" }
func (fakeProvider) SurfaceFormat() gputypes.TextureFormat { return gputypes.TextureFormatUndefined }
func (fakeProvider) Adapter() gpucontext.Adapter           { return nil }
func (fakeProvider) AdapterInfo() gpucontext.AdapterInfo   { return gpucontext.AdapterInfo{} }

func TestNewGPUDeviceFromProvider_NotHal(t *testing.T) {
	if _, err := NewGPUDeviceFromProvider(fakeProvider{}); !errors.Is(err, ErrNoGPU) {
		t.Errorf("NewGPUDeviceFromProvider(fake) = %v, want ErrNoGPU", err)
	}
}

// ===== Helpers =====

func TestResolveLocalSizes(t *testing.T) {
	limits := gputypes.DefaultLimits()

	got := resolveLocalSizes([3][3]uint32{}, limits)
	if diff := cmp.Diff(defaultLocalSizes, got); diff != "" {
		t.Errorf("defaults mismatch (-want +got):\n%s", diff)
	}

	got = resolveLocalSizes([3][3]uint32{{1024, 1, 1}, {32, 32, 1}, {0, 0, 0}}, limits)
	want := [3][3]uint32{{256, 1, 1}, {32, 8, 1}, {4, 4, 4}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("clamped mismatch (-want +got):\n%s", diff)
	}

	got = resolveLocalSizes([3][3]uint32{{0, 0, 0}, {16, 0, 2}, {0, 0, 0}}, gputypes.Limits{})
	want = [3][3]uint32{{64, 1, 1}, {16, 1, 2}, {4, 4, 4}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("unlimited mismatch (-want +got):\n%s", diff)
	}
}

func TestDeviceTypeMapping(t *testing.T) {
	if unifiedMemory(gputypes.DeviceTypeDiscreteGPU) {
		t.Error("discrete adapters should not be treated as unified memory")
	}
	if !unifiedMemory(gputypes.DeviceTypeIntegratedGPU) {
		t.Error("integrated adapters should be treated as unified memory")
	}
	if got := deviceKind(gputypes.DeviceTypeDiscreteGPU); got != "discrete" {
		t.Errorf("deviceKind(discrete) = %q", got)
	}
	if got := deviceTypeFromContext(gpucontext.AdapterTypeSoftware); got != gputypes.DeviceTypeCPU {
		t.Errorf("deviceTypeFromContext(software) = %v", got)
	}
}
