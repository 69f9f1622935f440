package zinvul

import (
	"fmt"
	"strings"

	"github.com/gogpu/gputypes"

	"github.com/byzin/Zinvul-sub001/internal/envconfig"
)

// Option configures device creation and enumeration.
//
// Example:
//
//	dev, err := zinvul.NewCPUDevice(zinvul.WithThreads(4), zinvul.WithTaskBatchSize(16))
type Option func(*Options)

// Options holds device creation parameters. Defaults are read from the
// ZINVUL_* environment variables; options passed to a constructor win.
type Options struct {
	// AppName and AppVersion are recorded when a device is created.
	AppName    string
	AppVersion string

	// Debug enables bounds checks on buffer and kernel arguments.
	Debug bool

	// Threads is the CPU worker count. 0 uses one worker per logical CPU.
	Threads int

	// TaskBatchSize is the number of work-groups a CPU worker claims per
	// atomic fetch.
	TaskBatchSize int

	// GPUBackend selects the hal backend used for GPU devices.
	GPUBackend gputypes.Backend

	// QueueCount is the number of logical compute queues of a GPU device.
	QueueCount int

	// LocalSizes overrides the GPU local work-group size per dispatch
	// dimension (index 0 for 1-D). Zero entries keep the defaults.
	LocalSizes [3][3]uint32

	// PreferHostVisible places host-accessible GPU buffers in mappable
	// memory even on discrete adapters.
	PreferHostVisible bool
}

// DefaultOptions returns the options used when no Option is given.
func DefaultOptions() Options {
	return Options{
		AppName:       "zinvul",
		AppVersion:    "0.1.0",
		Debug:         envconfig.Debug(),
		Threads:       int(envconfig.Threads()),
		TaskBatchSize: max(1, int(envconfig.TaskBatchSize())),
		GPUBackend:    ParseGPUBackend(envconfig.GPUBackend()),
		QueueCount:    max(1, int(envconfig.Queues())),
	}
}

func buildOptions(opts []Option) Options {
	o := DefaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithAppName sets the application name recorded at device creation.
func WithAppName(name string) Option {
	return func(o *Options) {
		o.AppName = name
	}
}

// WithAppVersion sets the application version recorded at device creation.
func WithAppVersion(version string) Option {
	return func(o *Options) {
		o.AppVersion = version
	}
}

// WithDebug enables or disables debug checks.
func WithDebug(enabled bool) Option {
	return func(o *Options) {
		o.Debug = enabled
	}
}

// WithThreads sets the CPU worker count. 0 or negative means automatic.
func WithThreads(n int) Option {
	return func(o *Options) {
		o.Threads = max(0, n)
	}
}

// WithTaskBatchSize sets the CPU work-group batch size. Values below 1 are
// clamped to 1.
func WithTaskBatchSize(n int) Option {
	return func(o *Options) {
		o.TaskBatchSize = max(1, n)
	}
}

// WithGPUBackend selects the hal backend used to enumerate and open GPUs.
func WithGPUBackend(b gputypes.Backend) Option {
	return func(o *Options) {
		o.GPUBackend = b
	}
}

// WithQueueCount sets the number of logical GPU compute queues.
func WithQueueCount(n int) Option {
	return func(o *Options) {
		o.QueueCount = max(1, n)
	}
}

// WithLocalSize overrides the GPU local work-group size for dispatches of
// the given dimension (1, 2 or 3). It panics on any other dimension.
func WithLocalSize(dim int, size [3]uint32) Option {
	if dim < 1 || dim > 3 {
		panic(fmt.Sprintf("zinvul: local size dimension %d out of range [1,3]", dim))
	}
	return func(o *Options) {
		o.LocalSizes[dim-1] = size
	}
}

// WithHostVisiblePreference places host-accessible GPU buffers in mappable
// memory regardless of adapter type.
func WithHostVisiblePreference(enabled bool) Option {
	return func(o *Options) {
		o.PreferHostVisible = enabled
	}
}

// ParseGPUBackend maps a backend name to its hal variant. Unknown or empty
// names select Vulkan.
func ParseGPUBackend(name string) gputypes.Backend {
	switch strings.ToLower(name) {
	case "noop", "empty":
		return gputypes.BackendEmpty
	case "metal":
		return gputypes.BackendMetal
	case "dx12":
		return gputypes.BackendDX12
	case "gl", "gles":
		return gputypes.BackendGL
	default:
		return gputypes.BackendVulkan
	}
}
