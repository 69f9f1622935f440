package zinvul

// Backend identifies the execution backend of a device and of every
// resource created from it.
type Backend uint8

const (
	// BackendCPU runs kernels on a worker pool.
	BackendCPU Backend = iota

	// BackendGPU runs kernels as compute pipelines on a hal device.
	BackendGPU
)

// String returns the lowercase backend name.
func (b Backend) String() string {
	switch b {
	case BackendCPU:
		return "cpu"
	case BackendGPU:
		return "gpu"
	default:
		return "unknown"
	}
}
