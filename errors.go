package zinvul

import "errors"

// Sentinel errors returned by devices, buffers and kernels.
// Platform failures are wrapped around these with fmt.Errorf so callers can
// match them with errors.Is.
var (
	// ErrNoGPU is returned when no GPU adapter matches the requested ordinal
	// or GPU support was compiled out.
	ErrNoGPU = errors.New("zinvul: no GPU adapter available")

	// ErrDeviceDestroyed is returned when a destroyed device is used.
	ErrDeviceDestroyed = errors.New("zinvul: device destroyed")

	// ErrBackendMismatch is returned when a buffer from one backend is bound
	// to a kernel or copy target of the other backend.
	ErrBackendMismatch = errors.New("zinvul: backend mismatch")

	// ErrConstLocal is returned when a kernel declares a const local parameter.
	ErrConstLocal = errors.New("zinvul: local parameter must be writable")

	// ErrInvalidDimension is returned for dispatch dimensions outside 1..3.
	ErrInvalidDimension = errors.New("zinvul: dimension must be 1, 2 or 3")

	// ErrNameTooLong is returned when a kernel name exceeds MaxNameLength.
	ErrNameTooLong = errors.New("zinvul: name too long")

	// ErrUnknownModule is returned when a kernel references an unregistered module.
	ErrUnknownModule = errors.New("zinvul: unknown kernel module")

	// ErrQueueIndex is returned when a queue index is out of range.
	ErrQueueIndex = errors.New("zinvul: queue index out of range")

	// ErrArgumentCount is returned when Run receives the wrong number of buffers.
	ErrArgumentCount = errors.New("zinvul: wrong number of kernel arguments")

	// ErrInvalidParam is returned for a Param that was not built with one
	// of the Param constructors.
	ErrInvalidParam = errors.New("zinvul: invalid kernel parameter")

	// ErrMissingEntry is returned when a kernel has no entry point for the
	// device's backend.
	ErrMissingEntry = errors.New("zinvul: missing entry point")
)
