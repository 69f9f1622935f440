// Package envconfig reads ZINVUL_* environment overrides for device options.
//
// Every accessor returns its default when the variable is unset. Values that
// fail to parse log a warning and also fall back to the default.
package envconfig

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
)

var (
	// Debug enables bounds checks and verbose resource validation.
	// Configurable via ZINVUL_DEBUG.
	Debug = Bool("ZINVUL_DEBUG")

	// Threads sets the CPU worker count, 0 meaning one per logical CPU.
	// Configurable via ZINVUL_THREADS.
	Threads = Uint("ZINVUL_THREADS", 0)

	// TaskBatchSize sets how many work-groups a CPU worker claims at once.
	// Configurable via ZINVUL_TASK_BATCH.
	TaskBatchSize = Uint("ZINVUL_TASK_BATCH", 32)

	// Queues sets the number of logical compute queues of a GPU device.
	// Configurable via ZINVUL_QUEUES.
	Queues = Uint("ZINVUL_QUEUES", 1)

	// GPUBackend names the hal backend used for GPU enumeration.
	// Configurable via ZINVUL_GPU_BACKEND (vulkan, noop).
	GPUBackend = String("ZINVUL_GPU_BACKEND")
)

// Var returns the trimmed value of an environment variable with surrounding
// quotes removed.
func Var(key string) string {
	return strings.Trim(strings.TrimSpace(os.Getenv(key)), "\"'")
}

// Bool returns an accessor that reads key as a boolean. Any non-empty value
// that does not parse counts as true.
func Bool(key string) func() bool {
	return func() bool {
		if s := Var(key); s != "" {
			b, err := strconv.ParseBool(s)
			if err != nil {
				return true
			}
			return b
		}
		return false
	}
}

// String returns an accessor that reads key verbatim.
func String(key string) func() string {
	return func() string {
		return Var(key)
	}
}

// Uint returns an accessor that reads key as an unsigned integer.
func Uint(key string, defaultValue uint) func() uint {
	return func() uint {
		if s := Var(key); s != "" {
			n, err := strconv.ParseUint(s, 10, 32)
			if err != nil {
				slog.Warn("invalid environment variable, using default", "key", key, "value", s, "default", defaultValue)
				return defaultValue
			}
			return uint(n)
		}
		return defaultValue
	}
}

// EnvVar describes one recognized variable.
type EnvVar struct {
	Name        string
	Value       any
	Description string
}

// AsMap returns every recognized variable with its current value.
func AsMap() map[string]EnvVar {
	return map[string]EnvVar{
		"ZINVUL_DEBUG":       {"ZINVUL_DEBUG", Debug(), "Enable debug checks"},
		"ZINVUL_THREADS":     {"ZINVUL_THREADS", Threads(), "CPU worker count (0 = auto)"},
		"ZINVUL_TASK_BATCH":  {"ZINVUL_TASK_BATCH", TaskBatchSize(), "Work-groups claimed per CPU worker fetch"},
		"ZINVUL_QUEUES":      {"ZINVUL_QUEUES", Queues(), "Logical GPU compute queues"},
		"ZINVUL_GPU_BACKEND": {"ZINVUL_GPU_BACKEND", GPUBackend(), "hal backend for GPU devices (vulkan, noop)"},
	}
}
