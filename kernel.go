package zinvul

import (
	"fmt"
)

// MaxNameLength bounds the length of a kernel name.
const MaxNameLength = 64

// CPUEntry is the CPU entry point of a kernel. It is called once per
// work-group with the work-group context and the bound arguments.
type CPUEntry func(wg *WorkGroup, args *Args)

// KernelDef describes a kernel: its dispatch dimension, its parameters and
// the entry point of each backend.
type KernelDef struct {
	// Name is an optional debug name of at most MaxNameLength bytes.
	Name string

	// Dimension is the dispatch dimension, 1 to 3.
	Dimension int

	// Params lists the kernel parameters in declaration order.
	Params []Param

	// Entry is called by the CPU backend.
	Entry CPUEntry

	// Module and EntryPoint select the shader used by the GPU backend.
	Module     ModuleID
	EntryPoint string
}

// LaunchOptions controls one kernel dispatch.
type LaunchOptions struct {
	// WorkSize is the work extent per dimension. Entries past the kernel
	// dimension are treated as 1.
	WorkSize [3]uint32

	// QueueIndex selects the GPU compute queue. The CPU backend ignores it.
	QueueIndex int
}

// grid expands the work size to three dimensions for a kernel of dim.
func (o LaunchOptions) grid(dim int) [3]uint32 {
	g := o.WorkSize
	for i := dim; i < 3; i++ {
		g[i] = 1
	}
	return g
}

// Kernel is a compiled kernel bound to a device. The concrete type depends
// on the device backend.
type Kernel interface {
	Identity() *Identity
	Backend() Backend

	// Dimension returns the dispatch dimension.
	Dimension() int

	// NumOfArgs returns the number of declared parameters.
	NumOfArgs() int

	// Classification returns the parameter classification.
	Classification() Classification

	// MakeOptions returns launch options with a unit work size.
	MakeOptions() LaunchOptions

	// Run dispatches the kernel. args binds the global parameters in
	// declaration order.
	Run(opts LaunchOptions, args ...Argument) error

	// Reinit releases the backend resources and rebuilds the kernel from def.
	Reinit(def KernelDef) error

	// Destroy releases the backend resources. It is safe to call more than once.
	Destroy()
}

// NewKernel validates def and builds a kernel for dev's backend.
func NewKernel(dev Device, def KernelDef) (Kernel, error) {
	if dev == nil {
		panic("zinvul: NewKernel called with nil device")
	}
	if err := dev.base().checkAlive(); err != nil {
		return nil, err
	}
	class, err := validateDef(def, dev.Backend())
	if err != nil {
		return nil, err
	}
	switch dev.Backend() {
	case BackendCPU:
		return newCPUKernel(dev, def, class), nil
	case BackendGPU:
		return newGPUKernel(dev, def, class)
	default:
		return nil, fmt.Errorf("zinvul: unknown backend %d", dev.Backend())
	}
}

// validateDef classifies def.Params and rejects definitions no backend can
// build.
func validateDef(def KernelDef, backend Backend) (Classification, error) {
	if def.Dimension < 1 || def.Dimension > 3 {
		return Classification{}, fmt.Errorf("kernel %q: %w", def.Name, ErrInvalidDimension)
	}
	if len(def.Name) > MaxNameLength {
		return Classification{}, fmt.Errorf("kernel %q: %w", def.Name, ErrNameTooLong)
	}
	for i, p := range def.Params {
		if err := checkParam(p); err != nil {
			return Classification{}, fmt.Errorf("kernel %q: param %d: %w", def.Name, i, err)
		}
	}
	class := Classify(def.Params)
	if err := class.Validate(); err != nil {
		return Classification{}, fmt.Errorf("kernel %q: %w", def.Name, err)
	}
	switch backend {
	case BackendCPU:
		if def.Entry == nil {
			return Classification{}, fmt.Errorf("kernel %q: cpu: %w", def.Name, ErrMissingEntry)
		}
	case BackendGPU:
		if def.EntryPoint == "" {
			return Classification{}, fmt.Errorf("kernel %q: gpu: %w", def.Name, ErrMissingEntry)
		}
	}
	return class, nil
}

func checkParam(p Param) error {
	switch {
	case p.elem == nil:
		return fmt.Errorf("no element type: %w", ErrInvalidParam)
	case p.Space != SpaceGlobal && p.Space != SpaceLocal:
		return fmt.Errorf("address space %d: %w", p.Space, ErrInvalidParam)
	case p.Space == SpaceLocal && p.newLocal == nil:
		return fmt.Errorf("local parameter without scratch allocator: %w", ErrInvalidParam)
	case p.Space == SpaceLocal && p.Len < 0:
		return fmt.Errorf("local length %d: %w", p.Len, ErrInvalidParam)
	}
	return nil
}

// checkArgs verifies that args can bind the global parameters of class on
// backend. Element types are compared only in debug mode.
func checkArgs(class Classification, backend Backend, debug bool, args []Argument) error {
	if len(args) != class.NumGlobal {
		return fmt.Errorf("got %d, want %d: %w", len(args), class.NumGlobal, ErrArgumentCount)
	}
	for i, arg := range args {
		if arg == nil {
			panic(fmt.Sprintf("zinvul: kernel argument %d is nil", i))
		}
		if arg.Backend() != backend {
			return fmt.Errorf("argument %d is a %s buffer: %w", i, arg.Backend(), ErrBackendMismatch)
		}
		if !debug {
			continue
		}
		p := class.Params[class.GlobalIndices[i]]
		if got := arg.elemType().String(); got != p.ElemName {
			panic(fmt.Sprintf("zinvul: argument %d has element type %s, parameter %d wants %s", i, got, p.Index, p.ElemName))
		}
	}
	return nil
}

// dispatchGroups returns ceil(grid/local) per dimension.
func dispatchGroups(grid, local [3]uint32) [3]uint32 {
	var g [3]uint32
	for i := range 3 {
		l := max(local[i], 1)
		g[i] = (grid[i] + l - 1) / l
	}
	return g
}
