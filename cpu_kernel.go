package zinvul

import (
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
)

// cpuKernel emulates work-groups on the device worker pool. Each worker
// claims buckets of TaskBatchSize work-groups from a shared counter and
// calls the entry point once per work-group.
type cpuKernel struct {
	resource
	dev   *CPUDevice
	def   KernelDef
	class Classification

	// atomics is the lock shared by the atomic builtins of a dispatch.
	atomics sync.Mutex
}

func newCPUKernel(dev Device, def KernelDef, class Classification) *cpuKernel {
	k := &cpuKernel{dev: dev.(*CPUDevice), def: def, class: class}
	k.attach(dev, def.Name)
	k.logger().Debug("cpu kernel created", "kernel", k.ident.String(), "params", class.NumParams())
	return k
}

func (k *cpuKernel) Dimension() int                 { return k.def.Dimension }
func (k *cpuKernel) NumOfArgs() int                 { return k.class.NumParams() }
func (k *cpuKernel) Classification() Classification { return k.class }

func (k *cpuKernel) MakeOptions() LaunchOptions {
	return LaunchOptions{WorkSize: [3]uint32{1, 1, 1}}
}

// Reinit swaps in a new definition. The CPU backend holds no per-kernel
// resources besides the definition itself.
func (k *cpuKernel) Reinit(def KernelDef) error {
	class, err := validateDef(def, BackendCPU)
	if err != nil {
		return err
	}
	k.def = def
	k.class = class
	k.ident.SetName(def.Name)
	return nil
}

func (k *cpuKernel) Destroy() {}

// Run executes every work-group of the grid and returns when all are done.
// A panic raised by the entry point is re-raised on the calling goroutine.
func (k *cpuKernel) Run(opts LaunchOptions, args ...Argument) error {
	if err := k.dev.checkAlive(); err != nil {
		return err
	}
	if err := checkArgs(k.class, BackendCPU, k.debug(), args); err != nil {
		return fmt.Errorf("kernel %s: %w", k.ident.String(), err)
	}

	grid := opts.grid(k.def.Dimension)
	total := uint64(grid[0]) * uint64(grid[1]) * uint64(grid[2])
	if total == 0 {
		return nil
	}

	bound := make([]any, k.class.NumParams())
	for i, arg := range args {
		p := k.class.Params[k.class.GlobalIndices[i]]
		bound[p.Index] = arg.hostSlot(p.Rep)
	}

	var (
		next    atomic.Uint64
		stop    atomic.Bool
		failure any
		failMu  sync.Mutex
	)
	batch := uint64(k.dev.batchSize)

	err := k.dev.pool.RunWorkers(k.dev.pool.Workers(), func(int) {
		defer func() {
			if r := recover(); r != nil {
				stop.Store(true)
				failMu.Lock()
				if failure == nil {
					failure = r
				}
				failMu.Unlock()
			}
		}()

		a := &Args{slots: slices.Clone(bound)}
		wg := &WorkGroup{grid: grid, mu: &k.atomics}

		for !stop.Load() {
			start := next.Add(batch) - batch
			if start >= total {
				return
			}
			for id := start; id < min(start+batch, total); id++ {
				wg.id = unflatten(id, grid)
				for _, li := range k.class.LocalIndices {
					p := k.def.Params[li]
					a.slots[li] = p.newLocal(p.Len)
				}
				k.def.Entry(wg, a)
			}
		}
	})
	if failure != nil {
		panic(failure)
	}
	if err != nil {
		return fmt.Errorf("kernel %s: %w", k.ident.String(), err)
	}
	return nil
}
