// Package zinvul runs compute kernels on a CPU thread pool or a GPU compute
// pipeline through one Device/Buffer/Kernel API.
//
// # Overview
//
// A kernel is described once by a [KernelDef]: its dispatch dimension, its
// parameter list (see [Param]) and one entry point per backend. The CPU
// backend calls a Go function for every work-group of the launch grid; the
// GPU backend binds the same buffers to a compute pipeline built from a
// registered shader module.
//
// # Quick Start
//
//	dev, err := zinvul.NewCPUDevice()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer dev.Destroy()
//
//	src, _ := zinvul.NewBuffer[uint32](dev, zinvul.DescriptorStorage, zinvul.UsageHostReadWrite)
//	dst, _ := zinvul.NewBuffer[uint32](dev, zinvul.DescriptorStorage, zinvul.UsageHostReadWrite)
//	_ = src.SetSize(16)
//	_ = dst.SetSize(16)
//
//	k, err := zinvul.NewKernel(dev, zinvul.KernelDef{
//	    Name:      "copy",
//	    Dimension: 1,
//	    Params: []zinvul.Param{
//	        zinvul.ConstGlobalParam[uint32](),
//	        zinvul.GlobalParam[uint32](),
//	    },
//	    Entry: func(wg *zinvul.WorkGroup, args *zinvul.Args) {
//	        i := wg.GlobalID(0)
//	        zinvul.BufferArg[uint32](args, 1)[i] = zinvul.BufferArg[uint32](args, 0)[i]
//	    },
//	})
//
//	opts := k.MakeOptions()
//	opts.WorkSize = [3]uint32{16, 1, 1}
//	err = k.Run(opts, src, dst)
//
// # Backends
//
// Devices are found with [Enumerate]. The CPU device is always present at
// ordinal 0; GPU adapters are appended when the hal backend reports any.
// GPU support can be compiled out with the nogpu build tag.
//
// # Concurrency
//
// CPU dispatch blocks until every work-group has run. GPU dispatch returns
// once the command buffer is submitted; use [Device.Wait],
// [Device.WaitQueueType] or [Device.WaitQueue] before reading results.
// Resource creation on one device must be serialized by the caller.
//
// # Logging
//
// zinvul is silent by default. Call [SetLogger] to route diagnostics to a
// [log/slog] logger.
package zinvul
