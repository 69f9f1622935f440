// Package parallel provides the goroutine pool that backs the CPU device.
//
// A WorkerPool owns a fixed set of goroutines, each with its own queue.
// Idle workers steal from their neighbours so that uneven tasks still keep
// every goroutine busy. The CPU kernel engine submits one closure per
// worker with RunWorkers; each closure then claims work-group buckets from
// a shared atomic counter until the grid is exhausted.
package parallel
