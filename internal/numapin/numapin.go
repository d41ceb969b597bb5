// Package numapin provides an optional, best-effort hook for pinning
// scheduler workers to CPUs, evenly distributing them across the
// machine the way a NUMA-aware worker placement would. It is off by
// default; callers that want it call Pin from the goroutine that will
// run as a given worker.
package numapin

import "runtime"

// Pin binds the calling goroutine's underlying OS thread to one CPU,
// chosen by evenly distributing workerID across numCPU available
// CPUs. It locks the goroutine to its OS thread and never unlocks it,
// so the pinning lasts as long as that goroutine (the worker) runs.
func Pin(workerID, numWorkers int) error {
	runtime.LockOSThread()
	return pin(workerID, numWorkers)
}

// CPU returns the CPU index Pin would select for workerID, useful for
// logging without actually pinning.
func CPU(workerID, numWorkers int) int {
	n := runtime.NumCPU()
	if numWorkers <= 0 || n == 0 {
		return 0
	}
	return (workerID * n) / numWorkers
}
