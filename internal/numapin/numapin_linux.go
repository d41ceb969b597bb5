//go:build linux

package numapin

import "golang.org/x/sys/unix"

func pin(workerID, numWorkers int) error {
	cpu := CPU(workerID, numWorkers)
	var set unix.CPUSet
	set.Zero()
	set.Set(cpu)
	return unix.SchedSetaffinity(0, &set)
}
