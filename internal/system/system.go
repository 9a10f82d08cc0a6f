// Package system adjusts the process for low-latency measurement.
package system

import (
	"encoding/binary"
	"os"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/DrC0ns0le/cyclicping/pkg/logging"
)

// DMALatencyPath is the PM QoS device holding the CPU wakeup latency target.
var DMALatencyPath = "/dev/cpu_dma_latency"

type Tuning struct {
	// MLock locks current and future memory.
	MLock bool
	// Priority selects SCHED_FIFO at this priority when non-zero.
	Priority int
	// Affinity pins the calling thread to one CPU when not negative.
	Affinity int
}

// Apply tunes the calling OS thread and the process. Callers lock the
// goroutine to its thread first. The returned restore releases the latency
// target and is safe to call when Apply failed.
func Apply(t Tuning, logger logging.Logger) (restore func(), err error) {
	restore = func() {}

	if t.MLock {
		if err := unix.Mlockall(unix.MCL_CURRENT | unix.MCL_FUTURE); err != nil {
			return restore, errors.Wrap(err, "mlockall failed")
		}
	}

	if t.Priority > 0 {
		attr := unix.SchedAttr{Policy: unix.SCHED_FIFO, Priority: uint32(t.Priority)}
		if err := unix.SchedSetAttr(0, &attr, 0); err != nil {
			return restore, errors.Wrapf(err, "setting SCHED_FIFO priority %d", t.Priority)
		}
	}

	if f := holdDMALatency(logger); f != nil {
		restore = func() { f.Close() }
	}

	if t.Affinity >= 0 {
		var set unix.CPUSet
		set.Set(t.Affinity)
		if err := unix.SchedSetaffinity(0, &set); err != nil {
			return restore, errors.Wrapf(err, "failed to set affinity to cpu %d", t.Affinity)
		}
	}

	return restore, nil
}

// holdDMALatency requests a zero wakeup latency for as long as the returned
// file stays open. A missing device is not an error.
func holdDMALatency(logger logging.Logger) *os.File {
	if _, err := os.Stat(DMALatencyPath); err != nil {
		return nil
	}
	f, err := os.OpenFile(DMALatencyPath, os.O_RDWR, 0)
	if err != nil {
		logger.Warnf("open %s: %v", DMALatencyPath, err)
		return nil
	}

	var target [4]byte
	binary.NativeEndian.PutUint32(target[:], 0)
	if _, err := f.Write(target[:]); err != nil {
		logger.Warnf("setting cpu_dma_latency: %v", err)
		f.Close()
		return nil
	}
	return f
}
