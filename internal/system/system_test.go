package system

import (
	"os"
	"runtime"
	"testing"

	"golang.org/x/sys/unix"
	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"
	"gotest.tools/v3/fs"

	"github.com/DrC0ns0le/cyclicping/pkg/logging"
)

func withDMALatencyPath(t *testing.T, path string) {
	old := DMALatencyPath
	DMALatencyPath = path
	t.Cleanup(func() { DMALatencyPath = old })
}

func TestApplyHoldsLatencyTarget(t *testing.T) {
	dir := fs.NewDir(t, "dev", fs.WithFile("cpu_dma_latency", ""))
	withDMALatencyPath(t, dir.Join("cpu_dma_latency"))

	restore, err := Apply(Tuning{Affinity: -1}, logging.Discard())
	assert.NilError(t, err)
	restore()

	b, err := os.ReadFile(dir.Join("cpu_dma_latency"))
	assert.NilError(t, err)
	assert.DeepEqual(t, b, []byte{0, 0, 0, 0})
}

func TestApplyWithoutLatencyDevice(t *testing.T) {
	dir := fs.NewDir(t, "dev")
	withDMALatencyPath(t, dir.Join("cpu_dma_latency"))

	restore, err := Apply(Tuning{Affinity: -1}, logging.Discard())
	assert.NilError(t, err)
	assert.Assert(t, restore != nil)
	restore()
}

func TestApplyAffinity(t *testing.T) {
	withDMALatencyPath(t, fs.NewDir(t, "dev").Join("missing"))

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	var before unix.CPUSet
	assert.NilError(t, unix.SchedGetaffinity(0, &before))
	defer unix.SchedSetaffinity(0, &before)

	cpu := -1
	for i := 0; i < 1024; i++ {
		if before.IsSet(i) {
			cpu = i
			break
		}
	}
	assert.Assert(t, cpu >= 0)

	_, err := Apply(Tuning{Affinity: cpu}, logging.Discard())
	assert.NilError(t, err)

	var after unix.CPUSet
	assert.NilError(t, unix.SchedGetaffinity(0, &after))
	assert.Equal(t, after.Count(), 1)
	assert.Assert(t, after.IsSet(cpu))
}

func TestUname(t *testing.T) {
	h := Uname()
	assert.Assert(t, h.Machine != "")
	assert.Assert(t, is.Contains(h.Kernel, " ("))
}
