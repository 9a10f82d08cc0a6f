package ftrace

import (
	"os"
	"path/filepath"
	"testing"

	"gotest.tools/v3/assert"
	"gotest.tools/v3/fs"

	"github.com/DrC0ns0le/cyclicping/pkg/logging"
)

func readFile(t *testing.T, dir *fs.Dir, name string) string {
	t.Helper()
	b, err := os.ReadFile(dir.Join(name))
	assert.NilError(t, err)
	return string(b)
}

func TestSetupStartStop(t *testing.T) {
	dir := fs.NewDir(t, "tracing",
		fs.WithFile("tracing_on", "1\n"),
		fs.WithFile("trace", "old trace"),
		fs.WithFile("current_tracer", "nop"),
	)

	tr, err := Setup(dir.Path(), 4242, logging.Discard())
	assert.NilError(t, err)
	defer tr.Close()

	assert.Equal(t, readFile(t, dir, "tracing_on"), "0\n")
	assert.Equal(t, readFile(t, dir, "trace"), "\n")
	assert.Equal(t, readFile(t, dir, "current_tracer"), "function_graph")
	assert.Equal(t, readFile(t, dir, "set_ftrace_notrace"), "*spin_* *rcu_* preempt_count*")
	assert.Equal(t, readFile(t, dir, "set_ftrace_pid"), "4242\n")

	assert.NilError(t, tr.Start())
	tr.Stop()
	assert.Equal(t, readFile(t, dir, "tracing_on"), "0\n1\n0\n")
	assert.Equal(t, tr.TraceFile(), filepath.Join(dir.Path(), "trace"))
}

func TestSetupWithoutTracefs(t *testing.T) {
	dir := fs.NewDir(t, "empty")

	_, err := Setup(dir.Path(), 1, logging.Discard())
	assert.ErrorContains(t, err, "opening trace switch")
}
