// Package ftrace drives the kernel function tracer around a measurement run.
package ftrace

import (
	"os"
	"path/filepath"
	"strconv"

	"github.com/pkg/errors"

	"github.com/DrC0ns0le/cyclicping/pkg/logging"
)

const (
	DefaultRoot = "/sys/kernel/debug/tracing"

	notrace = "*spin_* *rcu_* preempt_count*"
)

// Tracer toggles tracing_on. It is off between Setup and Start.
type Tracer struct {
	root   string
	on     *os.File
	logger logging.Logger
}

// Setup selects the function_graph tracer for pid and clears the buffer.
func Setup(root string, pid int, logger logging.Logger) (*Tracer, error) {
	on, err := os.OpenFile(filepath.Join(root, "tracing_on"), os.O_WRONLY, 0)
	if err != nil {
		return nil, errors.Wrap(err, "opening trace switch")
	}
	t := &Tracer{root: root, on: on, logger: logger}
	t.Stop()

	for _, w := range []struct{ file, value string }{
		{"trace", "\n"},
		{"current_tracer", "function_graph"},
		{"set_ftrace_notrace", notrace},
		{"set_ftrace_pid", strconv.Itoa(pid) + "\n"},
	} {
		if err := os.WriteFile(filepath.Join(root, w.file), []byte(w.value), 0o644); err != nil {
			on.Close()
			return nil, errors.Wrapf(err, "writing %s", w.file)
		}
	}
	return t, nil
}

func (t *Tracer) Start() error {
	_, err := t.on.WriteString("1\n")
	return errors.Wrap(err, "starting trace")
}

// Stop halts tracing. It is called when a sample breaks the trace
// threshold and at the end of the run.
func (t *Tracer) Stop() {
	if _, err := t.on.WriteString("0\n"); err != nil {
		t.logger.Warnf("stopping trace: %v", err)
	}
}

// TraceFile is where the recorded trace can be read.
func (t *Tracer) TraceFile() string {
	return filepath.Join(t.root, "trace")
}

func (t *Tracer) Close() error {
	return t.on.Close()
}
