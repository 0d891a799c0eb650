// Copyright (c) Container2Disk Authors.
// Licensed under the MIT License.

package imagebuilderlib

import (
	"os"
	"strings"
	"testing"

	"github.com/container2disk/container2disk/imagegen/diskutils"
	"github.com/container2disk/container2disk/internal/logger"
	"github.com/container2disk/container2disk/internal/safechroot"
	"github.com/container2disk/container2disk/internal/safeloopback"
	"github.com/container2disk/container2disk/internal/shell"
)

func TestMain(m *testing.M) {
	logger.InitStderrLog()
	os.Exit(m.Run())
}

type execCall struct {
	program string
	args    []string
	stdin   string
	env     []string
}

func (c execCall) String() string {
	return strings.Join(append([]string{c.program}, c.args...), " ")
}

// fakeExecutor intercepts all external program launches and records them in
// order. A handler supplies fake output per call; calls it leaves alone
// succeed with empty output.
type fakeExecutor struct {
	calls   []execCall
	handler func(call execCall) (stdout string, stderr string, err error)
}

func installFakeExecutor(t *testing.T, handler func(call execCall) (string, string, error)) *fakeExecutor {
	t.Helper()

	fake := &fakeExecutor{handler: handler}
	shell.SetExecHook(func(program string, args []string, stdin string, env []string) (string, string, error) {
		call := execCall{
			program: program,
			args:    append([]string(nil), args...),
			stdin:   stdin,
			env:     append([]string(nil), env...),
		}
		fake.calls = append(fake.calls, call)

		if fake.handler != nil {
			return fake.handler(call)
		}
		return "", "", nil
	})
	// No real block devices exist behind the faked losetup and sfdisk calls,
	// so the kernel-side probes are faked out too.
	diskutils.SetKernelProbeHook(&diskutils.KernelProbeHook{})
	safeloopback.SetMountCheckHook(func(devicePath string) (bool, error) {
		return false, nil
	})
	t.Cleanup(func() {
		shell.SetExecHook(nil)
		diskutils.SetKernelProbeHook(nil)
		safeloopback.SetMountCheckHook(nil)
	})

	return fake
}

// callIndexes returns the indexes, in order, of calls whose rendered command
// line contains the substring.
func (f *fakeExecutor) callIndexes(substring string) []int {
	indexes := []int{}
	for i, call := range f.calls {
		if strings.Contains(call.String(), substring) {
			indexes = append(indexes, i)
		}
	}
	return indexes
}

func (f *fakeExecutor) hasCall(substring string) bool {
	return len(f.callIndexes(substring)) != 0
}

func (f *fakeExecutor) commandLines() []string {
	lines := make([]string, len(f.calls))
	for i, call := range f.calls {
		lines[i] = call.String()
	}
	return lines
}

// newTestChroot returns a chroot over a temp directory without initializing
// any mounts. Commands run through it hit the fake executor.
func newTestChroot(t *testing.T) *safechroot.Chroot {
	t.Helper()
	return safechroot.NewChroot(t.TempDir(), true)
}
