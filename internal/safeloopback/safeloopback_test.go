// Copyright (c) Container2Disk Authors.
// Licensed under the MIT License.

package safeloopback

import (
	"os"
	"strings"
	"testing"

	"github.com/container2disk/container2disk/internal/logger"
	"github.com/container2disk/container2disk/internal/shell"
	"github.com/stretchr/testify/assert"
)

func TestMain(m *testing.M) {
	logger.InitStderrLog()
	os.Exit(m.Run())
}

func recordCommands(t *testing.T) *[]string {
	t.Helper()

	commands := &[]string{}
	shell.SetExecHook(func(program string, args []string, stdin string, env []string) (string, string, error) {
		line := strings.Join(append([]string{program}, args...), " ")
		*commands = append(*commands, line)

		if program == "losetup" && args[0] == "--show" {
			return "/dev/loop5\n", "", nil
		}
		return "", "", nil
	})
	SetMountCheckHook(func(devicePath string) (bool, error) {
		return false, nil
	})
	t.Cleanup(func() {
		shell.SetExecHook(nil)
		SetMountCheckHook(nil)
	})

	return commands
}

func TestLoopbackAttachAndCleanClose(t *testing.T) {
	commands := recordCommands(t)

	loopback, err := NewLoopback("/tmp/disk.raw")
	assert.NoError(t, err)
	assert.Equal(t, "/dev/loop5", loopback.DevicePath())
	assert.Equal(t, "/tmp/disk.raw", loopback.DiskFilePath())

	err = loopback.CleanClose()
	assert.NoError(t, err)

	assert.Equal(t, []string{
		"losetup --show -f -P /tmp/disk.raw",
		"sync",
		"losetup -d /dev/loop5",
		"losetup -j /tmp/disk.raw",
	}, *commands)
}

func TestLoopbackRefusesDetachWhileMounted(t *testing.T) {
	commands := recordCommands(t)
	SetMountCheckHook(func(devicePath string) (bool, error) {
		return true, nil
	})

	loopback, err := NewLoopback("/tmp/disk.raw")
	assert.NoError(t, err)

	err = loopback.CleanClose()
	assert.ErrorContains(t, err, "partitions are still mounted")

	for _, command := range *commands {
		assert.NotContains(t, command, "losetup -d")
	}
}

func TestLoopbackCloseIsIdempotent(t *testing.T) {
	commands := recordCommands(t)

	loopback, err := NewLoopback("/tmp/disk.raw")
	assert.NoError(t, err)

	err = loopback.CleanClose()
	assert.NoError(t, err)

	commandCount := len(*commands)
	loopback.Close()
	assert.Len(t, *commands, commandCount, "second close must not re-run losetup")
}
