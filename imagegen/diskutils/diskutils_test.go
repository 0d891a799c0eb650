// Copyright (c) Container2Disk Authors.
// Licensed under the MIT License.

package diskutils

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/container2disk/container2disk/internal/logger"
	"github.com/container2disk/container2disk/internal/shell"
	"github.com/stretchr/testify/assert"
)

func TestMain(m *testing.M) {
	logger.InitStderrLog()
	os.Exit(m.Run())
}

func installHook(t *testing.T, hook shell.ExecHook) {
	t.Helper()
	shell.SetExecHook(hook)
	t.Cleanup(func() {
		shell.SetExecHook(nil)
	})
}

func TestCreateSparseDisk(t *testing.T) {
	diskPath := filepath.Join(t.TempDir(), "disk.raw")

	err := CreateSparseDisk(diskPath, 2)
	assert.NoError(t, err)

	info, err := os.Stat(diskPath)
	assert.NoError(t, err)
	assert.Equal(t, int64(2)*1024*1024*1024, info.Size())
}

func TestPartitionDevPath(t *testing.T) {
	assert.Equal(t, "/dev/loop0p3", PartitionDevPath("/dev/loop0", 3))
	assert.Equal(t, "/dev/nvme0n1p2", PartitionDevPath("/dev/nvme0n1", 2))
	assert.Equal(t, "/dev/sda1", PartitionDevPath("/dev/sda", 1))
}

func TestPartitionScript(t *testing.T) {
	script := partitionScript(Partition{
		Number:      2,
		StartSector: 4096,
		SizeSectors: 409600,
		TypeGUID:    EfiSystemTypeGUID,
		Name:        "efi",
	})
	assert.Equal(t, `start=4096, size=409600, type=C12A7328-F81F-11D2-BA4B-00A0C93EC93B, name="efi"`+"\n", script)
}

func TestPartitionScriptOmitsZeroSize(t *testing.T) {
	script := partitionScript(Partition{
		Number:      3,
		StartSector: 413696,
		TypeGUID:    LinuxFilesystemTypeGUID,
		Name:        "root",
	})
	assert.Equal(t, `start=413696, type=0FC63DAF-8483-4772-8E79-3D69D8477DE4, name="root"`+"\n", script)
}

func TestGetUUID(t *testing.T) {
	installHook(t, func(program string, args []string, stdin string, env []string) (string, string, error) {
		assert.Equal(t, "blkid", program)
		return "DEVNAME=/dev/loop0p3\nUUID=0df5cd5f-bfe8-4ad4-8b66-e7d611bbb12e\nBLOCK_SIZE=4096\nTYPE=ext4\n", "", nil
	})

	uuid, err := GetUUID("/dev/loop0p3")
	assert.NoError(t, err)
	assert.Equal(t, "0df5cd5f-bfe8-4ad4-8b66-e7d611bbb12e", uuid)
}

func TestGetUUIDMissing(t *testing.T) {
	installHook(t, func(program string, args []string, stdin string, env []string) (string, string, error) {
		return "DEVNAME=/dev/loop0p1\n", "", nil
	})

	_, err := GetUUID("/dev/loop0p1")
	assert.ErrorContains(t, err, "no UUID")
}

func TestSetupLoopbackDeviceTrimsOutput(t *testing.T) {
	installHook(t, func(program string, args []string, stdin string, env []string) (string, string, error) {
		assert.Equal(t, []string{"--show", "-f", "-P", "/tmp/disk.raw"}, args)
		return "/dev/loop4\n", "", nil
	})

	devicePath, err := SetupLoopbackDevice("/tmp/disk.raw")
	assert.NoError(t, err)
	assert.Equal(t, "/dev/loop4", devicePath)
}

func TestAppendPartitionRunsKernelProbes(t *testing.T) {
	installHook(t, func(program string, args []string, stdin string, env []string) (string, string, error) {
		return "", "", nil
	})

	rereadDevices := []string{}
	waitedPaths := []string{}
	SetKernelProbeHook(&KernelProbeHook{
		RereadPartitionTable: func(devicePath string) error {
			rereadDevices = append(rereadDevices, devicePath)
			return nil
		},
		WaitForDevicePath: func(partitionDevPath string) error {
			waitedPaths = append(waitedPaths, partitionDevPath)
			return nil
		},
	})
	t.Cleanup(func() {
		SetKernelProbeHook(nil)
	})

	partitionDevPath, err := AppendPartition("/dev/loop4", Partition{
		Number:      2,
		StartSector: 4096,
		SizeSectors: 409600,
		TypeGUID:    EfiSystemTypeGUID,
		Name:        "efi",
	})
	assert.NoError(t, err)
	assert.Equal(t, "/dev/loop4p2", partitionDevPath)
	assert.Equal(t, []string{"/dev/loop4"}, rereadDevices)
	assert.Equal(t, []string{"/dev/loop4p2"}, waitedPaths)
}

func TestWaitForLoopbackToDetach(t *testing.T) {
	installHook(t, func(program string, args []string, stdin string, env []string) (string, string, error) {
		return "", "", nil
	})

	err := WaitForLoopbackToDetach("/dev/loop4", "/tmp/disk.raw")
	assert.NoError(t, err)
}
