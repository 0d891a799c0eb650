// Copyright (c) Container2Disk Authors.
// Licensed under the MIT License.

// Package diskutils provides functions for creating and manipulating disk
// images, loopback devices, and partitions.
package diskutils

import (
	"fmt"
	"os"
	"strings"
	"time"
	"unicode"

	"github.com/container2disk/container2disk/internal/file"
	"github.com/container2disk/container2disk/internal/logger"
	"github.com/container2disk/container2disk/internal/retry"
	"github.com/container2disk/container2disk/internal/shell"
	"golang.org/x/sys/unix"
)

const (
	// SectorSize is the logical sector size assumed for all layout math.
	SectorSize = 512

	// BiosBootTypeGUID marks the BIOS boot partition holding GRUB's core image.
	BiosBootTypeGUID = "21686148-6449-6E6F-744E-656564454649"

	// EfiSystemTypeGUID marks the EFI system partition.
	EfiSystemTypeGUID = "C12A7328-F81F-11D2-BA4B-00A0C93EC93B"

	// LinuxFilesystemTypeGUID marks a generic Linux data partition.
	LinuxFilesystemTypeGUID = "0FC63DAF-8483-4772-8E79-3D69D8477DE4"

	// LinuxSwapTypeGUID marks a Linux swap partition.
	LinuxSwapTypeGUID = "0657FD6D-A4AB-43C4-84E5-0933C84B4F4F"
)

const (
	partitionNodeAttempts = 10
	partitionNodeSleep    = 1 * time.Second

	loopbackDetachAttempts = 8
	loopbackDetachSleep    = 100 * time.Millisecond
)

// KernelProbeHook replaces the kernel-side probes that accompany partition
// table changes: the BLKRRPART ioctl and the wait for partition device nodes
// to appear. Tests that fake process execution install one, since no real
// block device exists there. A nil field skips that probe.
type KernelProbeHook struct {
	RereadPartitionTable func(devicePath string) error
	WaitForDevicePath    func(partitionDevPath string) error
}

var kernelProbeHook *KernelProbeHook

// SetKernelProbeHook installs or removes (nil) the kernel probe hook.
func SetKernelProbeHook(hook *KernelProbeHook) {
	kernelProbeHook = hook
}

// Partition describes a single GPT partition to append to a disk.
type Partition struct {
	// Number is the 1-based partition index on the disk.
	Number int

	// StartSector is the first sector of the partition.
	StartSector uint64

	// SizeSectors is the partition length. Zero means extend to the largest
	// available region.
	SizeSectors uint64

	// TypeGUID is the GPT partition type.
	TypeGUID string

	// Name is the GPT partition label.
	Name string
}

// CreateSparseDisk creates an empty sparse backing file of the given size.
// An existing file at the path is truncated.
func CreateSparseDisk(diskFilePath string, sizeGiB uint64) error {
	logger.Log.Debugf("Creating sparse disk file (%s) of size (%d GiB)", diskFilePath, sizeGiB)

	diskFile, err := os.Create(diskFilePath)
	if err != nil {
		return fmt.Errorf("failed to create disk file (%s):\n%w", diskFilePath, err)
	}
	defer diskFile.Close()

	err = diskFile.Truncate(int64(sizeGiB) * 1024 * 1024 * 1024)
	if err != nil {
		return fmt.Errorf("failed to size disk file (%s):\n%w", diskFilePath, err)
	}

	return diskFile.Close()
}

// SetupLoopbackDevice attaches the disk file to a free loop device with
// partition scanning enabled and returns the device path.
func SetupLoopbackDevice(diskFilePath string) (devicePath string, err error) {
	stdout, stderr, err := shell.Execute("losetup", "--show", "-f", "-P", diskFilePath)
	if err != nil {
		return "", fmt.Errorf("failed to attach loopback device for (%s):\n%v", diskFilePath, stderr)
	}

	devicePath = strings.TrimSpace(stdout)
	logger.Log.Debugf("Attached loopback device (%s) for (%s)", devicePath, diskFilePath)
	return devicePath, nil
}

// DetachLoopbackDevice detaches the loop device.
func DetachLoopbackDevice(devicePath string) error {
	logger.Log.Debugf("Detaching loopback device (%s)", devicePath)

	_, stderr, err := shell.Execute("losetup", "-d", devicePath)
	if err != nil {
		return fmt.Errorf("failed to detach loopback device (%s):\n%v", devicePath, stderr)
	}
	return nil
}

// WaitForLoopbackToDetach polls until the kernel no longer reports the loop
// device as attached to the disk file.
func WaitForLoopbackToDetach(devicePath string, diskFilePath string) error {
	err := retry.RunWithExpBackoff(func() error {
		stdout, stderr, err := shell.Execute("losetup", "-j", diskFilePath)
		if err != nil {
			return fmt.Errorf("failed to query loopback devices for (%s):\n%v", diskFilePath, stderr)
		}

		if strings.Contains(stdout, devicePath+":") {
			return fmt.Errorf("loopback device (%s) is still attached", devicePath)
		}
		return nil
	}, loopbackDetachAttempts, loopbackDetachSleep)
	if err != nil {
		return fmt.Errorf("timed out waiting for loopback device (%s) to detach:\n%w", devicePath, err)
	}
	return nil
}

// BlockOnDiskIO flushes all outstanding writes to disk.
func BlockOnDiskIO() error {
	_, stderr, err := shell.Execute("sync")
	if err != nil {
		return fmt.Errorf("failed to sync:\n%v", stderr)
	}
	return nil
}

// CreatePartitionTable writes an empty GPT label to the device.
func CreatePartitionTable(devicePath string) error {
	logger.Log.Debugf("Creating GPT label on (%s)", devicePath)

	_, stderr, err := shell.ExecuteWithStdin("label: gpt\n", "sfdisk", devicePath)
	if err != nil {
		return fmt.Errorf("failed to create GPT label on (%s):\n%v", devicePath, stderr)
	}
	return nil
}

// AppendPartition adds a partition to the device's existing table and waits
// for its device node to appear. Returns the partition's device path.
//
// Each partition is committed separately. Nothing rolls back partitions that
// were already written if a later append fails.
func AppendPartition(devicePath string, partition Partition) (partitionDevPath string, err error) {
	script := partitionScript(partition)
	logger.Log.Debugf("Appending partition to (%s): %s", devicePath, strings.TrimSpace(script))

	_, stderr, err := shell.ExecuteWithStdin(script, "sfdisk", "--append", devicePath)
	if err != nil {
		return "", fmt.Errorf("failed to append partition (%d) to (%s):\n%v", partition.Number, devicePath, stderr)
	}

	err = RefreshPartitions(devicePath)
	if err != nil {
		return "", err
	}

	partitionDevPath = PartitionDevPath(devicePath, partition.Number)
	err = waitForDevicePath(partitionDevPath)
	if err != nil {
		return "", err
	}

	return partitionDevPath, nil
}

func partitionScript(partition Partition) string {
	fields := []string{fmt.Sprintf("start=%d", partition.StartSector)}
	if partition.SizeSectors != 0 {
		fields = append(fields, fmt.Sprintf("size=%d", partition.SizeSectors))
	}
	fields = append(fields, fmt.Sprintf("type=%s", partition.TypeGUID))
	if partition.Name != "" {
		fields = append(fields, fmt.Sprintf("name=\"%s\"", partition.Name))
	}
	return strings.Join(fields, ", ") + "\n"
}

// PartitionDevPath returns the device path of the numbered partition. Devices
// whose name ends in a digit (loop0, nvme0n1) use a "p" separator.
func PartitionDevPath(devicePath string, number int) string {
	if devicePath != "" && unicode.IsDigit(rune(devicePath[len(devicePath)-1])) {
		return fmt.Sprintf("%sp%d", devicePath, number)
	}
	return fmt.Sprintf("%s%d", devicePath, number)
}

// RefreshPartitions asks the kernel to re-read the device's partition table
// and waits for udev to finish processing the resulting events.
func RefreshPartitions(devicePath string) error {
	err := rereadPartitionTable(devicePath)
	if err != nil {
		// The ioctl fails with EBUSY when a partition is held open. partprobe
		// uses BLKPG to update partitions one at a time, which tolerates that.
		logger.Log.Debugf("Partition table re-read of (%s) failed (%v), falling back to partprobe", devicePath, err)

		_, stderr, probeErr := shell.Execute("partprobe", "-s", devicePath)
		if probeErr != nil {
			return fmt.Errorf("failed to re-read partition table of (%s):\n%v", devicePath, stderr)
		}
	}

	_, stderr, err := shell.Execute("udevadm", "settle")
	if err != nil {
		return fmt.Errorf("failed to wait for udev to settle:\n%v", stderr)
	}
	return nil
}

func rereadPartitionTable(devicePath string) error {
	if kernelProbeHook != nil {
		if kernelProbeHook.RereadPartitionTable == nil {
			return nil
		}
		return kernelProbeHook.RereadPartitionTable(devicePath)
	}

	device, err := os.OpenFile(devicePath, os.O_RDONLY, 0)
	if err != nil {
		return fmt.Errorf("failed to open device (%s):\n%w", devicePath, err)
	}
	defer device.Close()

	return retry.Run(func() error {
		_, err := unix.IoctlRetInt(int(device.Fd()), unix.BLKRRPART)
		return err
	}, 3, 500*time.Millisecond)
}

func waitForDevicePath(devPath string) error {
	if kernelProbeHook != nil {
		if kernelProbeHook.WaitForDevicePath == nil {
			return nil
		}
		return kernelProbeHook.WaitForDevicePath(devPath)
	}

	err := retry.Run(func() error {
		exists, err := file.PathExists(devPath)
		if err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("device node (%s) does not exist yet", devPath)
		}
		return nil
	}, partitionNodeAttempts, partitionNodeSleep)
	if err != nil {
		return fmt.Errorf("timed out waiting for device node (%s):\n%w", devPath, err)
	}
	return nil
}

// FormatFat32 formats the partition as FAT32.
func FormatFat32(partitionDevPath string) error {
	logger.Log.Debugf("Formatting (%s) as FAT32", partitionDevPath)

	err := shell.ExecuteLiveWithErr(1, "mkfs.vfat", "-F", "32", partitionDevPath)
	if err != nil {
		return fmt.Errorf("failed to format (%s) as FAT32:\n%w", partitionDevPath, err)
	}
	return nil
}

// FormatExt4 formats the partition as ext4.
func FormatExt4(partitionDevPath string) error {
	logger.Log.Debugf("Formatting (%s) as ext4", partitionDevPath)

	err := shell.ExecuteLiveWithErr(1, "mkfs.ext4", "-q", partitionDevPath)
	if err != nil {
		return fmt.Errorf("failed to format (%s) as ext4:\n%w", partitionDevPath, err)
	}
	return nil
}

// FormatSwap initializes the partition as swap space.
func FormatSwap(partitionDevPath string) error {
	logger.Log.Debugf("Formatting (%s) as swap", partitionDevPath)

	err := shell.ExecuteLiveWithErr(1, "mkswap", partitionDevPath)
	if err != nil {
		return fmt.Errorf("failed to format (%s) as swap:\n%w", partitionDevPath, err)
	}
	return nil
}

// GetUUID returns the filesystem UUID of the formatted partition.
func GetUUID(partitionDevPath string) (string, error) {
	stdout, stderr, err := shell.Execute("blkid", "-o", "export", partitionDevPath)
	if err != nil {
		return "", fmt.Errorf("failed to query blkid for (%s):\n%v", partitionDevPath, stderr)
	}

	for _, line := range strings.Split(stdout, "\n") {
		if value, found := strings.CutPrefix(line, "UUID="); found {
			return strings.TrimSpace(value), nil
		}
	}

	return "", fmt.Errorf("no UUID reported for (%s)", partitionDevPath)
}
