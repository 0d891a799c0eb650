// Copyright (c) Container2Disk Authors.
// Licensed under the MIT License.

// Package safeloopback wraps a loopback device attachment in a scoped object
// so that the device is reliably detached when the owning operation finishes.
package safeloopback

import (
	"fmt"
	"strings"

	"github.com/container2disk/container2disk/imagegen/diskutils"
	"github.com/container2disk/container2disk/internal/logger"
	"github.com/moby/sys/mountinfo"
)

// MountCheckHook replaces the mount table lookup performed before a detach.
// Tests that fake process execution install one, since the loop device they
// pretend to attach never appears in the host's mount table.
type MountCheckHook func(devicePath string) (mounted bool, err error)

var mountCheckHook MountCheckHook

// SetMountCheckHook installs or removes (nil) the mount check hook.
func SetMountCheckHook(hook MountCheckHook) {
	mountCheckHook = hook
}

// Loopback represents a disk file attached to a loop device.
type Loopback struct {
	devicePath   string
	diskFilePath string
	isAttached   bool
}

// NewLoopback attaches the disk file to a free loop device.
func NewLoopback(diskFilePath string) (*Loopback, error) {
	devicePath, err := diskutils.SetupLoopbackDevice(diskFilePath)
	if err != nil {
		return nil, err
	}

	return &Loopback{
		devicePath:   devicePath,
		diskFilePath: diskFilePath,
		isAttached:   true,
	}, nil
}

// DevicePath returns the loop device path (e.g. /dev/loop0).
func (l *Loopback) DevicePath() string {
	return l.devicePath
}

// DiskFilePath returns the backing disk file path.
func (l *Loopback) DiskFilePath() string {
	return l.diskFilePath
}

// Close detaches the loop device, logging any failure.
func (l *Loopback) Close() {
	err := l.close(false)
	if err != nil {
		logger.Log.Warnf("Failed to detach loopback device (%s): %v", l.devicePath, err)
	}
}

// CleanClose detaches the loop device and reports any failure, including when
// the detach did not actually complete.
func (l *Loopback) CleanClose() error {
	return l.close(true)
}

func (l *Loopback) close(waitForDetach bool) error {
	if !l.isAttached {
		return nil
	}

	mounted, err := devicePartitionsMounted(l.devicePath)
	if err != nil {
		return err
	}
	if mounted {
		return fmt.Errorf("refusing to detach loopback device (%s): partitions are still mounted", l.devicePath)
	}

	err = diskutils.BlockOnDiskIO()
	if err != nil {
		return err
	}

	err = diskutils.DetachLoopbackDevice(l.devicePath)
	if err != nil {
		return err
	}

	l.isAttached = false

	if waitForDetach {
		// losetup -d only requests the detach; the kernel completes it once
		// the last reference is dropped.
		err = diskutils.WaitForLoopbackToDetach(l.devicePath, l.diskFilePath)
		if err != nil {
			return err
		}
	}

	return nil
}

func devicePartitionsMounted(devicePath string) (bool, error) {
	if mountCheckHook != nil {
		return mountCheckHook(devicePath)
	}

	mounts, err := mountinfo.GetMounts(func(info *mountinfo.Info) (skip, stop bool) {
		if !strings.HasPrefix(info.Source, devicePath) {
			return true, false
		}
		return false, true
	})
	if err != nil {
		return false, fmt.Errorf("failed to read mount table:\n%w", err)
	}

	return len(mounts) != 0, nil
}
