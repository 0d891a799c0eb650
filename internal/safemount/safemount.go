// Copyright (c) Container2Disk Authors.
// Licensed under the MIT License.

// Package safemount wraps a filesystem mount in a scoped object so that it is
// reliably unmounted when the owning operation finishes.
package safemount

import (
	"fmt"
	"os"

	"github.com/container2disk/container2disk/internal/logger"
	"github.com/container2disk/container2disk/internal/shell"
	"golang.org/x/sys/unix"
)

// Mount represents an active filesystem mount.
type Mount struct {
	target        string
	isMounted     bool
	removeOnClose bool
}

// NewMount mounts source at target and returns an object that tracks the
// mount. Flags is a bitmask of unix.MS_* values; only MS_BIND is recognized.
// When makeAndDelete is set, a missing target directory is created before
// mounting and removed again after the final unmount. A target that already
// existed is always left in place.
func NewMount(source, target, fstype string, flags uintptr, data string, makeAndDelete bool) (*Mount, error) {
	mount := &Mount{
		target: target,
	}

	if makeAndDelete {
		_, err := os.Stat(target)
		if os.IsNotExist(err) {
			err = os.MkdirAll(target, 0o755)
			if err != nil {
				return nil, fmt.Errorf("failed to create mount directory (%s):\n%w", target, err)
			}
			mount.removeOnClose = true
		} else if err != nil {
			return nil, fmt.Errorf("failed to stat mount directory (%s):\n%w", target, err)
		}
	}

	args := []string{}
	if flags&unix.MS_BIND != 0 {
		args = append(args, "--bind")
	}
	if fstype != "" {
		args = append(args, "-t", fstype)
	}
	if data != "" {
		args = append(args, "-o", data)
	}
	args = append(args, source, target)

	logger.Log.Debugf("Mounting (%s) at (%s)", source, target)

	err := shell.ExecuteLiveWithErr(1, "mount", args...)
	if err != nil {
		if mount.removeOnClose {
			os.Remove(target)
		}
		return nil, fmt.Errorf("failed to mount (%s) at (%s):\n%w", source, target, err)
	}

	mount.isMounted = true
	return mount, nil
}

// Target returns the mount's target directory.
func (m *Mount) Target() string {
	return m.target
}

// Close unmounts the target, logging any failure. Use during cleanup paths
// where an unmount error must not mask the original error.
func (m *Mount) Close() {
	err := m.close()
	if err != nil {
		logger.Log.Warnf("Failed to unmount (%s): %v", m.target, err)
	}
}

// CleanClose unmounts the target and reports any failure.
func (m *Mount) CleanClose() error {
	return m.close()
}

func (m *Mount) close() error {
	if !m.isMounted {
		return nil
	}

	logger.Log.Debugf("Unmounting (%s)", m.target)

	// Flush writes before the unmount so a wedged unmount can't leave the
	// filesystem with dirty pages.
	_, stderr, err := shell.Execute("sync")
	if err != nil {
		return fmt.Errorf("failed to sync before unmounting (%s):\n%v", m.target, stderr)
	}

	err = shell.ExecuteLiveWithErr(1, "umount", m.target)
	if err != nil {
		return fmt.Errorf("failed to unmount (%s):\n%w", m.target, err)
	}

	m.isMounted = false

	if m.removeOnClose {
		err = os.Remove(m.target)
		if err != nil {
			return fmt.Errorf("failed to remove mount directory (%s):\n%w", m.target, err)
		}
	}

	return nil
}
