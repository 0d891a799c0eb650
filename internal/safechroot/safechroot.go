// Copyright (c) Container2Disk Authors.
// Licensed under the MIT License.

// Package safechroot manages a chroot environment: populating its root
// directory, maintaining an ordered stack of mounts inside it, and running
// programs within it.
package safechroot

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/container2disk/container2disk/internal/logger"
	"github.com/container2disk/container2disk/internal/safemount"
	"github.com/container2disk/container2disk/internal/shell"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// MountPoint describes a mount to establish inside a chroot. Target is
// relative to the chroot's root directory.
type MountPoint struct {
	source string
	target string
	fstype string
	flags  uintptr
	data   string
}

// NewMountPoint creates a mount point description.
func NewMountPoint(source, target, fstype string, flags uintptr, data string) *MountPoint {
	return &MountPoint{
		source: source,
		target: target,
		fstype: fstype,
		flags:  flags,
		data:   data,
	}
}

// Chroot represents a chroot environment rooted at a directory.
type Chroot struct {
	rootDir       string
	isExistingDir bool
	mounts        []*safemount.Mount
	releaseGuards []func() error
}

// NewChroot creates a new Chroot rooted at rootDir. When isExistingDir is
// set, the directory is expected to already exist and is left on disk when
// the chroot is closed.
func NewChroot(rootDir string, isExistingDir bool) *Chroot {
	return &Chroot{
		rootDir:       rootDir,
		isExistingDir: isExistingDir,
	}
}

// RootDir returns the chroot's root directory on the host.
func (c *Chroot) RootDir() string {
	return c.rootDir
}

// HostPathTo returns the host path of a path inside the chroot.
func (c *Chroot) HostPathTo(chrootPath ...string) string {
	return filepath.Join(append([]string{c.rootDir}, chrootPath...)...)
}

// Initialize prepares the chroot: creates the root directory (unless it
// already exists), extracts tarPath into it (when non-empty), creates
// extraDirectories, and establishes the requested mounts in order. When
// includeDefaultMounts is set, /dev, /proc, and /sys from the host are
// mounted ahead of extraMountPoints.
func (c *Chroot) Initialize(tarPath string, extraDirectories []string, extraMountPoints []*MountPoint, includeDefaultMounts bool) (err error) {
	if !c.isExistingDir {
		err = os.MkdirAll(c.rootDir, 0o755)
		if err != nil {
			return fmt.Errorf("failed to create chroot directory (%s):\n%w", c.rootDir, err)
		}
	}

	defer func() {
		if err != nil {
			cleanupErr := c.Close(c.isExistingDir)
			if cleanupErr != nil {
				logger.Log.Warnf("Failed to cleanup chroot (%s): %v", c.rootDir, cleanupErr)
			}
		}
	}()

	if tarPath != "" {
		err = c.extractTar(tarPath)
		if err != nil {
			return err
		}
	}

	for _, dir := range extraDirectories {
		err = os.MkdirAll(filepath.Join(c.rootDir, dir), 0o755)
		if err != nil {
			return fmt.Errorf("failed to create chroot directory (%s):\n%w", dir, err)
		}
	}

	allMountPoints := []*MountPoint{}
	if includeDefaultMounts {
		allMountPoints = append(allMountPoints, defaultMountPoints()...)
	}
	allMountPoints = append(allMountPoints, extraMountPoints...)

	for _, mountPoint := range allMountPoints {
		target := filepath.Join(c.rootDir, mountPoint.target)

		mount, mountErr := safemount.NewMount(mountPoint.source, target, mountPoint.fstype,
			mountPoint.flags, mountPoint.data, true)
		if mountErr != nil {
			err = mountErr
			return err
		}

		c.mounts = append(c.mounts, mount)
	}

	return nil
}

func defaultMountPoints() []*MountPoint {
	return []*MountPoint{
		NewMountPoint("/dev", "/dev", "", unix.MS_BIND, ""),
		NewMountPoint("/proc", "/proc", "", unix.MS_BIND, ""),
		NewMountPoint("/sys", "/sys", "", unix.MS_BIND, ""),
	}
}

func (c *Chroot) extractTar(tarPath string) error {
	logger.Log.Debugf("Extracting (%s) into chroot (%s)", tarPath, c.rootDir)

	err := shell.ExecuteLiveWithErr(1, "tar", "--sparse", "-C", c.rootDir, "-xf", tarPath)
	if err != nil {
		return fmt.Errorf("failed to extract (%s) into (%s):\n%w", tarPath, c.rootDir, err)
	}
	return nil
}

// Run executes the program inside the chroot, streaming its output to the
// log.
func (c *Chroot) Run(program string, args ...string) error {
	return c.builder(program, args...).Execute()
}

// RunWithEnv executes the program inside the chroot with extra KEY=VALUE
// environment variables.
func (c *Chroot) RunWithEnv(env []string, program string, args ...string) error {
	return c.builder(program, args...).EnvironmentVariables(env).Execute()
}

// RunWithStdin executes the program inside the chroot with the given string
// piped to its stdin.
func (c *Chroot) RunWithStdin(stdin string, program string, args ...string) error {
	return c.builder(program, args...).Stdin(stdin).Execute()
}

func (c *Chroot) builder(program string, args ...string) shell.ExecBuilder {
	chrootArgs := append([]string{c.rootDir, program}, args...)
	return shell.NewExecBuilder("chroot", chrootArgs...).
		LogLevel(logrus.DebugLevel, logrus.DebugLevel).
		ErrorStderrLines(1)
}

// AddReleaseGuard registers a function that must run before the chroot's
// mounts are released, e.g. stopping services that hold /dev open.
func (c *Chroot) AddReleaseGuard(guard func() error) {
	c.releaseGuards = append(c.releaseGuards, guard)
}

// RunReleaseGuards runs and clears any registered release guards. Guards are
// also run automatically by ReleaseMounts and Close; running them earlier
// lets callers order guard side effects before further chroot commands.
func (c *Chroot) RunReleaseGuards() error {
	guards := c.releaseGuards
	c.releaseGuards = nil

	for _, guard := range guards {
		err := guard()
		if err != nil {
			return err
		}
	}
	return nil
}

// ReleaseMounts runs any pending release guards, then unmounts all of the
// chroot's mounts in reverse order while leaving the root directory in
// place. Programs can still be run in the chroot afterwards, without the
// host bind mounts.
func (c *Chroot) ReleaseMounts() error {
	err := c.RunReleaseGuards()
	if err != nil {
		return err
	}
	return c.releaseMounts()
}

func (c *Chroot) releaseMounts() error {
	for i := len(c.mounts) - 1; i >= 0; i-- {
		err := c.mounts[i].CleanClose()
		if err != nil {
			return err
		}
		c.mounts = c.mounts[:i]
	}
	return nil
}

// Close unmounts the chroot's mounts in reverse order and, unless
// leaveOnDisk is set, removes the root directory.
func (c *Chroot) Close(leaveOnDisk bool) error {
	err := c.ReleaseMounts()
	if err != nil {
		return err
	}

	if !leaveOnDisk {
		err = os.RemoveAll(c.rootDir)
		if err != nil {
			return fmt.Errorf("failed to remove chroot directory (%s):\n%w", c.rootDir, err)
		}
	}

	return nil
}
