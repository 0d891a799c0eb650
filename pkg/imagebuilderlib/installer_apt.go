// Copyright (c) Container2Disk Authors.
// Licensed under the MIT License.

package imagebuilderlib

import (
	"fmt"

	"github.com/container2disk/container2disk/internal/safechroot"
)

// aptInstaller provisions Debian and Ubuntu images with apt.
type aptInstaller struct {
	chroot        *safechroot.Chroot
	kernelPackage string
}

func (i *aptInstaller) UpdatePackageRepos() error {
	err := i.chroot.RunWithEnv(aptEnv(), "apt", "update", "-y")
	if err != nil {
		return fmt.Errorf("failed to update apt metadata:\n%w", err)
	}
	return nil
}

func (i *aptInstaller) InstallKernelAndBootloader() error {
	err := i.chroot.RunWithEnv(aptEnv(), "apt", "install", "-y",
		i.kernelPackage,
		"systemd-sysv",
		"grub2-common",
		"grub-efi-amd64-bin",
		"initramfs-tools")
	if err != nil {
		return fmt.Errorf("failed to install kernel and bootloader:\n%w", err)
	}
	return nil
}

func (i *aptInstaller) InstallExtraPackages(packages []string) error {
	if len(packages) == 0 {
		return nil
	}

	args := append([]string{"install", "-y"}, packages...)
	err := i.chroot.RunWithEnv(aptEnv(), "apt", args...)
	if err != nil {
		return fmt.Errorf("failed to install extra packages:\n%w", err)
	}
	return nil
}

func (i *aptInstaller) ConfigureFirstBoot() error {
	// systemd images need no first boot setup beyond the shared boot config.
	return nil
}

func (i *aptInstaller) RebuildInitramfs() error {
	err := i.chroot.Run("update-initramfs", "-u")
	if err != nil {
		return fmt.Errorf("failed to rebuild initramfs:\n%w", err)
	}
	return nil
}

func aptEnv() []string {
	return []string{"DEBIAN_FRONTEND=noninteractive"}
}
