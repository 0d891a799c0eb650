// Copyright (c) Container2Disk Authors.
// Licensed under the MIT License.

package imagebuilderlib

import (
	"github.com/container2disk/container2disk/internal/safechroot"
)

// flavorInstaller turns an unpacked container filesystem into a bootable OS.
// The pipeline calls the methods in declaration order; each runs inside the
// image's chroot.
type flavorInstaller interface {
	// UpdatePackageRepos refreshes the package manager's metadata.
	UpdatePackageRepos() error

	// InstallKernelAndBootloader installs the kernel, init system, GRUB, and
	// initramfs tooling.
	InstallKernelAndBootloader() error

	// InstallExtraPackages installs the caller-requested packages.
	InstallExtraPackages(packages []string) error

	// ConfigureFirstBoot performs flavor-specific first boot setup, such as
	// service runlevels and console configuration.
	ConfigureFirstBoot() error

	// RebuildInitramfs regenerates the initramfs to include the drivers the
	// image needs to boot from a disk.
	RebuildInitramfs() error
}

func newFlavorInstaller(flavor Flavor, chroot *safechroot.Chroot, hostname string) flavorInstaller {
	switch flavor {
	case FlavorAlpine:
		return &apkInstaller{chroot: chroot, hostname: hostname}
	case FlavorUbuntu:
		return &aptInstaller{chroot: chroot, kernelPackage: "linux-image-generic"}
	default:
		return &aptInstaller{chroot: chroot, kernelPackage: "linux-image-amd64"}
	}
}
