// Copyright (c) Container2Disk Authors.
// Licensed under the MIT License.

// Package imagebuilderlib converts a container filesystem image into a
// bootable UEFI disk image.
package imagebuilderlib

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/container2disk/container2disk/imagegen/diskutils"
	"github.com/container2disk/container2disk/internal/file"
	"github.com/container2disk/container2disk/internal/logger"
	"github.com/container2disk/container2disk/internal/safechroot"
	"github.com/container2disk/container2disk/internal/safeloopback"
	"github.com/container2disk/container2disk/internal/safemount"
)

// BuildOptions configures a single image build.
type BuildOptions struct {
	// ImageName is the container image to convert.
	ImageName string

	// OutputFile is where the finished disk image is written. A .gz suffix
	// selects gzip compression.
	OutputFile string

	// DiskSizeGiB is the backing image size.
	DiskSizeGiB uint64

	// Flavor selects the OS family's install flow.
	Flavor Flavor

	// Hostname for the built image. Defaults to the flavor name.
	Hostname string

	// ExtraPackages are installed after the kernel and bootloader.
	ExtraPackages []string

	// RootPassword, when empty, is replaced by a generated password.
	RootPassword string

	// BuildDir holds the intermediate disk file and mounts. A temp
	// directory is used when empty.
	BuildDir string
}

// requiredTools are the external programs the build shells out to.
var requiredTools = []string{
	"docker",
	"losetup",
	"sfdisk",
	"partprobe",
	"udevadm",
	"mkfs.vfat",
	"mkfs.ext4",
	"mkswap",
	"blkid",
	"mount",
	"umount",
	"tar",
	"chroot",
	"grub-install",
}

// VerifyDependencies checks that every external tool the build needs is on
// PATH, before any disk or device resource is touched.
func VerifyDependencies() error {
	return verifyToolsExist(requiredTools)
}

func verifyToolsExist(tools []string) error {
	missing := []string{}
	for _, tool := range tools {
		exists, err := file.CommandExists(tool)
		if err != nil {
			return fmt.Errorf("failed to look up tool (%s):\n%w", tool, err)
		}
		if !exists {
			missing = append(missing, tool)
		}
	}

	if len(missing) != 0 {
		return &PreconditionError{
			Reason: fmt.Sprintf("required tools not found on PATH: %s", strings.Join(missing, ", ")),
		}
	}
	return nil
}

// CreateImage builds a bootable UEFI disk image from the container image.
// The build is sequential and single threaded; steps run external tools and
// block until they finish.
func CreateImage(options BuildOptions) (err error) {
	if options.ImageName == "" {
		return fmt.Errorf("image name must be specified")
	}
	if options.OutputFile == "" {
		return fmt.Errorf("output file must be specified")
	}
	if options.Hostname == "" {
		options.Hostname = string(options.Flavor)
	}

	buildDir := options.BuildDir
	if buildDir == "" {
		buildDir, err = os.MkdirTemp("", "container2disk-")
		if err != nil {
			return fmt.Errorf("failed to create build directory:\n%w", err)
		}
		defer os.RemoveAll(buildDir)
	} else {
		err = os.MkdirAll(buildDir, 0o755)
		if err != nil {
			return fmt.Errorf("failed to create build directory (%s):\n%w", buildDir, err)
		}
	}

	diskFilePath := filepath.Join(buildDir, "disk.raw")

	err = buildDiskImage(options, buildDir, diskFilePath)
	if err != nil {
		return err
	}

	return writeOutputImage(diskFilePath, options.OutputFile)
}

// buildDiskImage runs the full provisioning pipeline against the disk file.
// Resources are torn down in strict reverse acquisition order; the defers
// make the same teardown run best-effort when a step fails part-way.
func buildDiskImage(options BuildOptions, buildDir string, diskFilePath string) (err error) {
	layout, err := newDiskLayout(options.Flavor, options.DiskSizeGiB)
	if err != nil {
		return err
	}

	err = diskutils.CreateSparseDisk(diskFilePath, options.DiskSizeGiB)
	if err != nil {
		return err
	}

	loopback, err := safeloopback.NewLoopback(diskFilePath)
	if err != nil {
		return err
	}
	defer loopback.Close()

	partitions, err := layout.apply(loopback.DevicePath())
	if err != nil {
		return err
	}

	// The mount dir lives inside the build dir, which is discarded wholesale,
	// so the mount does not need to clean it up.
	rootMountDir := filepath.Join(buildDir, "mnt_loop")
	err = os.MkdirAll(rootMountDir, 0o755)
	if err != nil {
		return fmt.Errorf("failed to create mount directory (%s):\n%w", rootMountDir, err)
	}

	rootMount, err := safemount.NewMount(partitions.root, rootMountDir, "ext4", 0, "", false)
	if err != nil {
		return err
	}
	defer rootMount.Close()

	err = unpackContainerImage(options.ImageName, buildDir, rootMountDir)
	if err != nil {
		return err
	}

	probeOsRelease(rootMountDir, options.Flavor)

	// The EFI partition mounts inside the unpacked tree, so this has to wait
	// until after the unpack. The directories become part of the image.
	err = os.MkdirAll(filepath.Join(rootMountDir, "boot/efi"), 0o755)
	if err != nil {
		return fmt.Errorf("failed to create /boot/efi:\n%w", err)
	}

	efiMount, err := safemount.NewMount(partitions.efi, filepath.Join(rootMountDir, "boot/efi"),
		"vfat", 0, "", false)
	if err != nil {
		return err
	}
	defer efiMount.Close()

	err = os.MkdirAll(filepath.Join(rootMountDir, "boot/efi/EFI/BOOT"), 0o755)
	if err != nil {
		return fmt.Errorf("failed to create /boot/efi/EFI/BOOT:\n%w", err)
	}

	chroot := safechroot.NewChroot(rootMountDir, true)
	err = chroot.Initialize("", nil, nil, true)
	if err != nil {
		return err
	}
	defer chroot.Close(true)

	err = provisionImage(options, chroot, loopback.DevicePath(), partitions)
	if err != nil {
		return err
	}

	// Success path: release everything in reverse order, propagating errors.
	// The defers above become no-ops once each resource is closed.
	err = chroot.Close(true)
	if err != nil {
		return err
	}

	err = efiMount.CleanClose()
	if err != nil {
		return err
	}

	err = rootMount.CleanClose()
	if err != nil {
		return err
	}

	return loopback.CleanClose()
}

// unpackContainerImage exports the container image's filesystem and unpacks
// it into the mounted root partition.
func unpackContainerImage(imageName string, buildDir string, rootMountDir string) error {
	exportTarPath := filepath.Join(buildDir, "container.tar")

	err := exportContainerFilesystem(imageName, exportTarPath)
	if err != nil {
		return err
	}
	defer file.RemoveFileIfExists(exportTarPath)

	err = extractTar(exportTarPath, rootMountDir)
	if err != nil {
		return err
	}

	// The container's resolv.conf usually points at the container runtime's
	// embedded DNS, which is unreachable from the chroot.
	err = file.Copy("/etc/resolv.conf", filepath.Join(rootMountDir, "etc/resolv.conf"))
	if err != nil {
		return fmt.Errorf("failed to copy resolv.conf:\n%w", err)
	}

	return nil
}

// provisionImage runs the flavor install state machine, the boot
// configuration, and the root password setup inside the chroot.
func provisionImage(options BuildOptions, chroot *safechroot.Chroot, devicePath string,
	partitions *partitionDevPaths,
) error {
	installer := newFlavorInstaller(options.Flavor, chroot, options.Hostname)

	logger.Log.Infof("Updating package repositories")
	err := installer.UpdatePackageRepos()
	if err != nil {
		return err
	}

	logger.Log.Infof("Installing kernel and bootloader")
	err = installer.InstallKernelAndBootloader()
	if err != nil {
		return err
	}

	if len(options.ExtraPackages) != 0 {
		logger.Log.Infof("Installing extra packages: %v", options.ExtraPackages)
		err = installer.InstallExtraPackages(options.ExtraPackages)
		if err != nil {
			return err
		}
	}

	err = installer.ConfigureFirstBoot()
	if err != nil {
		return err
	}

	bootConfig := &bootConfigurator{
		chroot:     chroot,
		flavor:     options.Flavor,
		hostname:   options.Hostname,
		devicePath: devicePath,
		partitions: partitions,
	}
	err = bootConfig.Apply()
	if err != nil {
		return err
	}

	logger.Log.Infof("Rebuilding initramfs")
	err = installer.RebuildInitramfs()
	if err != nil {
		return err
	}

	err = verifyInitramfs(chroot.RootDir())
	if err != nil {
		return err
	}

	return setRootPassword(chroot, options.RootPassword)
}
