// Copyright (c) Container2Disk Authors.
// Licensed under the MIT License.

package imagebuilderlib

import (
	"fmt"
	"os"
	"strings"

	"github.com/container2disk/container2disk/imagegen/diskutils"
	"github.com/container2disk/container2disk/internal/file"
	"github.com/container2disk/container2disk/internal/logger"
	"github.com/container2disk/container2disk/internal/safechroot"
	"github.com/container2disk/container2disk/internal/shell"
)

const hostsTemplate = `127.0.0.1	localhost localhost.localdomain
127.0.1.1	%s

# The following lines are desirable for IPv6 capable hosts
::1     ip6-localhost ip6-loopback
fe00::0 ip6-localnet
ff00::0 ip6-mcastprefix
ff02::1 ip6-allnodes
ff02::2 ip6-allrouters
`

// bootConfigurator writes the configuration that makes the unpacked
// filesystem bootable: fstab, hostname, hosts, and GRUB.
type bootConfigurator struct {
	chroot     *safechroot.Chroot
	flavor     Flavor
	hostname   string
	devicePath string
	partitions *partitionDevPaths
}

func (b *bootConfigurator) Apply() error {
	err := b.writeFstab()
	if err != nil {
		return err
	}

	err = b.writeHostname()
	if err != nil {
		return err
	}

	return b.installGrub()
}

// writeFstab writes /etc/fstab referencing every device by filesystem UUID.
// Device paths would be wrong on first boot: the partitions currently live
// on a loop device.
func (b *bootConfigurator) writeFstab() error {
	logger.Log.Infof("Writing fstab")

	rootUUID, err := diskutils.GetUUID(b.partitions.root)
	if err != nil {
		return err
	}

	efiUUID, err := diskutils.GetUUID(b.partitions.efi)
	if err != nil {
		return err
	}

	fstab := strings.Builder{}
	fmt.Fprintf(&fstab, "UUID=%s / ext4 defaults,errors=remount-ro 0 1\n", rootUUID)
	fmt.Fprintf(&fstab, "UUID=%s /boot/efi vfat defaults 0 2\n", efiUUID)

	if b.flavor == FlavorAlpine {
		fmt.Fprintf(&fstab, "tmpfs /tmp tmpfs nosuid,nodev 0 0\n")
	}

	// Small disks have no swap partition.
	if b.partitions.swap != "" {
		swapUUID, err := diskutils.GetUUID(b.partitions.swap)
		if err != nil {
			return err
		}
		fmt.Fprintf(&fstab, "UUID=%s swap swap defaults 0 0\n", swapUUID)
	}

	return file.Write(fstab.String(), b.chroot.HostPathTo("etc/fstab"))
}

func (b *bootConfigurator) writeHostname() error {
	logger.Log.Infof("Writing hostname (%s)", b.hostname)

	err := file.Write(b.hostname+"\n", b.chroot.HostPathTo("etc/hostname"))
	if err != nil {
		return err
	}

	return file.Write(fmt.Sprintf(hostsTemplate, b.hostname), b.chroot.HostPathTo("etc/hosts"))
}

func (b *bootConfigurator) installGrub() error {
	logger.Log.Infof("Installing GRUB")

	rootDir := b.chroot.RootDir()

	err := os.MkdirAll(b.chroot.HostPathTo("boot/grub"), 0o755)
	if err != nil {
		return fmt.Errorf("failed to create grub directory:\n%w", err)
	}

	// grub-install probes devices through the device map; point hd0 at the
	// loop device so probing never touches the host's disks.
	err = file.Write(fmt.Sprintf("(hd0) %s\n", b.devicePath),
		b.chroot.HostPathTo("boot/grub/device.map"))
	if err != nil {
		return err
	}

	err = os.MkdirAll(b.chroot.HostPathTo("etc/default"), 0o755)
	if err != nil {
		return fmt.Errorf("failed to create /etc/default:\n%w", err)
	}

	rootUUID, err := diskutils.GetUUID(b.partitions.root)
	if err != nil {
		return err
	}

	grubDefaults := strings.Builder{}
	fmt.Fprintf(&grubDefaults, "GRUB_DEVICE=UUID=%s\n", rootUUID)
	fmt.Fprintf(&grubDefaults, "GRUB_TERMINAL=\"serial console\"\n")
	fmt.Fprintf(&grubDefaults, "GRUB_CMDLINE_LINUX_DEFAULT=\"%s\"\n", b.kernelCommandLine())

	err = file.Write(grubDefaults.String(), b.chroot.HostPathTo("etc/default/grub"))
	if err != nil {
		return err
	}

	err = shell.ExecuteLiveWithErr(1, "grub-install",
		"--target=x86_64-efi",
		fmt.Sprintf("--efi-directory=%s/boot/efi/", rootDir),
		fmt.Sprintf("--root-directory=%s", rootDir),
		"--no-floppy",
		b.devicePath)
	if err != nil {
		return fmt.Errorf("failed to install grub:\n%w", err)
	}

	err = b.chroot.Run("grub-mkconfig", "-o", "/boot/grub/grub.cfg")
	if err != nil {
		return fmt.Errorf("failed to generate grub config:\n%w", err)
	}

	// The loop device does not exist in the final image.
	err = b.chroot.Run("rm", "/boot/grub/device.map")
	if err != nil {
		return fmt.Errorf("failed to remove grub device map:\n%w", err)
	}

	return nil
}

func (b *bootConfigurator) kernelCommandLine() string {
	if b.flavor == FlavorAlpine {
		return "quiet splash console=tty0 console=ttyS0,115200 rootfstype=ext4 modules=sd-mod,usb-storage,nvme,ext4"
	}
	return "quiet splash console=ttyS0,115200 init=/lib/systemd/systemd-bootchart"
}
