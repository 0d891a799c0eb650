// Copyright (c) Container2Disk Authors.
// Licensed under the MIT License.

package imagebuilderlib

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/container2disk/container2disk/internal/file"
	"github.com/container2disk/container2disk/internal/safechroot"
	"github.com/stretchr/testify/assert"
)

func fakeBlkidHandler(call execCall) (string, string, error) {
	if call.program == "blkid" {
		dev := call.args[len(call.args)-1]
		return fmt.Sprintf("DEVNAME=%s\nUUID=uuid-%s\n", dev, filepath.Base(dev)), "", nil
	}
	return "", "", nil
}

func newTestBootConfigurator(t *testing.T, flavor Flavor) (*bootConfigurator, string) {
	t.Helper()

	rootDir := t.TempDir()
	err := os.MkdirAll(filepath.Join(rootDir, "etc"), 0o755)
	assert.NoError(t, err)

	configurator := &bootConfigurator{
		chroot:     safechroot.NewChroot(rootDir, true),
		flavor:     flavor,
		hostname:   "testhost",
		devicePath: "/dev/loop7",
		partitions: &partitionDevPaths{
			efi:  "/dev/loop7p2",
			root: "/dev/loop7p3",
			swap: "/dev/loop7p4",
		},
	}
	return configurator, rootDir
}

func TestWriteFstabDebian(t *testing.T) {
	installFakeExecutor(t, fakeBlkidHandler)

	configurator, rootDir := newTestBootConfigurator(t, FlavorDebian)
	err := configurator.writeFstab()
	assert.NoError(t, err)

	lines, err := file.ReadLines(filepath.Join(rootDir, "etc/fstab"))
	assert.NoError(t, err)
	assert.Equal(t, []string{
		"UUID=uuid-loop7p3 / ext4 defaults,errors=remount-ro 0 1",
		"UUID=uuid-loop7p2 /boot/efi vfat defaults 0 2",
	}, lines)
}

func TestWriteFstabAlpine(t *testing.T) {
	installFakeExecutor(t, fakeBlkidHandler)

	configurator, rootDir := newTestBootConfigurator(t, FlavorAlpine)
	err := configurator.writeFstab()
	assert.NoError(t, err)

	lines, err := file.ReadLines(filepath.Join(rootDir, "etc/fstab"))
	assert.NoError(t, err)
	assert.Equal(t, []string{
		"UUID=uuid-loop7p3 / ext4 defaults,errors=remount-ro 0 1",
		"UUID=uuid-loop7p2 /boot/efi vfat defaults 0 2",
		"tmpfs /tmp tmpfs nosuid,nodev 0 0",
		"UUID=uuid-loop7p4 swap swap defaults 0 0",
	}, lines)
}

func TestWriteFstabAlpineWithoutSwapPartition(t *testing.T) {
	installFakeExecutor(t, fakeBlkidHandler)

	configurator, rootDir := newTestBootConfigurator(t, FlavorAlpine)
	configurator.partitions.swap = ""
	err := configurator.writeFstab()
	assert.NoError(t, err)

	lines, err := file.ReadLines(filepath.Join(rootDir, "etc/fstab"))
	assert.NoError(t, err)
	assert.Equal(t, []string{
		"UUID=uuid-loop7p3 / ext4 defaults,errors=remount-ro 0 1",
		"UUID=uuid-loop7p2 /boot/efi vfat defaults 0 2",
		"tmpfs /tmp tmpfs nosuid,nodev 0 0",
	}, lines)
}

func TestFstabDevicesUseUUIDs(t *testing.T) {
	installFakeExecutor(t, fakeBlkidHandler)

	configurator, rootDir := newTestBootConfigurator(t, FlavorAlpine)
	err := configurator.writeFstab()
	assert.NoError(t, err)

	lines, err := file.ReadLines(filepath.Join(rootDir, "etc/fstab"))
	assert.NoError(t, err)

	for _, line := range lines {
		device := strings.Fields(line)[0]
		if device == "tmpfs" {
			continue
		}
		assert.True(t, strings.HasPrefix(device, "UUID="),
			"fstab device (%s) is not referenced by UUID", device)
	}
}

func TestInstallGrubAlpineCommandLine(t *testing.T) {
	fake := installFakeExecutor(t, fakeBlkidHandler)

	configurator, rootDir := newTestBootConfigurator(t, FlavorAlpine)
	err := configurator.installGrub()
	assert.NoError(t, err)

	grubDefaults, err := file.Read(filepath.Join(rootDir, "etc/default/grub"))
	assert.NoError(t, err)
	assert.Contains(t, grubDefaults, "modules=sd-mod,usb-storage,nvme,ext4")
	assert.Contains(t, grubDefaults, "rootfstype=ext4")

	assert.True(t, fake.hasCall("grub-install --target=x86_64-efi --efi-directory="+rootDir+"/boot/efi/ --root-directory="+rootDir+" --no-floppy /dev/loop7"))
	assert.True(t, fake.hasCall("chroot "+rootDir+" grub-mkconfig -o /boot/grub/grub.cfg"))
	assert.True(t, fake.hasCall("chroot "+rootDir+" rm /boot/grub/device.map"))
}
