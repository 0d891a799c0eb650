// Copyright (c) Container2Disk Authors.
// Licensed under the MIT License.

package imagebuilderlib

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/container2disk/container2disk/internal/file"
	"github.com/container2disk/container2disk/internal/logger"
	"github.com/container2disk/container2disk/internal/safechroot"
)

const (
	apkMainRepo      = "https://dl-cdn.alpinelinux.org/alpine/v3.17/main"
	apkCommunityRepo = "https://dl-cdn.alpinelinux.org/alpine/v3.17/community"
)

// runlevelSettings is the service/runlevel table a stock Alpine disk install
// ends up with. setup-alpine run inside a chroot does not produce it, so it
// is applied explicitly.
var runlevelSettings = [][2]string{
	{"bootmisc", "boot"},
	{"hostname", "boot"},
	{"hwclock", "boot"},
	{"modules", "boot"},
	{"networking", "boot"},
	{"seedrng", "boot"},
	{"swap", "boot"},
	{"sysctl", "boot"},
	{"syslog", "boot"},
	{"devfs", "sysinit"},
	{"dmesg", "sysinit"},
	{"hwdrivers", "sysinit"},
	{"mdev", "sysinit"},
	{"acpid", "default"},
	{"crond", "default"},
	{"sshd", "default"},
	{"chronyd", "default"},
	{"killprocs", "shutdown"},
	{"mount-ro", "shutdown"},
	{"savecache", "shutdown"},
}

// apkInstaller provisions Alpine images with apk and setup-alpine.
type apkInstaller struct {
	chroot   *safechroot.Chroot
	hostname string
}

func (i *apkInstaller) UpdatePackageRepos() error {
	err := i.chroot.Run("apk", "update")
	if err != nil {
		return fmt.Errorf("failed to update apk metadata:\n%w", err)
	}
	return nil
}

func (i *apkInstaller) InstallKernelAndBootloader() error {
	err := i.chroot.Run("apk", "add", "grub-efi", "mkinitfs", "alpine-conf", "busybox-openrc")
	if err != nil {
		return fmt.Errorf("failed to install bootstrap packages:\n%w", err)
	}

	// setup-alpine starts crond and acpid inside the chroot. They hold files
	// under /dev open and would block the unmounts later, so openrc shutdown
	// must run before the mounts are released.
	i.chroot.AddReleaseGuard(func() error {
		return i.chroot.Run("openrc", "shutdown")
	})

	err = i.writeAnswersFile()
	if err != nil {
		return err
	}

	err = i.chroot.RunWithEnv([]string{"USE_EFI=1", "BOOTLOADER=none"},
		"/bin/sh", "-x", "/sbin/setup-alpine", "-e", "-f", "-q", "/answers")
	if err != nil {
		return fmt.Errorf("failed to run setup-alpine:\n%w", err)
	}

	return i.reinstallWorld()
}

func (i *apkInstaller) writeAnswersFile() error {
	answers := fmt.Sprintf(`
KEYMAPOPTS="us us"
HOSTNAMEOPTS="%[1]s"
DEVDOPTS="mdev"
INTERFACESOPTS="
auto lo
iface lo inet loopback

auto eth0
iface eth0 inet dhcp
    hostname %[1]s
"
DNSOPTS="-d example.com 8.8.8.8"
TIMEZONEOPTS="UTC"
APKREPOSOPTS="-1"
USEROPTS="-a -u -g audio,video,netdev alpine"
SSHDOPTS="openssh"
NTPOPTS="chrony"
DISKOPTS="-m sys -k virt %[2]s/"
`, i.hostname, i.chroot.RootDir())

	err := file.Write(answers, i.chroot.HostPathTo("answers"))
	if err != nil {
		return fmt.Errorf("failed to write setup-alpine answers file:\n%w", err)
	}
	return nil
}

// reinstallWorld re-adds the packages listed in /etc/apk/world along with the
// base system. setup-alpine in quick mode skips openssh and chrony, and the
// container image's world file may name packages that are not yet installed.
func (i *apkInstaller) reinstallWorld() error {
	worldLines, err := file.ReadLines(i.chroot.HostPathTo("etc/apk/world"))
	if err != nil {
		return fmt.Errorf("failed to read apk world file:\n%w", err)
	}

	args := []string{
		"add",
		"--update-cache",
		"--clean-protected",
		"--repository", apkMainRepo,
		"--repository", apkCommunityRepo,
		"alpine-base",
		"linux-virt",
		"openssh",
		"chrony",
	}
	for _, line := range worldLines {
		if line != "" {
			args = append(args, line)
		}
	}

	err = i.chroot.Run("apk", args...)
	if err != nil {
		return fmt.Errorf("failed to reinstall apk world:\n%w", err)
	}
	return nil
}

func (i *apkInstaller) InstallExtraPackages(packages []string) error {
	if len(packages) == 0 {
		return nil
	}

	args := []string{"add", "--repository", apkMainRepo, "--repository", apkCommunityRepo}
	args = append(args, packages...)

	err := i.chroot.Run("apk", args...)
	if err != nil {
		return fmt.Errorf("failed to install extra packages:\n%w", err)
	}
	return nil
}

func (i *apkInstaller) ConfigureFirstBoot() error {
	// The openrc shutdown guard must run before any runlevel edits:
	// killprocs added to the shutdown runlevel inside a live chroot would
	// take the host's processes down with it.
	err := i.chroot.RunReleaseGuards()
	if err != nil {
		return fmt.Errorf("failed to shut down chroot services:\n%w", err)
	}

	// setup-alpine leaves acpid and crond in sysinit.
	for _, service := range []string{"acpid", "crond"} {
		err = i.chroot.Run("rc-update", "delete", service, "sysinit")
		if err != nil {
			return fmt.Errorf("failed to remove (%s) from sysinit:\n%w", service, err)
		}
	}

	for _, setting := range runlevelSettings {
		service, runlevel := setting[0], setting[1]
		err = i.chroot.Run("rc-update", "add", service, runlevel)
		if err != nil {
			return fmt.Errorf("failed to add (%s) to runlevel (%s):\n%w", service, runlevel, err)
		}
	}

	return nil
}

func (i *apkInstaller) RebuildInitramfs() error {
	kernelVersion, err := i.kernelVersion()
	if err != nil {
		return err
	}

	err = i.chroot.Run("mkinitfs", "-c", "/etc/mkinitfs/mkinitfs.conf", "-b", "/", kernelVersion)
	if err != nil {
		return fmt.Errorf("failed to rebuild initramfs:\n%w", err)
	}

	// Without this, the image boots with no login console on the serial
	// port.
	err = i.chroot.Run("sed", "-i", "-e", "s/^#ttyS0/ttyS0/g", "/etc/inittab")
	if err != nil {
		return fmt.Errorf("failed to enable serial console login:\n%w", err)
	}

	return nil
}

// kernelVersion returns the single kernel version installed in the image.
// mkinitfs defaults to the host's kernel version, which is wrong inside a
// chroot, so the version must be read from the image's /lib/modules.
func (i *apkInstaller) kernelVersion() (string, error) {
	modulesDir := i.chroot.HostPathTo("lib/modules")

	entries, err := os.ReadDir(modulesDir)
	if err != nil {
		return "", fmt.Errorf("failed to list (%s):\n%w", modulesDir, err)
	}

	versions := []string{}
	for _, entry := range entries {
		versions = append(versions, filepath.Base(entry.Name()))
	}

	logger.Log.Debugf("Detected kernel versions: %s", strings.Join(versions, ", "))

	if len(versions) != 1 {
		return "", &AmbiguousKernelVersionError{Versions: versions}
	}

	return versions[0], nil
}
