// Copyright (c) Container2Disk Authors.
// Licensed under the MIT License.

package imagebuilderlib

import (
	"fmt"

	"github.com/container2disk/container2disk/imagegen/diskutils"
	"github.com/container2disk/container2disk/internal/logger"
)

const (
	biosBootStartSector = 2048
	biosBootSizeSectors = 2048

	efiStartSector = 4096
	efiSizeSectors = 409600

	rootStartSector = efiStartSector + efiSizeSectors

	// Alpine gets a 1 GiB swap partition at the disk tail.
	swapSizeSectors = 1 * 1024 * 1024 * 1024 / diskutils.SectorSize

	// Sectors reserved at the disk tail for the backup GPT.
	gptBackupSectors = 2048
)

// diskLayout is the set of partitions to apply, in order, and which of the
// resulting device paths serve which role.
type diskLayout struct {
	partitions []diskutils.Partition
	hasSwap    bool
}

// partitionDevPaths holds the device paths of the formatted partitions.
type partitionDevPaths struct {
	efi  string
	root string
	swap string
}

// newDiskLayout builds the fixed GPT scheme for the flavor: a BIOS boot
// partition for GRUB's core image, the EFI system partition, the ext4 root,
// and for Alpine a trailing swap partition.
func newDiskLayout(flavor Flavor, diskSizeGiB uint64) (*diskLayout, error) {
	totalSectors := diskSizeGiB * 1024 * 1024 * 1024 / diskutils.SectorSize

	layout := &diskLayout{
		partitions: []diskutils.Partition{
			{
				Number:      1,
				StartSector: biosBootStartSector,
				SizeSectors: biosBootSizeSectors,
				TypeGUID:    diskutils.BiosBootTypeGUID,
				Name:        "bios",
			},
			{
				Number:      2,
				StartSector: efiStartSector,
				SizeSectors: efiSizeSectors,
				TypeGUID:    diskutils.EfiSystemTypeGUID,
				Name:        "efi",
			},
		},
	}

	if totalSectors < rootStartSector+gptBackupSectors {
		return nil, fmt.Errorf("disk size (%d GiB) is too small", diskSizeGiB)
	}
	availableSectors := totalSectors - rootStartSector - gptBackupSectors

	// Alpine gets the trailing swap partition only when carving it out still
	// leaves the root partition at least as much space as swap takes. On
	// smaller disks the swap partition is omitted and the root extends to
	// the end.
	if flavor == FlavorAlpine && availableSectors >= 2*swapSizeSectors {
		rootSizeSectors := availableSectors - swapSizeSectors
		layout.partitions = append(layout.partitions,
			diskutils.Partition{
				Number:      3,
				StartSector: rootStartSector,
				SizeSectors: rootSizeSectors,
				TypeGUID:    diskutils.LinuxFilesystemTypeGUID,
				Name:        "root",
			},
			diskutils.Partition{
				Number:      4,
				StartSector: rootStartSector + rootSizeSectors,
				TypeGUID:    diskutils.LinuxSwapTypeGUID,
				Name:        "swap",
			})
		layout.hasSwap = true

		return layout, nil
	}

	if flavor == FlavorAlpine {
		logger.Log.Warnf("Disk size (%d GiB) leaves no room for a swap partition; omitting it", diskSizeGiB)
	}

	layout.partitions = append(layout.partitions, diskutils.Partition{
		Number:      3,
		StartSector: rootStartSector,
		TypeGUID:    diskutils.LinuxFilesystemTypeGUID,
		Name:        "root",
	})

	return layout, nil
}

// apply writes the layout to the device one partition at a time and formats
// the partitions. A failure part-way through leaves the already-written
// partitions in place.
func (l *diskLayout) apply(devicePath string) (*partitionDevPaths, error) {
	err := diskutils.CreatePartitionTable(devicePath)
	if err != nil {
		return nil, err
	}

	devPaths := &partitionDevPaths{}
	for _, partition := range l.partitions {
		partitionDevPath, err := diskutils.AppendPartition(devicePath, partition)
		if err != nil {
			return nil, err
		}

		switch partition.Name {
		case "efi":
			devPaths.efi = partitionDevPath
		case "root":
			devPaths.root = partitionDevPath
		case "swap":
			devPaths.swap = partitionDevPath
		}
	}

	err = diskutils.FormatFat32(devPaths.efi)
	if err != nil {
		return nil, err
	}

	err = diskutils.FormatExt4(devPaths.root)
	if err != nil {
		return nil, err
	}

	if l.hasSwap {
		err = diskutils.FormatSwap(devPaths.swap)
		if err != nil {
			return nil, err
		}
	}

	return devPaths, nil
}
