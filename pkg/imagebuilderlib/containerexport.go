// Copyright (c) Container2Disk Authors.
// Licensed under the MIT License.

package imagebuilderlib

import (
	"fmt"

	"github.com/container2disk/container2disk/internal/logger"
	"github.com/container2disk/container2disk/internal/shell"
	"github.com/google/uuid"
)

// exportContainerFilesystem starts a throwaway container from the image,
// exports its filesystem to a tar archive, and removes the container. The
// container gets a random name so concurrent builds on the same host don't
// collide.
func exportContainerFilesystem(imageName string, tarPath string) error {
	containerName := uuid.NewString()

	logger.Log.Infof("Exporting filesystem of image (%s)", imageName)

	err := shell.ExecuteLiveWithErr(1, "docker", "run", "-d", "--entrypoint=/bin/sh",
		"--name", containerName, imageName)
	if err != nil {
		return fmt.Errorf("failed to start container from image (%s):\n%w", imageName, err)
	}

	defer func() {
		removeErr := shell.ExecuteLiveWithErr(1, "docker", "rm", containerName)
		if removeErr != nil {
			logger.Log.Warnf("Failed to remove container (%s): %v", containerName, removeErr)
		}
	}()

	err = shell.ExecuteLiveWithErr(1, "docker", "export", "-o", tarPath, containerName)
	if err != nil {
		return fmt.Errorf("failed to export container (%s):\n%w", containerName, err)
	}

	err = shell.ExecuteLiveWithErr(1, "docker", "stop", containerName)
	if err != nil {
		return fmt.Errorf("failed to stop container (%s):\n%w", containerName, err)
	}

	return nil
}

// extractTar unpacks the exported filesystem into the mounted root. --sparse
// keeps holes in the container's files from being materialized on disk.
func extractTar(tarPath string, destDir string) error {
	logger.Log.Infof("Unpacking filesystem into (%s)", destDir)

	err := shell.ExecuteLiveWithErr(1, "tar", "--sparse", "-C", destDir, "-xf", tarPath)
	if err != nil {
		return fmt.Errorf("failed to unpack (%s) into (%s):\n%w", tarPath, destDir, err)
	}
	return nil
}
