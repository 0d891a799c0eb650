// Copyright (c) Container2Disk Authors.
// Licensed under the MIT License.

package imagebuilderlib

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/container2disk/container2disk/internal/file"
	"github.com/container2disk/container2disk/internal/logger"
	"github.com/klauspost/pgzip"
)

// writeOutputImage copies the finished disk image to the output path. An
// output path ending in .gz gets a gzip-compressed copy instead, which
// collapses the sparse regions.
func writeOutputImage(diskFilePath string, outputFilePath string) error {
	logger.Log.Infof("Writing output image (%s)", outputFilePath)

	if !strings.HasSuffix(outputFilePath, ".gz") {
		return file.Copy(diskFilePath, outputFilePath)
	}

	diskFile, err := os.Open(diskFilePath)
	if err != nil {
		return fmt.Errorf("failed to open disk image (%s):\n%w", diskFilePath, err)
	}
	defer diskFile.Close()

	outputFile, err := os.Create(outputFilePath)
	if err != nil {
		return fmt.Errorf("failed to create output file (%s):\n%w", outputFilePath, err)
	}
	defer outputFile.Close()

	gzipWriter := pgzip.NewWriter(outputFile)

	_, err = io.Copy(gzipWriter, diskFile)
	if err != nil {
		return fmt.Errorf("failed to compress output image:\n%w", err)
	}

	err = gzipWriter.Close()
	if err != nil {
		return fmt.Errorf("failed to finish compressing output image:\n%w", err)
	}

	return outputFile.Close()
}
