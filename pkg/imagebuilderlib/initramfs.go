// Copyright (c) Container2Disk Authors.
// Licensed under the MIT License.

package imagebuilderlib

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/cavaliercoder/go-cpio"
	"github.com/container2disk/container2disk/internal/logger"
	"github.com/klauspost/pgzip"
)

// verifyInitramfs opens the rebuilt initramfs (a gzip'd cpio archive) and
// confirms it contains files. A truncated or empty initramfs produces an
// image that panics at boot, long after this tool has reported success.
func verifyInitramfs(rootDir string) error {
	initramfsPath, err := findInitramfs(rootDir)
	if err != nil {
		return err
	}
	if initramfsPath == "" {
		logger.Log.Warnf("No initramfs found under (%s)/boot; skipping verification", rootDir)
		return nil
	}

	entryCount, err := countInitramfsEntries(initramfsPath)
	if err != nil {
		return fmt.Errorf("failed to inspect initramfs (%s):\n%w", initramfsPath, err)
	}

	logger.Log.Debugf("Initramfs (%s) contains (%d) entries", initramfsPath, entryCount)

	if entryCount == 0 {
		return &PreconditionError{
			Reason: fmt.Sprintf("initramfs (%s) is empty", initramfsPath),
		}
	}

	return nil
}

func findInitramfs(rootDir string) (string, error) {
	for _, pattern := range []string{"boot/initrd.img-*", "boot/initramfs-*"} {
		matches, err := filepath.Glob(filepath.Join(rootDir, pattern))
		if err != nil {
			return "", err
		}
		if len(matches) != 0 {
			return matches[len(matches)-1], nil
		}
	}
	return "", nil
}

func countInitramfsEntries(initramfsPath string) (int, error) {
	initramfsFile, err := os.Open(initramfsPath)
	if err != nil {
		return 0, err
	}
	defer initramfsFile.Close()

	gzipReader, err := pgzip.NewReader(initramfsFile)
	if err != nil {
		return 0, err
	}
	defer gzipReader.Close()

	cpioReader := cpio.NewReader(gzipReader)

	entryCount := 0
	for {
		_, err := cpioReader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return entryCount, err
		}
		entryCount++
	}

	return entryCount, nil
}
