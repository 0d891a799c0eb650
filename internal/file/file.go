// Copyright (c) Container2Disk Authors.
// Licensed under the MIT License.

// Package file implements small filesystem helpers shared by the tool.
package file

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// PathExists reports whether the given path exists.
func PathExists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// DirExists reports whether the given path exists and is a directory.
func DirExists(path string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return info.IsDir(), nil
}

// Read returns the full contents of the file as a string.
func Read(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read file (%s):\n%w", path, err)
	}
	return string(data), nil
}

// ReadLines returns the file contents split into lines, without the trailing
// newline characters.
func ReadLines(path string) ([]string, error) {
	contents, err := Read(path)
	if err != nil {
		return nil, err
	}
	return strings.Split(strings.TrimSuffix(contents, "\n"), "\n"), nil
}

// Write replaces the file contents with the given string.
func Write(contents string, path string) error {
	return WriteWithPerm(contents, path, 0o644)
}

// WriteWithPerm replaces the file contents with the given string and mode.
func WriteWithPerm(contents string, path string, perm os.FileMode) error {
	err := os.WriteFile(path, []byte(contents), perm)
	if err != nil {
		return fmt.Errorf("failed to write file (%s):\n%w", path, err)
	}
	return nil
}

// Append appends the given string to the file, creating it if needed.
func Append(contents string, path string) error {
	handle, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open file (%s) for append:\n%w", path, err)
	}
	defer handle.Close()

	_, err = handle.WriteString(contents)
	if err != nil {
		return fmt.Errorf("failed to append to file (%s):\n%w", path, err)
	}
	return handle.Close()
}

// Copy copies a file, creating the destination's parent directory if needed.
func Copy(src string, dst string) error {
	err := os.MkdirAll(filepath.Dir(dst), 0o755)
	if err != nil {
		return fmt.Errorf("failed to create directory for (%s):\n%w", dst, err)
	}

	srcFile, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open source file (%s):\n%w", src, err)
	}
	defer srcFile.Close()

	srcInfo, err := srcFile.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat source file (%s):\n%w", src, err)
	}

	dstFile, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, srcInfo.Mode().Perm())
	if err != nil {
		return fmt.Errorf("failed to create destination file (%s):\n%w", dst, err)
	}
	defer dstFile.Close()

	_, err = io.Copy(dstFile, srcFile)
	if err != nil {
		return fmt.Errorf("failed to copy (%s) to (%s):\n%w", src, dst, err)
	}
	return dstFile.Close()
}

// RemoveFileIfExists deletes the file, ignoring a missing file.
func RemoveFileIfExists(path string) error {
	err := os.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// CommandExists reports whether the named program is on PATH.
func CommandExists(command string) (bool, error) {
	_, err := exec.LookPath(command)
	if err != nil {
		if strings.Contains(err.Error(), "executable file not found") {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
