// Copyright (c) Container2Disk Authors.
// Licensed under the MIT License.

package imagebuilderapi

import (
	"path/filepath"
	"testing"

	"github.com/container2disk/container2disk/internal/file"
	"github.com/stretchr/testify/assert"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "build.yaml")
	err := file.Write(contents, path)
	assert.NoError(t, err)
	return path
}

func TestParseConfigFile(t *testing.T) {
	path := writeConfig(t, `
hostname: buildbox
diskSize: 16
extraPackages:
  - vim
  - curl
rootPassword: hunter2hunter2
`)

	config, err := ParseConfigFile(path)
	assert.NoError(t, err)
	assert.Equal(t, "buildbox", config.Hostname)
	assert.Equal(t, uint64(16), config.DiskSize)
	assert.Equal(t, []string{"vim", "curl"}, config.ExtraPackages)
	assert.Equal(t, "hunter2hunter2", config.RootPassword)
}

func TestParseConfigFileRejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, `
hostname: buildbox
swapSize: 4
`)

	_, err := ParseConfigFile(path)
	assert.Error(t, err)
}

func TestParseConfigFileRejectsBadHostname(t *testing.T) {
	path := writeConfig(t, `
hostname: "not a hostname!"
`)

	_, err := ParseConfigFile(path)
	assert.ErrorContains(t, err, "invalid hostname")
}

func TestConfigIsValidRejectsEmptyPackage(t *testing.T) {
	config := &Config{
		ExtraPackages: []string{"vim", ""},
	}

	err := config.IsValid()
	assert.ErrorContains(t, err, "extraPackages")
}

func TestConfigIsValidEmptyConfig(t *testing.T) {
	config := &Config{}
	assert.NoError(t, config.IsValid())
}

func TestParseConfigFileMissing(t *testing.T) {
	_, err := ParseConfigFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
