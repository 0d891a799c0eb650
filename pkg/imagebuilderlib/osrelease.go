// Copyright (c) Container2Disk Authors.
// Licensed under the MIT License.

package imagebuilderlib

import (
	"path/filepath"

	"github.com/container2disk/container2disk/internal/file"
	"github.com/container2disk/container2disk/internal/logger"
	"gopkg.in/ini.v1"
)

// probeOsRelease reads the unpacked root's /etc/os-release and logs the
// detected OS. A mismatch with the requested flavor is only a warning: the
// flavor flag stays authoritative.
func probeOsRelease(rootDir string, flavor Flavor) {
	osReleasePath := filepath.Join(rootDir, "etc/os-release")

	exists, err := file.PathExists(osReleasePath)
	if err != nil || !exists {
		logger.Log.Warnf("Unpacked root has no /etc/os-release; cannot verify flavor (%s)", flavor)
		return
	}

	// os-release is shell variable assignments, which the INI parser reads
	// as a sectionless key/value file.
	osRelease, err := ini.Load(osReleasePath)
	if err != nil {
		logger.Log.Warnf("Failed to parse (%s): %v", osReleasePath, err)
		return
	}

	section := osRelease.Section("")
	id := section.Key("ID").String()
	prettyName := section.Key("PRETTY_NAME").String()

	logger.Log.Infof("Unpacked root reports OS (%s) (%s)", id, prettyName)

	if id != "" && id != string(flavor) {
		logger.Log.Warnf("Requested flavor (%s) does not match the image's os-release ID (%s)", flavor, id)
	}
}
