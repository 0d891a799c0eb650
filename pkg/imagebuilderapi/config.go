// Copyright (c) Container2Disk Authors.
// Licensed under the MIT License.

// Package imagebuilderapi defines the build profile config file format.
package imagebuilderapi

import (
	"fmt"

	"github.com/asaskevich/govalidator"
)

// Config is the optional YAML build profile. Values set here act as defaults;
// command line flags override them.
type Config struct {
	// Hostname to assign to the built image.
	Hostname string `yaml:"hostname"`

	// DiskSize is the backing image size in GiB.
	DiskSize uint64 `yaml:"diskSize"`

	// ExtraPackages are installed after the kernel and bootloader.
	ExtraPackages []string `yaml:"extraPackages"`

	// RootPassword, when set, is used instead of a generated password.
	RootPassword string `yaml:"rootPassword"`
}

// IsValid reports whether the config's values are usable.
func (c *Config) IsValid() error {
	if c.Hostname != "" && !govalidator.IsDNSName(c.Hostname) {
		return fmt.Errorf("invalid hostname (%s)", c.Hostname)
	}

	for _, pkg := range c.ExtraPackages {
		if pkg == "" {
			return fmt.Errorf("extraPackages must not contain empty entries")
		}
	}

	return nil
}
