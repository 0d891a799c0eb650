// Copyright (c) Container2Disk Authors.
// Licensed under the MIT License.

package imagebuilderlib

import (
	"fmt"
)

// Flavor identifies the OS family inside the container image, which selects
// the package manager, kernel package, and first-boot configuration.
type Flavor string

const (
	FlavorDebian Flavor = "debian"
	FlavorUbuntu Flavor = "ubuntu"
	FlavorAlpine Flavor = "alpine"
)

// Flavors lists the supported flavor names.
func Flavors() []string {
	return []string{string(FlavorDebian), string(FlavorUbuntu), string(FlavorAlpine)}
}

// ParseFlavor converts a flavor name into a Flavor.
func ParseFlavor(value string) (Flavor, error) {
	switch Flavor(value) {
	case FlavorDebian, FlavorUbuntu, FlavorAlpine:
		return Flavor(value), nil
	default:
		return "", fmt.Errorf("unsupported flavor (%s): expected one of %v", value, Flavors())
	}
}
