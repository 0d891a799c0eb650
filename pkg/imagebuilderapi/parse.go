// Copyright (c) Container2Disk Authors.
// Licensed under the MIT License.

package imagebuilderapi

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ParseConfigFile reads and validates a YAML build profile. Unknown fields
// are rejected.
func ParseConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file (%s):\n%w", path, err)
	}

	config := &Config{}
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)

	err = decoder.Decode(config)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file (%s):\n%w", path, err)
	}

	err = config.IsValid()
	if err != nil {
		return nil, fmt.Errorf("invalid config file (%s):\n%w", path, err)
	}

	return config, nil
}
