// Copyright (c) Container2Disk Authors.
// Licensed under the MIT License.

package imagebuilderlib

import (
	"fmt"
	"strings"
)

// PreconditionError reports an image state that makes the requested build
// step impossible. These are never retried.
type PreconditionError struct {
	Reason string
}

func (e *PreconditionError) Error() string {
	return e.Reason
}

// AmbiguousKernelVersionError reports that /lib/modules does not contain
// exactly one kernel version, so the initramfs target cannot be determined.
type AmbiguousKernelVersionError struct {
	Versions []string
}

func (e *AmbiguousKernelVersionError) Error() string {
	if len(e.Versions) == 0 {
		return "no kernel versions found under /lib/modules"
	}
	return fmt.Sprintf("multiple kernel versions found under /lib/modules: %s",
		strings.Join(e.Versions, ", "))
}
