// Copyright (c) Container2Disk Authors.
// Licensed under the MIT License.

// Package retry runs a function a bounded number of times. The pipeline never
// retries failed steps; this is only used to wait for kernel device nodes to
// settle after partition table changes.
package retry

import (
	"time"
)

// Run calls function up to attempts times, sleeping between attempts, until
// it succeeds. The last error is returned if all attempts fail.
func Run(function func() error, attempts int, sleep time.Duration) (err error) {
	for i := 0; i < attempts; i++ {
		if i != 0 {
			time.Sleep(sleep)
		}

		err = function()
		if err == nil {
			return nil
		}
	}
	return err
}

// RunWithExpBackoff is like Run but doubles the sleep after every attempt.
func RunWithExpBackoff(function func() error, attempts int, initialSleep time.Duration) (err error) {
	sleep := initialSleep
	for i := 0; i < attempts; i++ {
		if i != 0 {
			time.Sleep(sleep)
			sleep *= 2
		}

		err = function()
		if err == nil {
			return nil
		}
	}
	return err
}
