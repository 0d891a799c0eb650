// Copyright (c) Container2Disk Authors.
// Licensed under the MIT License.

package retry

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRunSucceedsFirstTry(t *testing.T) {
	calls := 0
	err := Run(func() error {
		calls++
		return nil
	}, 3, time.Nanosecond)

	assert.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestRunRetriesUntilSuccess(t *testing.T) {
	calls := 0
	err := Run(func() error {
		calls++
		if calls < 3 {
			return fmt.Errorf("not yet")
		}
		return nil
	}, 5, time.Nanosecond)

	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRunReturnsLastError(t *testing.T) {
	calls := 0
	err := Run(func() error {
		calls++
		return fmt.Errorf("attempt %d", calls)
	}, 3, time.Nanosecond)

	assert.EqualError(t, err, "attempt 3")
	assert.Equal(t, 3, calls)
}

func TestRunWithExpBackoffRetriesUntilSuccess(t *testing.T) {
	calls := 0
	err := RunWithExpBackoff(func() error {
		calls++
		if calls < 4 {
			return fmt.Errorf("not yet")
		}
		return nil
	}, 6, time.Nanosecond)

	assert.NoError(t, err)
	assert.Equal(t, 4, calls)
}

func TestRunWithExpBackoffReturnsLastError(t *testing.T) {
	calls := 0
	err := RunWithExpBackoff(func() error {
		calls++
		return fmt.Errorf("attempt %d", calls)
	}, 3, time.Nanosecond)

	assert.EqualError(t, err, "attempt 3")
	assert.Equal(t, 3, calls)
}
