// Copyright (c) Container2Disk Authors.
// Licensed under the MIT License.

package logger

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestInitStderrLog(t *testing.T) {
	InitStderrLog()
	assert.NotNil(t, Log)
}

func TestMemoryLogHookCapturesMessages(t *testing.T) {
	InitStderrLog()

	hook := NewMemoryLogHook()
	AddHook(hook)

	Log.Infof("first message")
	Log.Warnf("second message")

	messages := hook.ConsumeMessages()
	assert.Len(t, messages, 2)
	assert.Equal(t, "first message", messages[0].Message)
	assert.Equal(t, logrus.InfoLevel, messages[0].Level)
	assert.Equal(t, "second message", messages[1].Message)
	assert.Equal(t, logrus.WarnLevel, messages[1].Level)

	assert.Empty(t, hook.ConsumeMessages())
}

func TestLevelsContainsDefaults(t *testing.T) {
	assert.Contains(t, Levels(), "info")
	assert.Contains(t, Levels(), "debug")
}

func TestColors(t *testing.T) {
	assert.Contains(t, Colors(), "always")
	assert.Contains(t, Colors(), "never")
	assert.Contains(t, Colors(), "auto")
}
