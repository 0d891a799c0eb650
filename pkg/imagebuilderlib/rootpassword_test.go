// Copyright (c) Container2Disk Authors.
// Licensed under the MIT License.

package imagebuilderlib

import (
	"strings"
	"testing"

	"github.com/container2disk/container2disk/internal/randomization"
	"github.com/container2disk/container2disk/internal/safechroot"
	"github.com/stretchr/testify/assert"
)

func TestSetRootPasswordGenerated(t *testing.T) {
	var passwdStdin string
	installFakeExecutor(t, func(call execCall) (string, string, error) {
		if len(call.args) >= 2 && call.args[1] == "passwd" {
			passwdStdin = call.stdin
		}
		return "", "", nil
	})

	chroot := safechroot.NewChroot(t.TempDir(), true)
	err := setRootPassword(chroot, "")
	assert.NoError(t, err)

	lines := strings.Split(strings.TrimSuffix(passwdStdin, "\n"), "\n")
	assert.Len(t, lines, 2)
	assert.Equal(t, lines[0], lines[1])
	assert.Len(t, lines[0], 16)

	for _, c := range lines[0] {
		assert.True(t, strings.ContainsRune(randomization.LegalCharactersAlphaNum, c))
	}
}

func TestSetRootPasswordSupplied(t *testing.T) {
	var passwdStdin string
	installFakeExecutor(t, func(call execCall) (string, string, error) {
		if len(call.args) >= 2 && call.args[1] == "passwd" {
			passwdStdin = call.stdin
		}
		return "", "", nil
	})

	chroot := safechroot.NewChroot(t.TempDir(), true)
	err := setRootPassword(chroot, "correct-horse-battery")
	assert.NoError(t, err)
	assert.Equal(t, "correct-horse-battery\ncorrect-horse-battery\n", passwdStdin)
}
