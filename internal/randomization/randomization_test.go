// Copyright (c) Container2Disk Authors.
// Licensed under the MIT License.

package randomization

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRandomStringLength(t *testing.T) {
	value, err := RandomString(16, LegalCharactersAlphaNum)
	assert.NoError(t, err)
	assert.Len(t, value, 16)
}

func TestRandomStringUsesOnlyLegalCharacters(t *testing.T) {
	value, err := RandomString(256, LegalCharactersAlphaNum)
	assert.NoError(t, err)

	for _, c := range value {
		assert.True(t, strings.ContainsRune(LegalCharactersAlphaNum, c),
			"unexpected character (%c)", c)
	}
}

func TestRandomStringEmpty(t *testing.T) {
	value, err := RandomString(0, LegalCharactersAlphaNum)
	assert.NoError(t, err)
	assert.Empty(t, value)
}
