// Copyright (c) Container2Disk Authors.
// Licensed under the MIT License.

// Package randomization generates random strings from a restricted alphabet.
package randomization

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
)

const (
	LegalCharactersAlphaNum = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

// RandomString returns a string of the given length built from legalCharacters,
// using a cryptographic source of randomness.
func RandomString(length int, legalCharacters string) (string, error) {
	builder := strings.Builder{}
	builder.Grow(length)

	max := big.NewInt(int64(len(legalCharacters)))
	for i := 0; i < length; i++ {
		index, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("failed to read random number:\n%w", err)
		}
		builder.WriteByte(legalCharacters[index.Int64()])
	}

	return builder.String(), nil
}
