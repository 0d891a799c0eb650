// Copyright (c) Container2Disk Authors.
// Licensed under the MIT License.

package imagebuilderlib

import (
	"fmt"

	"github.com/container2disk/container2disk/internal/logger"
	"github.com/container2disk/container2disk/internal/randomization"
	"github.com/container2disk/container2disk/internal/safechroot"
	"github.com/muesli/crunchy"
)

const generatedPasswordLength = 16

// setRootPassword sets the image's root password. A caller-supplied password
// is rated and used as-is; otherwise a random alphanumeric password is
// generated and reported to the operator.
func setRootPassword(chroot *safechroot.Chroot, suppliedPassword string) error {
	password := suppliedPassword
	if password == "" {
		generated, err := randomization.RandomString(generatedPasswordLength,
			randomization.LegalCharactersAlphaNum)
		if err != nil {
			return fmt.Errorf("failed to generate root password:\n%w", err)
		}

		password = generated
		logger.Log.Infof("Generated root password: %s", password)
	} else {
		err := crunchy.NewValidator().Check(password)
		if err != nil {
			logger.Log.Warnf("Supplied root password is weak: %v", err)
		}
	}

	err := chroot.RunWithStdin(password+"\n"+password+"\n", "passwd")
	if err != nil {
		return fmt.Errorf("failed to set root password:\n%w", err)
	}

	return nil
}
