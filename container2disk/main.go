// Copyright (c) Container2Disk Authors.
// Licensed under the MIT License.

package main

import (
	"os"
	"strings"

	"github.com/container2disk/container2disk/internal/exe"
	"github.com/container2disk/container2disk/internal/logger"
	"github.com/container2disk/container2disk/pkg/imagebuilderapi"
	"github.com/container2disk/container2disk/pkg/imagebuilderlib"
	"gopkg.in/alecthomas/kingpin.v2"
)

const defaultDiskSizeGiB = 8

var (
	app = kingpin.New("container2disk", "Converts a container filesystem image into a bootable UEFI disk image.")

	createCmd     = app.Command("create", "Create a bootable disk image from a container image.")
	imageName     = createCmd.Flag("image-name", "Name of the container image to convert.").Required().String()
	outputFile    = createCmd.Flag("output-file", "Path of the output disk image. A .gz suffix enables compression.").Required().String()
	diskSize      = createCmd.Flag("disk-size", "Size of the disk image in GiB. Defaults to 8.").Uint64()
	flavor        = createCmd.Flag("flavor", "OS flavor of the container image.").Required().Enum(imagebuilderlib.Flavors()...)
	hostname      = createCmd.Flag("hostname", "Hostname to assign to the image.").String()
	rootPasswd    = createCmd.Flag("root-passwd", "Root password. A random password is generated when unset.").String()
	extraPackages = createCmd.Flag("extra-packages", "Comma separated list of extra packages to install.").String()
	configFile    = createCmd.Flag("config-file", "Optional YAML build profile.").String()
	buildDir      = createCmd.Flag("build-dir", "Directory for intermediate build files.").String()

	logFlags = exe.SetupLogFlags(app)
)

func main() {
	app.Version(exe.ToolVersion)

	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	logger.InitBestEffort(logFlags)

	switch command {
	case createCmd.FullCommand():
		err := create()
		if err != nil {
			logger.Log.Fatalf("Image creation failed: %v", err)
		}
	}
}

func create() error {
	options := imagebuilderlib.BuildOptions{
		ImageName:    *imageName,
		OutputFile:   *outputFile,
		DiskSizeGiB:  *diskSize,
		Hostname:     *hostname,
		RootPassword: *rootPasswd,
		BuildDir:     *buildDir,
	}

	if *configFile != "" {
		config, err := imagebuilderapi.ParseConfigFile(*configFile)
		if err != nil {
			return err
		}

		if config.Hostname != "" && options.Hostname == "" {
			options.Hostname = config.Hostname
		}
		if config.DiskSize != 0 && options.DiskSizeGiB == 0 {
			options.DiskSizeGiB = config.DiskSize
		}
		options.ExtraPackages = config.ExtraPackages
		if config.RootPassword != "" && options.RootPassword == "" {
			options.RootPassword = config.RootPassword
		}
	}

	if options.DiskSizeGiB == 0 {
		options.DiskSizeGiB = defaultDiskSizeGiB
	}
	if *extraPackages != "" {
		options.ExtraPackages = splitPackages(*extraPackages)
	}

	parsedFlavor, err := imagebuilderlib.ParseFlavor(*flavor)
	if err != nil {
		return err
	}
	options.Flavor = parsedFlavor

	err = imagebuilderlib.VerifyDependencies()
	if err != nil {
		return err
	}

	return imagebuilderlib.CreateImage(options)
}

func splitPackages(value string) []string {
	packages := []string{}
	for _, pkg := range strings.Split(value, ",") {
		pkg = strings.TrimSpace(pkg)
		if pkg != "" {
			packages = append(packages, pkg)
		}
	}
	return packages
}
