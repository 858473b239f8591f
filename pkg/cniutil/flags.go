// Copyright 2017 Microsoft. All rights reserved.
// MIT License

package cniutil

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"
)

// Version is the build version of this plugin suite, overridden at link
// time with -ldflags "-X github.com/cni-kv/plugins/pkg/cniutil.Version=...".
var Version = "v1.0.0"

// ParseFlags handles the one flag every plugin binary accepts, --version,
// which prints the build version and exits. CNI runtimes invoke plugins
// with no arguments, so under the normal exec protocol this is inert; it
// exists for operators poking at the installed binaries by hand.
func ParseFlags(pluginName string) {
	printVersion := pflag.BoolP("version", "v", false, "print version and exit")
	pflag.Parse()
	if *printVersion {
		fmt.Printf("%s %s\n", pluginName, Version)
		os.Exit(0)
	}
}
